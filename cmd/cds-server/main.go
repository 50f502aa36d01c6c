package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/cdsengine/internal/config"
	"github.com/ehr/cdsengine/internal/domain/alert"
	"github.com/ehr/cdsengine/internal/domain/interaction"
	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/events"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cds-server",
		Short:        "Clinical decision support and alerting service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(kbCmd())
	root.AddCommand(alertsCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CDS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "cds-server").Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// kbCmd inspects the built-in interaction knowledge base without a database.
func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect the drug interaction knowledge base",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count curated interaction pairs by severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printKBStats(cmd.OutOrStdout(), interaction.NewKnowledgeBase())
		},
	})

	lookup := &cobra.Command{
		Use:   "lookup DRUG [OTHER]",
		Short: "List interactions for a drug, or for one pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb := interaction.NewKnowledgeBase()
			var records []interaction.Record
			if len(args) == 2 {
				if r, ok := kb.Find(args[0], args[1]); ok {
					records = append(records, r)
				}
			} else {
				records = kb.FindFor(args[0])
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return printRecords(cmd.OutOrStdout(), records, asJSON)
		},
	}
	lookup.Flags().Bool("json", false, "Print records as JSON")
	cmd.AddCommand(lookup)

	return cmd
}

func printKBStats(out io.Writer, kb *interaction.KnowledgeBase) error {
	counts := kb.CountBySeverity()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tPAIRS")
	for _, sev := range []interaction.Severity{
		interaction.SeverityContraindicated,
		interaction.SeverityMajor,
		interaction.SeverityModerate,
		interaction.SeverityMinor,
	} {
		fmt.Fprintf(w, "%s\t%d\n", sev, counts[sev])
	}
	fmt.Fprintf(w, "TOTAL\t%d\n", kb.Len())
	return w.Flush()
}

func printRecords(out io.Writer, records []interaction.Record, asJSON bool) error {
	if asJSON {
		if records == nil {
			records = []interaction.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No known interactions.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DRUG A\tDRUG B\tSEVERITY\tRECOMMENDATION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.DrugA, r.DrugB, r.Severity, r.Recommendation)
	}
	return w.Flush()
}

// alertsCmd follows the alert event stream published by running servers.
func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Alert event tools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print alert events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required to watch alert events")
			}
			logger := newLogger(cfg.Env, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := events.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			msgs, err := events.NewRedisBus(client, logger).Subscribe(ctx, cfg.AlertChannel)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", cfg.AlertChannel)
			return watchAlerts(ctx, msgs, cmd.OutOrStdout())
		},
	})
	return cmd
}

func watchAlerts(ctx context.Context, msgs <-chan []byte, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var evt alert.Event
			if err := json.Unmarshal(raw, &evt); err != nil {
				fmt.Fprintf(out, "unreadable event: %s\n", raw)
				continue
			}
			fmt.Fprintln(out, formatEvent(evt))
		}
	}
}

func formatEvent(evt alert.Event) string {
	return fmt.Sprintf("%s  %-18s %-8s %-26s patient=%s alert=%s by=%s",
		evt.OccurredAt.Format("2006-01-02 15:04:05"), evt.Type, evt.Severity, evt.AlertType,
		evt.PatientID, evt.AlertID, evt.Actor)
}
