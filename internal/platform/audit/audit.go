package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/db"
)

// Actions written by the alerting services.
const (
	ActionCreate               = "CREATE"
	ActionAcknowledge          = "ACKNOWLEDGE"
	ActionDismiss              = "DISMISS"
	ActionDrugInteractionCheck = "DRUG_INTERACTION_CHECK"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Actor      string    `json:"actor"`
	ActorRole  string    `json:"actor_role,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	PatientID  string    `json:"patient_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, e *Entry) error
}

// PGSink writes entries to the audit_log table. Inside a transaction started by
// db.WithTx the entry commits or rolls back with the audited change.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Record(ctx context.Context, e *Entry) error {
	stamp(e)
	const query = `INSERT INTO audit_log (id, actor, actor_role, action, entity_type, entity_id, patient_id, detail, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	args := []any{e.ID, e.Actor, e.ActorRole, e.Action, e.EntityType, e.EntityID, e.PatientID, e.Detail, e.RecordedAt}

	if tx := db.TxFromContext(ctx); tx != nil {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("audit: insert: %w", err)
		}
		return nil
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// LogSink emits entries as structured log lines for log shipping.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e *Entry) error {
	stamp(e)
	s.logger.Info().
		Str("type", "audit").
		Str("audit_id", e.ID.String()).
		Str("actor", e.Actor).
		Str("actor_role", e.ActorRole).
		Str("action", e.Action).
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID).
		Str("patient_id", e.PatientID).
		Str("detail", e.Detail).
		Time("recorded_at", e.RecordedAt).
		Msg("audit")
	return nil
}

func stamp(e *Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
}

// Tee records to primary and, only once that succeeds, to each mirror.
// Mirror failures are not reported: the primary is the record of truth.
func Tee(primary Sink, mirrors ...Sink) Sink {
	return teeSink{primary: primary, mirrors: mirrors}
}

type teeSink struct {
	primary Sink
	mirrors []Sink
}

func (t teeSink) Record(ctx context.Context, e *Entry) error {
	if err := t.primary.Record(ctx, e); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		_ = m.Record(ctx, e)
	}
	return nil
}
