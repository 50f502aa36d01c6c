package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/config"
	"github.com/ehr/cdsengine/internal/domain/alert"
	"github.com/ehr/cdsengine/internal/domain/interaction"
	"github.com/ehr/cdsengine/internal/domain/news2"
	"github.com/ehr/cdsengine/internal/platform/audit"
	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/events"
	"github.com/ehr/cdsengine/internal/platform/middleware"
	"github.com/ehr/cdsengine/internal/platform/websocket"
)

const version = "0.1.0"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: unauthenticated requests run as ADMIN; do not use in production")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := []db.Check{db.PoolCheck(pool)}

	hub := websocket.NewHub(logger.With().Str("component", "stream").Logger())
	var bus events.Bus = events.Fanout{events.NewLogBus(logger), hub}
	var limiter middleware.Limiter = middleware.NewMemoryLimiter(rateLimitConfig(cfg))
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer client.Close()
		redisBus := events.NewRedisBus(client, logger)
		bus = redisBus
		msgs, err := redisBus.Subscribe(ctx, cfg.AlertChannel)
		if err != nil {
			logger.Error().Err(err).Msg("failed to subscribe to alert channel")
			return err
		}
		go hub.Consume(ctx, msgs)
		limiter = redisLimiter(client, cfg)
		checks = append(checks, db.Check{Name: "redis", Ping: redisBus.Ping})
		logger.Info().Str("channel", cfg.AlertChannel).Msg("publishing alert events to redis")
	}

	e := newServer(cfg, logger, limiter)
	api := e.Group("/api/v1")
	registerDomain(api, pool, bus, cfg.AlertChannel, logger)
	websocket.NewHandler(hub, alert.NewAppointmentDirectoryPG(pool), cfg.CORSOrigins).RegisterRoutes(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(checks...))
	e.GET("/health/pool", db.PoolStatsHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware chain.
// Health endpoints sit outside /api/v1 and skip authentication.
func newServer(cfg *config.Config, logger zerolog.Logger, limiter middleware.Limiter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	authMW := authMiddleware(cfg)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		authed := authMW(next)
		return func(c echo.Context) error {
			if isHealthPath(c.Request().URL.Path) {
				return next(c)
			}
			return authed(c)
		}
	})
	e.Use(middleware.RateLimit(limiter, logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.PatientAccess(logger))
	return e
}

func isHealthPath(path string) bool {
	switch path {
	case "/health", "/health/db", "/health/pool":
		return true
	}
	return false
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

// redisLimiter shares the burst allowance across replicas as a per-second window.
func redisLimiter(client *redis.Client, cfg *config.Config) *middleware.RedisLimiter {
	return middleware.NewRedisLimiter(client, rateLimitConfig(cfg).BurstSize, time.Second)
}

// registerDomain wires repositories, services and handlers onto the API group.
func registerDomain(api *echo.Group, pool *pgxpool.Pool, bus events.Bus, channel string, logger zerolog.Logger) {
	sink := audit.Tee(audit.NewPGSink(pool), audit.NewLogSink(logger.With().Str("component", "audit").Logger()))
	tx := db.NewTransactor(pool)

	alertSvc := alert.NewService(
		alert.NewRepoPG(pool),
		tx,
		alert.NewPatientDirectoryPG(pool),
		alert.NewAppointmentDirectoryPG(pool),
		sink, bus, channel,
		logger.With().Str("component", "alerts").Logger(),
	)
	alert.NewHandler(alertSvc).RegisterRoutes(api)

	news2Svc := news2.NewService(
		news2.NewVitalsRepoPG(pool),
		alertSvc,
		logger.With().Str("component", "news2").Logger(),
	)
	news2.NewHandler(news2Svc).RegisterRoutes(api)

	checker := interaction.NewService(
		interaction.NewKnowledgeBase(),
		interaction.NewMedicationRepoPG(pool),
		interaction.NewAllergyRepoPG(pool),
		alertSvc, sink, tx,
		logger.With().Str("component", "interactions").Logger(),
	)
	interaction.NewHandler(checker).RegisterRoutes(api)
}
