// Command assessd runs the assessment core: the HTTP API plus its two
// scheduled background jobs (session timeout sweep, psychometric analyser).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/meridianhr/assesscore/internal/activity"
	"github.com/meridianhr/assesscore/internal/assembly"
	"github.com/meridianhr/assesscore/internal/auth"
	"github.com/meridianhr/assesscore/internal/collab"
	"github.com/meridianhr/assesscore/internal/config"
	"github.com/meridianhr/assesscore/internal/passport"
	"github.com/meridianhr/assesscore/internal/psychometrics"
	"github.com/meridianhr/assesscore/internal/ratelimit"
	"github.com/meridianhr/assesscore/internal/scoring"
	"github.com/meridianhr/assesscore/internal/selector"
	"github.com/meridianhr/assesscore/internal/server"
	"github.com/meridianhr/assesscore/internal/session"
	"github.com/meridianhr/assesscore/internal/storage"
	"github.com/meridianhr/assesscore/internal/telemetry"
	"github.com/meridianhr/assesscore/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("ASSESSCORE_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("assessd starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// An empty JWTPrivateKeyPath/JWTPublicKeyPath pair runs with an
	// ephemeral, process-lifetime Ed25519 key — fine for local dev, never
	// for a multi-replica deployment, where every replica must share keys.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Rate limiting is Redis-backed when configured, otherwise disabled —
	// server.New treats a nil Limiter as "skip this middleware".
	var anonLimiter, submitLimiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		lim := ratelimit.New(client, logger, cfg.RateLimitFailClosed)
		defer lim.Close()
		anonLimiter = lim
		submitLimiter = lim
		logger.Info("rate limiting: redis-backed sliding window", "fail_closed", cfg.RateLimitFailClosed)
	} else {
		logger.Info("rate limiting: disabled (no REDIS_URL)")
	}

	// O*NET and team-saturation profiles are collaborator systems outside
	// this service's scope (SPEC_FULL.md Non-goals). Until a real
	// integration exists, the static in-memory doubles satisfy the
	// interfaces with no entries, so blueprint resolution simply treats
	// every occupation/team lookup as "no profile available" rather than
	// erroring at import time.
	onet := &collab.StaticONetProvider{}
	teams := &collab.StaticTeamProvider{}

	sel := selector.New(db)
	assembler := assembly.New(db, sel)
	passportSvc := passport.New(db, cfg.DefaultPassportMaxAgeDays)
	activitySink := activity.NewSink(db, logger)
	activitySink.Start(ctx, cfg.EventFlushTimeout)

	scoringOrch := scoring.New(db, onet, teams, passportSvc, activitySink, logger)
	sessionEngine := session.New(db, assembler, db, onet, teams, passportSvc, scoringOrch, logger, cfg.SessionIdleTimeout)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		SessionEngine:       sessionEngine,
		PassportSvc:         passportSvc,
		Logger:              logger,
		AnonStartLimiter:    anonLimiter,
		AnonStartRule:       ratelimit.Rule{Prefix: "anon-start", Limit: cfg.AnonStartLimit, Window: cfg.AnonStartWindow},
		SubmitAnswerLimiter: submitLimiter,
		SubmitAnswerRule:    ratelimit.Rule{Prefix: "submit-answer", Limit: cfg.SubmitAnswerLimit, Window: cfg.SubmitAnswerWindow},
		AdminAPIKeyHash:     cfg.AdminAPIKey,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	// Scheduled jobs: session timeout sweep (fine-grained, raw ticker) and
	// the psychometric analyser (coarse, cron-driven across replicas via
	// the distributed scheduler_locks table).
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go sessionSweepLoop(sweepCtx, sessionEngine, logger, cfg.SessionSweepInterval)

	analyser := psychometrics.New(db, cfg.SchedulerInstanceID, logger)
	c := cron.New()
	if _, err := c.AddFunc(cfg.PsychometricAnalysisSchedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 25*time.Minute)
		defer cancel()
		if err := analyser.Run(runCtx); err != nil {
			logger.Error("psychometric analyser run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule psychometric analyser: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("assessd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	activitySink.Drain(shutdownCtx)

	logger.Info("assessd stopped")
	return nil
}

// sessionSweepLoop periodically calls Tick to transition stale InProgress
// sessions to TimedOut or Abandoned (SPEC_FULL.md §5.E).
func sessionSweepLoop(ctx context.Context, engine *session.Engine, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			if err := engine.Tick(opCtx); err != nil {
				logger.Warn("session sweep failed", "error", err)
			}
			cancel()
		}
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
