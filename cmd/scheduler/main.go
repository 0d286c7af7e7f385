package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voicecrm_backend/internal/adapters/storage"
	"voicecrm_backend/internal/events"
	"voicecrm_backend/internal/scheduler"
	"voicecrm_backend/internal/voice"
	"voicecrm_backend/internal/voice/provider"
	"voicecrm_backend/platform/config"
	"voicecrm_backend/platform/db"
	"voicecrm_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()
	repo := voice.NewRepository(pool)

	expiryInterval := getDurationEnv("VOICE_SESSION_EXPIRY_INTERVAL", 15*time.Minute)
	sessionExpiry := scheduler.NewSessionExpiry(repo, log, expiryInterval, cfg.GetVoiceSessionStaleAfter())
	go sessionExpiry.Run(ctx)

	var archive scheduler.ArchiveDeps
	if cfg.GetVoiceRecordingArchiveEnabled() {
		archive = initRecordingArchive(ctx, cfg, repo, log)
	} else {
		log.Info("recording archive disabled")
	}

	worker, err := scheduler.NewWorker(cfg, repo, archive, eventBus, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

// initRecordingArchive wires the MinIO store and starts the dispatcher that
// feeds archive tasks to the worker.
func initRecordingArchive(ctx context.Context, cfg *config.Config, repo *voice.Repository, log *logger.Logger) scheduler.ArchiveDeps {
	store, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}

	bucket := cfg.GetMinioBucketCallRecordings()
	if err := withRetry(ctx, log, "ensure call-recordings bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}

	dispatcher, err := scheduler.NewRecordingArchiveDispatcher(cfg, repo, log)
	if err != nil {
		log.Error("failed to initialize recording archive dispatcher", "error", err)
		panic("failed to initialize recording archive dispatcher: " + err.Error())
	}
	go func() {
		dispatcher.Run(ctx)
		_ = dispatcher.Close()
	}()

	log.Info("recording archive enabled", "bucket", bucket)
	return scheduler.ArchiveDeps{
		Audio:      provider.New(cfg, log),
		Store:      store,
		Bucket:     bucket,
		Recordings: repo,
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
