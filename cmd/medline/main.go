package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hray3182/medline/internal/ai"
	"github.com/hray3182/medline/internal/api"
	"github.com/hray3182/medline/internal/bot"
	"github.com/hray3182/medline/internal/config"
	"github.com/hray3182/medline/internal/database"
	"github.com/hray3182/medline/internal/delivery"
	"github.com/hray3182/medline/internal/engine"
	"github.com/hray3182/medline/internal/kvstore"
	"github.com/hray3182/medline/internal/logging"
	"github.com/hray3182/medline/internal/metrics"
	"github.com/hray3182/medline/internal/repository"
	"github.com/hray3182/medline/internal/scheduler"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("medline stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	meds, closeMeds, err := openMedicationStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMeds()

	kv, err := kvstore.Open(cfg.BadgerPath)
	if err != nil {
		return err
	}
	defer kv.Close()

	m := metrics.New()
	timer := scheduler.New(logger.Named("scheduler"), m, scheduler.Options{
		CheckInterval: cfg.TimerCheckInterval,
		MaxConcurrent: cfg.MaxConcurrentDeliveries,
	})

	logPresenter := delivery.NewLogPresenter(logger.Named("reminder"))
	eng := engine.New(meds, kv, timer, logPresenter, logger.Named("engine"), m, engine.Options{
		Location:             loc,
		DefaultSnooze:        cfg.DefaultSnooze,
		PersistTimeout:       cfg.PersistTimeout,
		FireGrace:            cfg.TimerCheckInterval,
		ReconcileSchedule:    cfg.ReconcileSchedule,
		DailySummarySchedule: cfg.DailySummarySchedule,
	})

	// Initialize AI client (optional)
	var aiClient *ai.Client
	if cfg.AIEnabled() {
		aiClient = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, loc)
		logger.Info("AI client initialized", zap.String("model", cfg.AIModel))
	} else {
		logger.Info("AI client not configured, natural language entry disabled")
	}

	var b *bot.Bot
	if cfg.TelegramToken != "" {
		b, err = bot.New(cfg.TelegramToken, cfg.TelegramChatID, eng, aiClient, logger.Named("bot"))
		if err != nil {
			return err
		}
		presenter := bot.NewPresenter(b.API(), cfg.TelegramChatID, logger.Named("presenter"), bot.PresenterOptions{
			Location:      loc,
			DefaultSnooze: cfg.DefaultSnooze,
			RatePerSec:    cfg.NotifyRatePerSec,
		})
		eng.SetPresenter(delivery.Fallback{Primary: presenter, Secondary: logPresenter})
		eng.SetSummarySink(presenter)
	} else {
		logger.Warn("TELEGRAM_TOKEN not set, reminders are only logged")
	}

	server := api.New(eng, m, logger.Named("api"))

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	start("engine", eng.Start)
	start("api", func(ctx context.Context) error { return server.Start(ctx, cfg.HTTPAddr) })
	if b != nil {
		start("bot", b.Start)
	}

	logger.Info("medline started", zap.String("timezone", loc.String()), zap.String("driver", cfg.DatabaseDriver))
	<-ctx.Done()
	logger.Info("Shutting down...")
	wg.Wait()

	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openMedicationStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (engine.MedicationStore, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		db, err := database.New(ctx, cfg.DatabaseURI, logger.Named("database"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to database")

		// Run migrations
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Database migrations completed")
		return repository.NewMedicationRepository(db), db.Close, nil
	default:
		repo, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Opened SQLite database", zap.String("path", cfg.SQLitePath))
		return repo, func() { _ = repo.Close() }, nil
	}
}
