package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesops_backend/internal/adapters/storage"
	"salesops_backend/internal/email"
	"salesops_backend/internal/events"
	"salesops_backend/internal/kiwify"
	leadrepo "salesops_backend/internal/leads/repository"
	"salesops_backend/internal/ledger"
	"salesops_backend/internal/outreach"
	"salesops_backend/internal/reconcile"
	"salesops_backend/internal/scheduler"
	"salesops_backend/internal/whatsapp"
	"salesops_backend/platform/config"
	"salesops_backend/platform/db"
	"salesops_backend/platform/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	if cfg.GetRedisURL() == "" {
		panic("REDIS_URL is required for the scheduler")
	}

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

	var alertSender email.Sender
	if smtpSender := email.NewSMTPSender(cfg); smtpSender != nil {
		alertSender = smtpSender
	}
	email.NewAlertNotifier(alertSender, cfg.GetAlertRecipients(), log).Subscribe(eventBus)

	rdb, err := ledger.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()
	claims := ledger.NewClaims(rdb)

	leads := leadrepo.New(pool)
	ledgerRepo := ledger.New(pool)

	var archive reconcile.PageArchive
	if cfg.IsMinIOEnabled() {
		if store, err := storage.NewMinIOService(cfg); err != nil {
			log.Error("failed to initialize storage service", "error", err)
		} else if a, err := reconcile.NewObjectArchive(ctx, store, cfg.GetMinioBucketSyncArchive()); err != nil {
			log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinioBucketSyncArchive())
		} else {
			archive = a
		}
	}

	reconcileSvc := reconcile.New(
		leads,
		ledgerRepo,
		kiwify.NewClient(cfg, log),
		archive,
		claims,
		eventBus,
		log,
		reconcile.Options{
			PartialEmailMatch: cfg.GetPartialEmailMatch(),
			DetailLimit:       cfg.GetSyncDetailLimit(),
		},
	)

	var dispatch scheduler.DispatchRunner
	if client := whatsapp.NewClient(cfg, log); client != nil {
		dispatch = outreach.NewDispatcher(outreach.Deps{
			Leads:     leads,
			Sent:      ledgerRepo,
			Ledger:    ledgerRepo,
			Sender:    client,
			Policies:  outreach.NewPolicyLoader(outreach.NewPolicyStore(pool), cfg.GetOutreachPolicyFile(), cfg.GetDefaultCountryCode(), log),
			Templates: outreach.NewTemplateRepository(pool),
			Claims:    claims,
			Bus:       eventBus,
			Log:       log,
		})
	} else {
		log.Warn("WHATSAPP_URL not configured; scheduled outreach disabled")
	}

	worker, err := scheduler.NewWorker(cfg, dispatch, reconcileSvc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	var trigger *scheduler.Trigger
	if dispatch != nil {
		trigger = scheduler.NewTrigger(client, log, cfg.GetDispatchInterval(), cfg.GetPurchaseSyncInterval(), cfg.GetPurchaseSyncLookbackDays())
	} else {
		trigger = scheduler.NewTrigger(syncOnly{client}, log, cfg.GetDispatchInterval(), cfg.GetPurchaseSyncInterval(), cfg.GetPurchaseSyncLookbackDays())
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { worker.Run(ctx) })
	lifecycle.Go(func() { trigger.Run(ctx) })

	log.Info("scheduler started", "dispatchInterval", cfg.GetDispatchInterval(), "syncInterval", cfg.GetPurchaseSyncInterval())
	lifecycle.Wait()
	log.Info("scheduler stopped")
}

// syncOnly drops dispatch ticks when no messaging provider is configured.
type syncOnly struct {
	scheduler.Enqueuer
}

func (syncOnly) EnqueueOutreachDispatch(context.Context, time.Time) error { return nil }

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = 8 * baseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.NextBackOff()):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
