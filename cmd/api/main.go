package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesops_backend/internal/adapters/storage"
	"salesops_backend/internal/email"
	"salesops_backend/internal/events"
	apphttp "salesops_backend/internal/http"
	"salesops_backend/internal/http/router"
	"salesops_backend/internal/kiwify"
	leadrepo "salesops_backend/internal/leads/repository"
	"salesops_backend/internal/ledger"
	"salesops_backend/internal/metrics"
	"salesops_backend/internal/outreach"
	"salesops_backend/internal/reconcile"
	"salesops_backend/internal/whatsapp"
	"salesops_backend/platform/config"
	"salesops_backend/platform/db"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/validator"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, log)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	rdb := initRedis(ctx, cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	claims := ledger.NewClaims(rdb)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)
	appMetrics.Subscribe(eventBus)

	var alertSender email.Sender
	if smtpSender := email.NewSMTPSender(cfg); smtpSender != nil {
		alertSender = smtpSender
	}
	email.NewAlertNotifier(alertSender, cfg.GetAlertRecipients(), log).Subscribe(eventBus)

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	leads := leadrepo.New(pool)
	ledgerRepo := ledger.New(pool)

	reconcileSvc := reconcile.New(
		leads,
		ledgerRepo,
		kiwify.NewClient(cfg, log),
		initArchive(ctx, cfg, log),
		claims,
		eventBus,
		log,
		reconcile.Options{
			PartialEmailMatch: cfg.GetPartialEmailMatch(),
			DetailLimit:       cfg.GetSyncDetailLimit(),
		},
	)
	reconcileModule := reconcile.NewModule(reconcileSvc, cfg.GetKiwifyWebhookToken(), val, log)

	templates := outreach.NewTemplateRepository(pool)
	deps := outreach.Deps{
		Leads:     leads,
		Sent:      ledgerRepo,
		Ledger:    ledgerRepo,
		Policies:  outreach.NewPolicyLoader(outreach.NewPolicyStore(pool), cfg.GetOutreachPolicyFile(), cfg.GetDefaultCountryCode(), log),
		Templates: templates,
		Claims:    claims,
		Bus:       eventBus,
		Log:       log,
	}
	if client := whatsapp.NewClient(cfg, log); client != nil {
		deps.Sender = client
	} else {
		log.Warn("WHATSAPP_URL not configured; outreach sends disabled")
	}
	dispatcher := outreach.NewDispatcher(deps)
	outreachModule := outreach.NewModule(dispatcher, ledgerRepo, templates, val)

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Metrics:  appMetrics,
		Modules: []apphttp.Module{
			reconcileModule,
			outreachModule,
		},
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	log.Info("server stopped")
}

// initRedis opens the claims client. Without redis, concurrent runs are
// still deduplicated by the ledger's unique sent index.
func initRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; in-flight claims disabled")
		return nil
	}
	var rdb *redis.Client
	if err := withRetry(ctx, log, "redis connection", 3, time.Second, func() error {
		c, err := ledger.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		rdb = c
		return nil
	}); err != nil {
		log.Error("failed to connect to redis; in-flight claims disabled", "error", err)
		return nil
	}
	return rdb
}

// initArchive returns nil when object storage is unavailable; syncs run
// without archiving raw pages.
func initArchive(ctx context.Context, cfg config.MinIOConfig, log *logger.Logger) reconcile.PageArchive {
	if !cfg.IsMinIOEnabled() {
		return nil
	}
	store, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		return nil
	}
	var archive *reconcile.ObjectArchive
	if err := withRetry(ctx, log, "ensure sync-archive bucket", 5, 2*time.Second, func() error {
		a, err := reconcile.NewObjectArchive(ctx, store, cfg.GetMinioBucketSyncArchive())
		if err != nil {
			return err
		}
		archive = a
		return nil
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinioBucketSyncArchive())
		return nil
	}
	log.Info("storage service initialized", "syncArchiveBucket", cfg.GetMinioBucketSyncArchive())
	return archive
}

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
