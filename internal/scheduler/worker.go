package scheduler

import (
	"context"
	"fmt"
	"time"

	"salesops_backend/internal/ledger"
	"salesops_backend/internal/outreach"
	"salesops_backend/internal/reconcile"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// DispatchRunner runs one outreach invocation.
type DispatchRunner interface {
	Run(ctx context.Context, trigger ledger.Trigger) (outreach.RunSummary, error)
}

// SyncRunner pulls approved orders for a date range.
type SyncRunner interface {
	SyncRange(ctx context.Context, start, end time.Time) (reconcile.SyncResult, error)
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	dispatch DispatchRunner
	sync     SyncRunner
	log      *logger.Logger
}

// NewWorker registers only the handlers whose runner is non-nil.
func NewWorker(cfg config.SchedulerConfig, dispatch DispatchRunner, sync SyncRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		dispatch: dispatch,
		sync:     sync,
		log:      log,
	}

	if dispatch != nil {
		mux.HandleFunc(TaskOutreachDispatch, w.handleOutreachDispatch)
	}
	if sync != nil {
		mux.HandleFunc(TaskPurchaseSync, w.handlePurchaseSync)
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleOutreachDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutreachDispatchPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	summary, err := w.dispatch.Run(ctx, ledger.TriggerAuto)
	if err != nil {
		w.log.Error("scheduled dispatch failed", "scheduled_at", payload.ScheduledAt, "error", err)
		return err
	}
	w.log.Debug("scheduled dispatch finished", "processed", summary.Processed, "sent", summary.Sent)
	return nil
}

// handlePurchaseSync retries transient failures only. Credential problems
// are reported once through the abort event and not retried.
func (w *Worker) handlePurchaseSync(ctx context.Context, task *asynq.Task) error {
	payload, err := ParsePurchaseSyncPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	start, end, err := payload.Range()
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	result, err := w.sync.SyncRange(ctx, start, end)
	if err != nil {
		w.log.Error("scheduled purchase sync failed",
			"start_date", payload.StartDate, "end_date", payload.EndDate, "pages", result.Pages, "error", err)
		switch apperr.GetKind(err) {
		case apperr.KindUnauthorized, apperr.KindValidation:
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	return nil
}
