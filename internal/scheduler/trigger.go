package scheduler

import (
	"context"
	"time"

	"salesops_backend/platform/logger"
)

const (
	defaultDispatchInterval     = time.Minute
	defaultPurchaseSyncInterval = 24 * time.Hour
	defaultSyncLookbackDays     = 1
)

// Trigger enqueues the periodic dispatch and purchase sync tasks.
type Trigger struct {
	enqueuer         Enqueuer
	log              *logger.Logger
	dispatchInterval time.Duration
	syncInterval     time.Duration
	lookbackDays     int
	now              func() time.Time
}

func NewTrigger(enqueuer Enqueuer, log *logger.Logger, dispatchInterval, syncInterval time.Duration, lookbackDays int) *Trigger {
	if dispatchInterval <= 0 {
		dispatchInterval = defaultDispatchInterval
	}
	if syncInterval <= 0 {
		syncInterval = defaultPurchaseSyncInterval
	}
	if lookbackDays < 0 {
		lookbackDays = defaultSyncLookbackDays
	}

	return &Trigger{
		enqueuer:         enqueuer,
		log:              log,
		dispatchInterval: dispatchInterval,
		syncInterval:     syncInterval,
		lookbackDays:     lookbackDays,
		now:              time.Now,
	}
}

// Run blocks until ctx is cancelled. The sync is enqueued once at start.
func (t *Trigger) Run(ctx context.Context) {
	if t == nil || t.enqueuer == nil {
		return
	}

	t.enqueueSync(ctx)

	dispatch := time.NewTicker(t.dispatchInterval)
	defer dispatch.Stop()
	sync := time.NewTicker(t.syncInterval)
	defer sync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatch.C:
			t.enqueueDispatch(ctx)
		case <-sync.C:
			t.enqueueSync(ctx)
		}
	}
}

func (t *Trigger) enqueueDispatch(ctx context.Context) {
	if err := t.enqueuer.EnqueueOutreachDispatch(ctx, t.now()); err != nil {
		t.log.Warn("enqueue outreach dispatch failed", "error", err)
	}
}

func (t *Trigger) enqueueSync(ctx context.Context) {
	start, end := t.syncWindow()
	if err := t.enqueuer.EnqueuePurchaseSync(ctx, start, end); err != nil {
		t.log.Warn("enqueue purchase sync failed", "error", err)
		return
	}
	t.log.Info("purchase sync enqueued", "start_date", start.Format(dateLayout), "end_date", end.Format(dateLayout))
}

// syncWindow is [today - lookbackDays, today] in UTC calendar days.
func (t *Trigger) syncWindow() (time.Time, time.Time) {
	end := t.now().UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -t.lookbackDays), end
}
