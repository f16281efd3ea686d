package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"salesops_backend/platform/logger"
)

type testEvent struct{ BaseEvent }

func (testEvent) EventName() string { return "test.event" }

func TestPublishSyncJoinsErrorsAndRecoversPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var calls int32

	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		panic("bad handler")
	}))
	bus.Subscribe("other.event", HandlerFunc(func(context.Context, Event) error {
		t.Fatalf("unrelated handler must not run")
		return nil
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRunsHandlersAsynchronously(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var calls int32
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, testEvent{BaseEvent: NewBaseEvent()})
	cancel()
	bus.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}
