package email

import (
	"context"
	"strings"
	"testing"

	"salesops_backend/internal/events"
	pevents "salesops_backend/platform/events"
	"salesops_backend/platform/logger"
)

type recordingSender struct {
	to      []string
	subject string
	body    string
	calls   int
}

func (r *recordingSender) Send(_ context.Context, to []string, subject, html string) error {
	r.calls++
	r.to, r.subject, r.body = to, subject, html
	return nil
}

func TestAlertSentOnlyForAuthAborts(t *testing.T) {
	sender := &recordingSender{}
	bus := pevents.NewInMemoryBus(logger.Discard())
	NewAlertNotifier(sender, []string{"ops@example.com"}, logger.Discard()).Subscribe(bus)
	ctx := context.Background()

	_ = bus.PublishSync(ctx, events.PurchaseSyncAborted{BaseEvent: events.NewBaseEvent(), Source: "kiwify", ErrorKind: "upstream", Message: "503"})
	if sender.calls != 0 {
		t.Fatalf("transient aborts must not alert")
	}

	err := bus.PublishSync(ctx, events.PurchaseSyncAborted{
		BaseEvent:  events.NewBaseEvent(),
		Source:     "kiwify",
		ErrorKind:  "unauthorized",
		Message:    "invalid <client>",
		HTTPStatus: 401,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if sender.calls != 1 || sender.to[0] != "ops@example.com" || !strings.Contains(sender.subject, "kiwify") {
		t.Fatalf("unexpected alert %+v", sender)
	}
	if !strings.Contains(sender.body, "invalid &lt;client&gt;") || !strings.Contains(sender.body, "401") {
		t.Fatalf("body not rendered or not escaped:\n%s", sender.body)
	}
}

func TestNotifierWithoutSenderDoesNotSubscribe(t *testing.T) {
	bus := pevents.NewInMemoryBus(logger.Discard())
	NewAlertNotifier(nil, []string{"ops@example.com"}, logger.Discard()).Subscribe(bus)
	if err := bus.PublishSync(context.Background(), events.PurchaseSyncAborted{ErrorKind: "unauthorized"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
