package email

import (
	"context"
	"fmt"
	"time"

	"salesops_backend/internal/events"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/logger"
)

// AlertNotifier mails operators when a purchase sync stops on a provider
// credential failure.
type AlertNotifier struct {
	sender     Sender
	recipients []string
	log        *logger.Logger
}

func NewAlertNotifier(sender Sender, recipients []string, log *logger.Logger) *AlertNotifier {
	return &AlertNotifier{sender: sender, recipients: recipients, log: log}
}

// Subscribe registers the notifier on bus. It is a no-op without a sender.
func (n *AlertNotifier) Subscribe(bus events.Bus) {
	if n.sender == nil || len(n.recipients) == 0 {
		return
	}
	bus.Subscribe(events.PurchaseSyncAborted{}.EventName(), events.HandlerFunc(n.onSyncAborted))
}

func (n *AlertNotifier) onSyncAborted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.PurchaseSyncAborted)
	if !ok || e.ErrorKind != apperr.KindUnauthorized.String() {
		return nil
	}

	content, err := renderEmailTemplate("sync_aborted.html", syncAbortedEmailData{
		Source:     e.Source,
		ErrorKind:  e.ErrorKind,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		OccurredAt: e.OccurredAt().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := n.sender.Send(ctx, n.recipients, fmt.Sprintf(subjectSyncAbortedFmt, e.Source), content); err != nil {
		n.log.Error("failed to send sync alert", "error", err)
		return err
	}
	n.log.Info("sync alert sent", "recipients", len(n.recipients))
	return nil
}
