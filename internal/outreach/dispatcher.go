package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesops_backend/internal/events"
	"salesops_backend/internal/leads/domain"
	"salesops_backend/internal/leads/repository"
	"salesops_backend/internal/ledger"
	"salesops_backend/internal/whatsapp"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/phone"
	"salesops_backend/platform/sanitize"

	"github.com/google/uuid"
)

const previewRunes = 200

// Sender delivers one text message.
type Sender interface {
	SendText(ctx context.Context, req whatsapp.SendRequest) (whatsapp.SendResult, error)
}

// RunSummary counts the attempts of one invocation.
type RunSummary struct {
	Trigger          ledger.Trigger `json:"trigger"`
	Enabled          bool           `json:"enabled"`
	Processed        int            `json:"processed"`
	Sent             int            `json:"sent"`
	Skipped          int            `json:"skipped"`
	Failed           int            `json:"failed"`
	MaxPerInvocation int            `json:"maxPerInvocation"`
}

func (s *RunSummary) add(a Attempt) {
	s.Processed++
	switch a.Outcome {
	case ledger.OutcomeSent:
		s.Sent++
	case ledger.OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

func (s RunSummary) counts() map[string]int {
	return map[string]int{
		"processed": s.Processed,
		"sent":      s.Sent,
		"skipped":   s.Skipped,
		"failed":    s.Failed,
	}
}

// Attempt is the result of trying to message one lead.
type Attempt struct {
	LeadID     uuid.UUID      `json:"leadId"`
	Outcome    ledger.Outcome `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	HTTPStatus int            `json:"httpStatus,omitempty"`
	MessageID  string         `json:"messageId,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Dispatcher runs outreach invocations.
type Dispatcher struct {
	leads     repository.OutreachStore
	selector  *Selector
	sent      SentChecker
	ledger    ledger.Recorder
	sender    Sender
	policies  PolicySource
	templates TemplateSource
	claims    *ledger.Claims
	bus       events.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Dispatcher. Templates, Claims and Bus
// are optional.
type Deps struct {
	Leads     repository.OutreachStore
	Sent      SentChecker
	Ledger    ledger.Recorder
	Sender    Sender
	Policies  PolicySource
	Templates TemplateSource
	Claims    *ledger.Claims
	Bus       events.Publisher
	Log       *logger.Logger
}

func NewDispatcher(d Deps) *Dispatcher {
	return &Dispatcher{
		leads:     d.Leads,
		selector:  NewSelector(d.Leads, d.Sent),
		sent:      d.Sent,
		ledger:    d.Ledger,
		sender:    d.Sender,
		policies:  d.Policies,
		templates: d.Templates,
		claims:    d.Claims,
		bus:       d.Bus,
		log:       d.Log,
		now:       time.Now,
	}
}

// Run selects eligible leads under the current policy and messages each
// once. A policy or selection error aborts before any send. A provider
// auth or rate-limit error stops the loop; the partial summary is returned
// together with that error.
func (d *Dispatcher) Run(ctx context.Context, trigger ledger.Trigger) (RunSummary, error) {
	runID := uuid.NewString()
	log := d.log.WithRun(runID, string(trigger))
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)

	policy, err := d.policies.Load(ctx)
	if err != nil {
		return RunSummary{Trigger: trigger}, fmt.Errorf("load dispatch policy: %w", err)
	}

	summary := RunSummary{Trigger: trigger, Enabled: policy.Enabled, MaxPerInvocation: policy.MaxPerInvocation}
	if !policy.Enabled {
		log.Info("dispatch disabled by policy")
		return summary, nil
	}
	if d.sender == nil {
		return summary, apperr.Validation("messaging provider is not configured")
	}

	leads, err := d.selector.Select(ctx, policy, d.now())
	if err != nil {
		return summary, err
	}

	tmpl := policy.Template()
	var fatal error
	for _, lead := range leads {
		if ctx.Err() != nil {
			break
		}
		attempt, err := d.attempt(ctx, lead, policy, tmpl, trigger)
		summary.add(attempt)
		if err != nil {
			fatal = err
			log.Error("dispatch aborted by messaging provider", "lead_id", lead.ID.String(), "error", err)
			break
		}
	}

	log.RunSummary(string(ledger.ActionDispatch), summary.counts())
	d.publish(ctx, events.OutreachRunCompleted{
		BaseEvent: events.NewBaseEvent(),
		Trigger:   string(trigger),
		Processed: summary.Processed,
		Sent:      summary.Sent,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	})
	if fatal != nil {
		return summary, fatal
	}
	return summary, ctx.Err()
}

// SendOne messages a single lead on behalf of requester, using the
// requester's saved template when present. Provider auth and rate-limit
// errors are returned alongside the recorded attempt.
func (d *Dispatcher) SendOne(ctx context.Context, leadID uuid.UUID, requester uuid.UUID) (Attempt, error) {
	if d.sender == nil {
		return Attempt{}, apperr.Validation("messaging provider is not configured")
	}

	lead, err := d.leads.GetByID(ctx, leadID)
	if errors.Is(err, repository.ErrNotFound) {
		return Attempt{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("load lead: %w", err)
	}
	if lead.HasPaid {
		return Attempt{}, apperr.Conflict("lead has already purchased")
	}

	sent, err := d.sent.HasSent(ctx, ledger.ActionDispatch, []uuid.UUID{lead.ID})
	if err != nil {
		return Attempt{}, fmt.Errorf("check sent: %w", err)
	}
	if sent[lead.ID] {
		return Attempt{}, apperr.Conflict("a message was already sent to this lead")
	}

	policy, err := d.policies.Load(ctx)
	if err != nil {
		return Attempt{}, fmt.Errorf("load dispatch policy: %w", err)
	}

	return d.attempt(ctx, lead, policy, d.templateFor(ctx, requester, policy), ledger.TriggerManual)
}

func (d *Dispatcher) templateFor(ctx context.Context, requester uuid.UUID, policy Policy) string {
	if d.templates == nil || requester == uuid.Nil {
		return policy.Template()
	}
	tmpl, ok, err := d.templates.Find(ctx, requester, TemplateContextPartnerLeads)
	if err != nil {
		d.log.Warn("failed to load message template, using default", "owner_id", requester.String(), "error", err)
		return policy.Template()
	}
	if !ok {
		return policy.Template()
	}
	return tmpl
}

// attempt claims the lead, sends and records exactly one ledger entry. The
// returned error is non-nil only when the provider rejected the credentials
// or throttled the request, which ends the invocation.
func (d *Dispatcher) attempt(ctx context.Context, lead domain.Lead, policy Policy, tmpl string, trigger ledger.Trigger) (Attempt, error) {
	entry := ledger.Entry{
		LeadID:        &lead.ID,
		Action:        ledger.ActionDispatch,
		CorrelationID: policy.CampaignID,
		Trigger:       trigger,
	}

	key := ledger.ClaimKey(ledger.ActionDispatch, lead.ID.String())
	claimed, err := d.claims.Acquire(ctx, key)
	if err != nil {
		d.log.Warn("claim store unavailable, continuing unclaimed", "lead_id", lead.ID.String(), "error", err)
		claimed = true
	}
	if !claimed {
		return d.record(ctx, skipped(entry, ledger.ReasonInFlight)), nil
	}
	defer func() {
		if err := d.claims.Release(context.WithoutCancel(ctx), key); err != nil {
			d.log.Warn("failed to release claim", "key", key, "error", err)
		}
	}()

	raw := lead.ContactPhone()
	if raw == "" {
		return d.record(ctx, skipped(entry, ledger.ReasonNoPhone)), nil
	}
	number, ok := phone.Normalize(raw, policy.DefaultCountryCode, phone.FormatDigits)
	if !ok {
		return d.record(ctx, skipped(entry, ledger.ReasonNormalizationFailed)), nil
	}

	text := Render(tmpl, VariablesFor(lead))
	entry.MessagePreview = sanitize.Truncate(text, previewRunes)

	res, sendErr := d.sender.SendText(ctx, whatsapp.SendRequest{Number: number, Text: text, Instance: policy.Instance})
	entry.Request = res.Request
	entry.Response = res.Body
	if res.StatusCode > 0 {
		status := res.StatusCode
		entry.HTTPStatus = &status
	}
	d.log.Debug("dispatch attempt", "lead_id", lead.ID.String(), "phone_valid", phone.Valid(number), "status", res.StatusCode)

	if sendErr != nil {
		entry.Outcome = ledger.OutcomeFailed
		entry.Reason = ledger.ReasonProviderError
		entry.Error = sendErr.Error()
		attempt := d.record(ctx, entry)
		if abortsRun(sendErr) {
			return attempt, sendErr
		}
		return attempt, nil
	}

	entry.Outcome = ledger.OutcomeSent
	if res.MessageID != "" {
		entry.CorrelationID = res.MessageID
	}
	attempt := d.record(ctx, entry)
	attempt.MessageID = res.MessageID

	if _, err := d.leads.MarkContacted(ctx, lead.ID); err != nil {
		d.log.DatabaseError("mark_contacted", err)
	}
	return attempt, nil
}

func abortsRun(err error) bool {
	switch apperr.GetKind(err) {
	case apperr.KindUnauthorized, apperr.KindRateLimited:
		return true
	}
	return false
}

// record appends entry and converts it to an Attempt. A second "sent" for
// the same lead is downgraded to an already_sent skip.
func (d *Dispatcher) record(ctx context.Context, entry ledger.Entry) Attempt {
	written, err := d.ledger.Append(ctx, entry)
	if errors.Is(err, ledger.ErrDuplicate) {
		d.log.Warn("lead already had a recorded send", "lead_id", entry.LeadIDString())
		entry.Outcome = ledger.OutcomeSkipped
		entry.Reason = ledger.ReasonAlreadySent
		written, err = d.ledger.Append(ctx, entry)
	}
	if err != nil {
		d.log.Error("ledger append failed", "lead_id", entry.LeadIDString(), "error", err)
		written = entry
	}

	d.log.WithContext(ctx).LedgerEntry(string(written.Action), string(written.Outcome), written.Reason, written.LeadIDString(), written.CorrelationID)

	attempt := Attempt{
		LeadID:  *entry.LeadID,
		Outcome: written.Outcome,
		Reason:  written.Reason,
		Error:   written.Error,
	}
	if written.HTTPStatus != nil {
		attempt.HTTPStatus = *written.HTTPStatus
	}

	d.publish(ctx, events.OutreachAttempted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     attempt.LeadID,
		Outcome:    string(attempt.Outcome),
		Reason:     attempt.Reason,
		Trigger:    string(entry.Trigger),
		HTTPStatus: attempt.HTTPStatus,
	})
	return attempt
}

func skipped(e ledger.Entry, reason string) ledger.Entry {
	e.Outcome = ledger.OutcomeSkipped
	e.Reason = reason
	return e
}

func (d *Dispatcher) publish(ctx context.Context, ev events.Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, ev)
}
