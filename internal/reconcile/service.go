// Package reconcile merges purchase signals from the payment provider into
// lead state, exactly once per order per lead.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesops_backend/internal/events"
	"salesops_backend/internal/kiwify"
	"salesops_backend/internal/leads/domain"
	"salesops_backend/internal/leads/repository"
	"salesops_backend/internal/ledger"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/emailaddr"
	"salesops_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	sourceKiwify       = "kiwify"
	maxSyncPages       = 500
	partialCandidates  = 5
	similarCandidates  = 200
	maxSimilarHints    = 5
	defaultDetailLimit = 100
)

// OrderSource lists approved orders page by page.
type OrderSource interface {
	ListApprovedOrders(ctx context.Context, start, end time.Time, page int) (kiwify.OrdersPage, error)
}

// Ledger records decisions and reads back an order's history.
type Ledger interface {
	ledger.Recorder
	ListByCorrelation(ctx context.Context, action ledger.Action, correlationID string) ([]ledger.Entry, error)
}

// Options tunes the reconciler.
type Options struct {
	PartialEmailMatch bool
	DetailLimit       int
}

type Service struct {
	leads   repository.PurchaseWriter
	ledger  Ledger
	orders  OrderSource
	archive PageArchive
	claims  *ledger.Claims
	bus     events.Publisher
	log     *logger.Logger
	opts    Options
	now     func() time.Time
}

func New(
	leads repository.PurchaseWriter,
	recorder Ledger,
	orders OrderSource,
	archive PageArchive,
	claims *ledger.Claims,
	bus events.Publisher,
	log *logger.Logger,
	opts Options,
) *Service {
	if opts.DetailLimit <= 0 {
		opts.DetailLimit = defaultDetailLimit
	}
	return &Service{
		leads:   leads,
		ledger:  recorder,
		orders:  orders,
		archive: archive,
		claims:  claims,
		bus:     bus,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// IngestEvent merges one webhook-delivered purchase and returns the ledger
// entry recorded for it.
func (s *Service) IngestEvent(ctx context.Context, ev PurchaseEvent) (ledger.Entry, error) {
	entry, err := s.mergeOrder(ctx, ev, nil, ledger.TriggerWebhook)
	if err != nil {
		return entry, apperr.Wrap(apperr.KindInternal, "failed to record purchase event", err)
	}
	if entry.Outcome == ledger.OutcomeSkipped && entry.Reason == ledger.ReasonInFlight {
		// Another invocation holds the order; ask the provider to redeliver.
		return entry, apperr.Conflict("purchase for this order is already being processed")
	}
	return entry, nil
}

// OrderEntries returns the purchase ledger history of one provider order.
func (s *Service) OrderEntries(ctx context.Context, orderID string) ([]ledger.Entry, error) {
	entries, err := s.ledger.ListByCorrelation(ctx, ledger.ActionPurchaseSync, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list order entries", err)
	}
	if len(entries) == 0 {
		return nil, apperr.NotFound("no ledger entries for this order")
	}
	return entries, nil
}

// SyncRange pulls approved orders for the inclusive day range and merges
// each one. A page or auth failure aborts the run and returns the partial
// result together with the provider error; per-order failures are recorded
// and the run continues.
func (s *Service) SyncRange(ctx context.Context, start, end time.Time) (SyncResult, error) {
	if end.Before(start) {
		return SyncResult{}, apperr.Validation("start_date must not be after end_date")
	}

	runID := uuid.NewString()
	log := s.log.WithRun(runID, string(ledger.TriggerSync))
	run := newRunState()
	result := SyncResult{Details: make([]OrderDetail, 0)}

	for page := 1; page <= maxSyncPages; page++ {
		p, err := s.orders.ListApprovedOrders(ctx, start, end, page)
		if err != nil {
			s.publishAborted(ctx, err)
			log.Error("purchase sync aborted", "page", page, "error", err)
			return result, err
		}
		result.Pages = page
		s.archivePage(ctx, start, end, p)

		for _, order := range p.Orders {
			result.Summary.TotalFetched++
			entry, err := s.mergeOrder(ctx, EventFromOrder(order), run, ledger.TriggerSync)
			if err != nil {
				log.Error("ledger append failed", "order_id", order.ID, "error", err)
			}
			result.record(detailFromEntry(entry, order.Email), s.opts.DetailLimit)
		}

		if !p.HasMore || len(p.Orders) == 0 {
			break
		}
	}

	log.RunSummary("purchase_sync", result.Summary.counts())
	s.publish(ctx, events.PurchaseSyncCompleted{
		BaseEvent:     events.NewBaseEvent(),
		Source:        sourceKiwify,
		TotalFetched:  result.Summary.TotalFetched,
		Updated:       result.Summary.Updated,
		Inserted:      result.Summary.Inserted,
		AlreadySynced: result.Summary.AlreadySynced,
		Skipped:       result.Summary.Skipped,
		Failed:        result.Summary.Failed,
	})
	return result, nil
}

// Reprocess marks the leads behind the given emails as purchased. It never
// creates leads; unmatched emails come back with similar existing addresses
// as hints for the operator.
func (s *Service) Reprocess(ctx context.Context, emails []string) (SyncResult, error) {
	result := SyncResult{Details: make([]OrderDetail, 0, len(emails))}
	seen := make(map[string]bool, len(emails))

	for _, raw := range emails {
		email := emailaddr.Normalize(raw)
		if seen[email] && email != "" {
			continue
		}
		seen[email] = true
		result.Summary.TotalFetched++

		detail := OrderDetail{Email: email}
		if !emailaddr.Valid(email) {
			detail.Outcome, detail.Reason = ledger.OutcomeSkipped, ledger.ReasonNoEmail
			s.append(ctx, ledger.Entry{
				Action: ledger.ActionPurchaseSync, Outcome: detail.Outcome, Reason: detail.Reason,
				Trigger: ledger.TriggerManual, Request: ledger.Snapshot(map[string]string{"email": raw}),
			})
			result.record(detail, s.opts.DetailLimit)
			continue
		}

		lead, err := s.leads.FindByNormalizedEmail(ctx, email)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			detail.Outcome, detail.Reason = ledger.OutcomeSkipped, ledger.ReasonLeadNotFound
			detail.Similar = s.similarEmails(ctx, email)
			s.append(ctx, ledger.Entry{
				Action: ledger.ActionPurchaseSync, Outcome: detail.Outcome, Reason: detail.Reason,
				Trigger: ledger.TriggerManual, Request: ledger.Snapshot(map[string]string{"email": email}),
			})
		case err != nil:
			detail.Outcome, detail.Reason, detail.Error = ledger.OutcomeFailed, ledger.ReasonStoreError, err.Error()
			s.append(ctx, ledger.Entry{
				Action: ledger.ActionPurchaseSync, Outcome: detail.Outcome, Reason: detail.Reason,
				Trigger: ledger.TriggerManual, Error: err.Error(),
				Request: ledger.Snapshot(map[string]string{"email": email}),
			})
		default:
			ev := PurchaseEvent{BuyerEmail: email, Raw: ledger.Snapshot(map[string]string{"email": email})}
			d := s.mergeIntoLead(ctx, lead, ev, "")
			entry, _ := s.writeDecision(ctx, ev, d, ledger.TriggerManual)
			detail = detailFromEntry(entry, email)
		}
		result.record(detail, s.opts.DetailLimit)
	}

	s.log.RunSummary("purchase_reprocess", result.Summary.counts())
	return result, nil
}

// decision is the outcome of the merge for one order, before it is written.
type decision struct {
	leadID  *uuid.UUID
	outcome ledger.Outcome
	reason  string
	paidAt  *time.Time
	err     error
}

func (s *Service) mergeOrder(ctx context.Context, ev PurchaseEvent, run *runState, trigger ledger.Trigger) (ledger.Entry, error) {
	d := s.decide(ctx, ev, run)
	return s.writeDecision(ctx, ev, d, trigger)
}

func (s *Service) decide(ctx context.Context, ev PurchaseEvent, run *runState) decision {
	if !ev.isPaid() {
		return decision{outcome: ledger.OutcomeSkipped, reason: ledger.ReasonStatusNotPaid}
	}

	email := emailaddr.Normalize(ev.BuyerEmail)
	if !emailaddr.Valid(email) {
		return decision{outcome: ledger.OutcomeSkipped, reason: ledger.ReasonNoEmail}
	}

	if run != nil {
		if id, ok := run.created[email]; ok {
			return decision{leadID: &id, outcome: ledger.OutcomeAlreadyProcessed, reason: ledger.ReasonAlreadyProcessedInRun}
		}
	}

	subject := ev.OrderID
	if subject == "" {
		subject = email
	}
	key := ledger.ClaimKey(ledger.ActionPurchaseSync, subject)
	acquired, err := s.claims.Acquire(ctx, key)
	if err != nil {
		s.log.Warn("purchase claim unavailable, relying on ledger", "order_id", ev.OrderID, "error", err)
	} else if !acquired {
		return decision{outcome: ledger.OutcomeSkipped, reason: ledger.ReasonInFlight}
	} else {
		defer func() {
			if err := s.claims.Release(context.WithoutCancel(ctx), key); err != nil {
				s.log.Warn("release purchase claim", "order_id", ev.OrderID, "error", err)
			}
		}()
	}

	lead, err := s.leads.FindByNormalizedEmail(ctx, email)
	if err == nil {
		return s.mergeIntoLead(ctx, lead, ev, "")
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return decision{outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
	}

	insertReason := ""
	if s.opts.PartialEmailMatch {
		match, reason, err := s.partialMatch(ctx, email, ev.OrderID)
		if err != nil {
			return decision{outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
		}
		if match != nil {
			return s.mergeIntoLead(ctx, *match, ev, reason)
		}
		insertReason = reason
	}

	paidAt := ev.purchaseTime(s.now())
	created, inserted, err := s.leads.InsertPurchased(ctx, repository.InsertPurchasedParams{
		Email:           strings.TrimSpace(ev.BuyerEmail),
		EmailNormalized: email,
		Name:            ev.BuyerName,
		PaidAt:          paidAt,
	})
	if err != nil {
		return decision{outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
	}
	if !inserted {
		// Another writer created the lead between lookup and insert.
		existing, err := s.leads.FindByNormalizedEmail(ctx, email)
		if err != nil {
			return decision{outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
		}
		return s.mergeIntoLead(ctx, existing, ev, "")
	}

	if err := created.Validate(); err != nil {
		return decision{leadID: &created.ID, outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
	}

	if run != nil {
		run.created[email] = created.ID
	}
	return decision{leadID: &created.ID, outcome: ledger.OutcomeInserted, reason: insertReason, paidAt: &paidAt}
}

// mergeIntoLead applies steps for a lead that already exists. A lead whose
// purchase is already recorded is left untouched.
func (s *Service) mergeIntoLead(ctx context.Context, lead domain.Lead, ev PurchaseEvent, reason string) decision {
	id := lead.ID
	if lead.PurchaseRecorded() {
		return decision{leadID: &id, outcome: ledger.OutcomeAlreadyProcessed, reason: reason}
	}

	paidAt := ev.purchaseTime(s.now())
	stored, updated, err := s.leads.MarkPurchased(ctx, lead.ID, paidAt)
	if err != nil {
		return decision{leadID: &id, outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
	}
	if !updated {
		return decision{leadID: &id, outcome: ledger.OutcomeAlreadyProcessed, reason: reason}
	}
	if err := stored.Validate(); err != nil {
		return decision{leadID: &id, outcome: ledger.OutcomeFailed, reason: ledger.ReasonStoreError, err: err}
	}
	return decision{leadID: &id, outcome: ledger.OutcomeUpdated, reason: reason, paidAt: &paidAt}
}

// partialMatch runs the containment fallback. It only accepts a single
// unambiguous candidate; the returned reason is recorded either way.
func (s *Service) partialMatch(ctx context.Context, email, orderID string) (*domain.Lead, string, error) {
	candidates, err := s.leads.FindByEmailContaining(ctx, email, partialCandidates)
	if err != nil {
		return nil, "", err
	}

	matches := make([]domain.Lead, 0, 1)
	for _, c := range candidates {
		if emailaddr.MatchesPartial(email, c.EmailNormalized) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return nil, "", nil
	case 1:
		s.log.Warn("purchase merged by partial email match",
			"order_id", orderID, "email", email, "matched_email", matches[0].EmailNormalized, "lead_id", matches[0].ID.String())
		return &matches[0], ledger.ReasonPartialEmailMatch, nil
	default:
		s.log.Warn("ambiguous partial email match, creating new lead",
			"order_id", orderID, "email", email, "candidates", len(matches))
		return nil, ledger.ReasonAmbiguousPartialMatch, nil
	}
}

func (s *Service) writeDecision(ctx context.Context, ev PurchaseEvent, d decision, trigger ledger.Trigger) (ledger.Entry, error) {
	entry := ledger.Entry{
		LeadID:        d.leadID,
		Action:        ledger.ActionPurchaseSync,
		CorrelationID: ev.OrderID,
		Outcome:       d.outcome,
		Reason:        d.reason,
		Trigger:       trigger,
		Request:       ledger.RawJSON(ev.Raw),
		Response: ledger.Snapshot(map[string]any{
			"leadId":            d.leadID,
			"outcome":           d.outcome,
			"purchaseTimestamp": d.paidAt,
		}),
	}
	if d.err != nil {
		entry.Error = d.err.Error()
	}

	written, err := s.ledger.Append(ctx, entry)
	if errors.Is(err, ledger.ErrDuplicate) {
		// The same order was already merged into this lead.
		entry.Outcome = ledger.OutcomeAlreadyProcessed
		entry.Reason = ledger.ReasonDuplicateOrder
		written, err = s.ledger.Append(ctx, entry)
	}
	if err != nil {
		s.log.Error("ledger append failed", "order_id", ev.OrderID, "error", err)
		written = entry
	}

	s.log.WithContext(ctx).LedgerEntry(string(written.Action), string(written.Outcome), written.Reason, written.LeadIDString(), written.CorrelationID)
	s.publish(ctx, events.PurchaseReconciled{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    written.LeadID,
		OrderID:   ev.OrderID,
		Source:    string(trigger),
		Outcome:   string(written.Outcome),
		Reason:    written.Reason,
		Amount:    ev.Amount,
	})
	return written, err
}

func (s *Service) append(ctx context.Context, e ledger.Entry) {
	if _, err := s.ledger.Append(ctx, e); err != nil {
		s.log.Error("ledger append failed", "error", err)
	}
	s.log.LedgerEntry(string(e.Action), string(e.Outcome), e.Reason, e.LeadIDString(), e.CorrelationID)
}

func (s *Service) similarEmails(ctx context.Context, email string) []string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return nil
	}
	candidates, err := s.leads.ListEmailsByDomain(ctx, email[at+1:], similarCandidates)
	if err != nil {
		s.log.Warn("similar email lookup failed", "error", err)
		return nil
	}

	out := make([]string, 0, maxSimilarHints)
	for _, c := range candidates {
		if c != email && emailaddr.LooksSimilar(email, c) {
			out = append(out, c)
			if len(out) == maxSimilarHints {
				break
			}
		}
	}
	return out
}

func (s *Service) archivePage(ctx context.Context, start, end time.Time, p kiwify.OrdersPage) {
	if s.archive == nil || len(p.Raw) == 0 {
		return
	}
	key := fmt.Sprintf("purchase-sync/%s_%s/page-%d.json", start.Format("2006-01-02"), end.Format("2006-01-02"), p.Page)
	if err := s.archive.Store(ctx, key, p.Raw); err != nil {
		s.log.Warn("failed to archive orders page", "key", key, "error", err)
	}
}

func (s *Service) publishAborted(ctx context.Context, err error) {
	ev := events.PurchaseSyncAborted{
		BaseEvent: events.NewBaseEvent(),
		Source:    sourceKiwify,
		ErrorKind: apperr.GetKind(err).String(),
		Message:   err.Error(),
	}
	if e, ok := apperr.As(err); ok {
		if details, ok := e.Details.(apperr.UpstreamDetails); ok {
			ev.HTTPStatus = details.Status
		}
	}
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, ev)
}

func detailFromEntry(e ledger.Entry, email string) OrderDetail {
	return OrderDetail{
		OrderID: e.CorrelationID,
		Email:   emailaddr.Normalize(email),
		LeadID:  e.LeadID,
		Outcome: e.Outcome,
		Reason:  e.Reason,
		Error:   e.Error,
	}
}
