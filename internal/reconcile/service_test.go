package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"salesops_backend/internal/events"
	"salesops_backend/internal/kiwify"
	"salesops_backend/internal/leads/domain"
	"salesops_backend/internal/leads/repository"
	"salesops_backend/internal/ledger"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ---- fakes ----

type fakeLeads struct {
	mu         sync.Mutex
	leads      map[uuid.UUID]*domain.Lead
	failLookup map[string]bool
	failInsert map[string]bool
	// staleStatus makes MarkPurchased return a row still in its old stage.
	staleStatus bool
}

func newFakeLeads() *fakeLeads {
	return &fakeLeads{
		leads:      make(map[uuid.UUID]*domain.Lead),
		failLookup: make(map[string]bool),
		failInsert: make(map[string]bool),
	}
}

func (f *fakeLeads) add(email string, status domain.Status, paid bool) *domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := status
	l := &domain.Lead{
		ID:              uuid.New(),
		Email:           email,
		EmailNormalized: email,
		Status:          &s,
		HasPaid:         paid,
		CreatedAt:       time.Now().Add(-time.Hour),
	}
	f.leads[l.ID] = l
	return l
}

func (f *fakeLeads) get(id uuid.UUID) domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.leads[id]
}

func (f *fakeLeads) byEmail(email string) (*domain.Lead, bool) {
	for _, l := range f.leads {
		if l.EmailNormalized == email {
			return l, true
		}
	}
	return nil, false
}

func (f *fakeLeads) GetByID(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrNotFound
	}
	return *l, nil
}

func (f *fakeLeads) FindByNormalizedEmail(_ context.Context, email string) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLookup[email] {
		return domain.Lead{}, errors.New("connection reset")
	}
	l, ok := f.byEmail(email)
	if !ok {
		return domain.Lead{}, repository.ErrNotFound
	}
	return *l, nil
}

func (f *fakeLeads) FindByEmailContaining(_ context.Context, email string, limit int) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Lead, 0)
	for _, l := range f.leads {
		e := l.EmailNormalized
		if e != email && (strings.Contains(e, email) || strings.Contains(email, e)) {
			out = append(out, *l)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLeads) ListEmailsByDomain(_ context.Context, domainName string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0)
	for _, l := range f.leads {
		if strings.HasSuffix(l.EmailNormalized, "@"+domainName) {
			out = append(out, l.EmailNormalized)
		}
	}
	return out, nil
}

func (f *fakeLeads) MarkPurchased(_ context.Context, id uuid.UUID, paidAt time.Time) (domain.Lead, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, false, nil
	}
	if l.PurchaseRecorded() {
		return domain.Lead{}, false, nil
	}
	l.HasPaid, l.PurchaseTimestamp = true, &paidAt
	if !f.staleStatus {
		s := domain.StatusPurchased
		l.Status = &s
	}
	return *l, true, nil
}

func (f *fakeLeads) InsertPurchased(_ context.Context, p repository.InsertPurchasedParams) (domain.Lead, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert[p.EmailNormalized] {
		return domain.Lead{}, false, errors.New("disk full")
	}
	if _, ok := f.byEmail(p.EmailNormalized); ok {
		return domain.Lead{}, false, nil
	}
	s := domain.StatusPurchased
	paidAt := p.PaidAt
	l := &domain.Lead{
		ID: uuid.New(), Email: p.Email, EmailNormalized: p.EmailNormalized, Name: p.Name,
		Status: &s, HasPaid: true, PurchaseTimestamp: &paidAt, Source: domain.SourcePurchase,
	}
	f.leads[l.ID] = l
	return *l, true, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (f *fakeLedger) Append(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.LeadID != nil && e.CorrelationID != "" &&
		(e.Outcome == ledger.OutcomeUpdated || e.Outcome == ledger.OutcomeInserted) {
		for _, prev := range f.entries {
			if prev.LeadID != nil && *prev.LeadID == *e.LeadID && prev.CorrelationID == e.CorrelationID &&
				(prev.Outcome == ledger.OutcomeUpdated || prev.Outcome == ledger.OutcomeInserted) {
				return e, ledger.ErrDuplicate
			}
		}
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeLedger) ListByCorrelation(_ context.Context, action ledger.Action, correlationID string) ([]ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Entry
	for _, e := range f.entries {
		if e.Action == action && e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) count(outcome ledger.Outcome) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

type fakeOrders struct {
	pages []kiwify.OrdersPage
	errAt int
	err   error
	calls int
}

func (f *fakeOrders) ListApprovedOrders(_ context.Context, _, _ time.Time, page int) (kiwify.OrdersPage, error) {
	f.calls++
	if f.err != nil && page == f.errAt {
		return kiwify.OrdersPage{}, f.err
	}
	if page > len(f.pages) {
		return kiwify.OrdersPage{Page: page}, nil
	}
	p := f.pages[page-1]
	p.Page = page
	p.HasMore = page < len(f.pages)
	return p, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func order(id, email string) kiwify.Order {
	paid := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return kiwify.Order{ID: id, Email: email, PaidAt: &paid, Raw: []byte(fmt.Sprintf(`{"id":%q}`, id))}
}

func newTestService(leads *fakeLeads, led *fakeLedger, orders OrderSource, opts Options) (*Service, *recordingBus) {
	bus := &recordingBus{}
	svc := New(leads, led, orders, nil, nil, bus, logger.Discard(), opts)
	svc.now = func() time.Time { return time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC) }
	return svc, bus
}

func newTestClaims(t *testing.T) *ledger.Claims {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return ledger.NewClaims(rdb)
}

var (
	day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

// ---- tests ----

func TestIngestEventTwiceIsAlreadyProcessed(t *testing.T) {
	leads := newFakeLeads()
	lead := leads.add("ana@gmail.com", domain.StatusLead, false)
	led := &fakeLedger{}
	svc, _ := newTestService(leads, led, nil, Options{})

	ev := EventFromOrder(order("o-1", " ANA@gmai.com "))
	first, err := svc.IngestEvent(context.Background(), ev)
	if err != nil || first.Outcome != ledger.OutcomeUpdated {
		t.Fatalf("first delivery: %+v %v", first, err)
	}
	stored := leads.get(lead.ID)
	if !stored.HasPaid || stored.StatusOrDefault() != domain.StatusPurchased || stored.PurchaseTimestamp == nil {
		t.Fatalf("lead not merged: %+v", stored)
	}
	ts := *stored.PurchaseTimestamp

	later := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	ev.PaidAt = &later
	second, err := svc.IngestEvent(context.Background(), ev)
	if err != nil || second.Outcome != ledger.OutcomeAlreadyProcessed {
		t.Fatalf("second delivery: %+v %v", second, err)
	}
	stored = leads.get(lead.ID)
	if !stored.PurchaseTimestamp.Equal(ts) || stored.StatusOrDefault() != domain.StatusPurchased {
		t.Fatalf("second delivery rewrote the lead: %+v", stored)
	}
	if len(led.entries) != 2 {
		t.Fatalf("expected one ledger entry per delivery, got %d", len(led.entries))
	}
}

func TestIngestEventDoesNotRegressUpsell(t *testing.T) {
	leads := newFakeLeads()
	lead := leads.add("bia@x.com", domain.StatusUpsellPaid, true)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{})

	entry, err := svc.IngestEvent(context.Background(), EventFromOrder(order("o-2", "bia@x.com")))
	if err != nil || entry.Outcome != ledger.OutcomeAlreadyProcessed {
		t.Fatalf("unexpected %+v %v", entry, err)
	}
	if leads.get(lead.ID).StatusOrDefault() != domain.StatusUpsellPaid {
		t.Fatalf("status regressed")
	}
}

func TestIngestEventSkipsUnusableInput(t *testing.T) {
	svc, _ := newTestService(newFakeLeads(), &fakeLedger{}, nil, Options{})

	entry, _ := svc.IngestEvent(context.Background(), PurchaseEvent{OrderID: "o-3", BuyerEmail: "not-an-email"})
	if entry.Outcome != ledger.OutcomeSkipped || entry.Reason != ledger.ReasonNoEmail {
		t.Fatalf("expected no_email skip, got %+v", entry)
	}

	entry, _ = svc.IngestEvent(context.Background(), PurchaseEvent{OrderID: "o-4", BuyerEmail: "a@b.com", Status: "refunded"})
	if entry.Outcome != ledger.OutcomeSkipped || entry.Reason != ledger.ReasonStatusNotPaid {
		t.Fatalf("expected status skip, got %+v", entry)
	}
}

func TestSyncRangeIsolatesPerOrderFailure(t *testing.T) {
	leads := newFakeLeads()
	existing := leads.add("first@x.com", domain.StatusLead, false)
	leads.failLookup["second@x.com"] = true
	led := &fakeLedger{}
	orders := &fakeOrders{pages: []kiwify.OrdersPage{{Orders: []kiwify.Order{
		order("o-1", "first@x.com"),
		order("o-2", "second@x.com"),
		order("o-3", "third@x.com"),
	}}}}
	svc, bus := newTestService(leads, led, orders, Options{})

	result, err := svc.SyncRange(context.Background(), day1, day2)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	s := result.Summary
	if s.TotalFetched != 3 || s.Updated+s.Inserted != 2 || s.Failed != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if result.Details[1].Outcome != ledger.OutcomeFailed || result.Details[1].Error == "" {
		t.Fatalf("expected failed detail for order 2, got %+v", result.Details[1])
	}
	if !leads.get(existing.ID).HasPaid {
		t.Fatalf("order 1 not merged")
	}
	if l, _ := leads.FindByNormalizedEmail(context.Background(), "third@x.com"); !l.HasPaid {
		t.Fatalf("order 3 not merged")
	}
	if led.count(ledger.OutcomeFailed) != 1 {
		t.Fatalf("expected failed ledger entry")
	}

	var completed int
	for _, ev := range bus.events {
		if _, ok := ev.(events.PurchaseSyncCompleted); ok {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected one completion event, got %d", completed)
	}
}

func TestSyncRangeTracksInsertsWithinRun(t *testing.T) {
	leads := newFakeLeads()
	orders := &fakeOrders{pages: []kiwify.OrdersPage{
		{Orders: []kiwify.Order{order("o-1", "new@x.com")}},
		{Orders: []kiwify.Order{order("o-2", "NEW@x.com")}},
	}}
	svc, _ := newTestService(leads, &fakeLedger{}, orders, Options{})

	result, err := svc.SyncRange(context.Background(), day1, day2)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Summary.Inserted != 1 || result.Summary.AlreadySynced != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	if result.Details[1].Reason != ledger.ReasonAlreadyProcessedInRun {
		t.Fatalf("expected in-run reason, got %+v", result.Details[1])
	}
	if result.Pages != 2 || orders.calls != 2 {
		t.Fatalf("expected 2 pages, got %d (%d calls)", result.Pages, orders.calls)
	}
}

func TestSyncRangeRerunIsAlreadySynced(t *testing.T) {
	leads := newFakeLeads()
	leads.add("a@x.com", domain.StatusLead, false)
	orders := &fakeOrders{pages: []kiwify.OrdersPage{{Orders: []kiwify.Order{order("o-1", "a@x.com"), order("o-2", "b@x.com")}}}}
	svc, _ := newTestService(leads, &fakeLedger{}, orders, Options{})

	if _, err := svc.SyncRange(context.Background(), day1, day2); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	result, err := svc.SyncRange(context.Background(), day1, day2)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.Summary.AlreadySynced != 2 || result.Summary.Updated+result.Summary.Inserted != 0 {
		t.Fatalf("overlapping window must not re-merge: %+v", result.Summary)
	}
}

func TestSyncRangeAbortsOnProviderAuthFailure(t *testing.T) {
	orders := &fakeOrders{
		pages: []kiwify.OrdersPage{{Orders: []kiwify.Order{order("o-1", "a@x.com")}}, {}},
		errAt: 2,
		err:   apperr.Upstream(apperr.KindUnauthorized, "kiwify", 401, `{"error":"expired"}`),
	}
	svc, bus := newTestService(newFakeLeads(), &fakeLedger{}, orders, Options{})

	result, err := svc.SyncRange(context.Background(), day1, day2)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if result.Pages != 1 || result.Summary.TotalFetched != 1 {
		t.Fatalf("expected partial result for the first page, got %+v", result)
	}

	var aborted *events.PurchaseSyncAborted
	for _, ev := range bus.events {
		if a, ok := ev.(events.PurchaseSyncAborted); ok {
			aborted = &a
		}
	}
	if aborted == nil || aborted.HTTPStatus != 401 {
		t.Fatalf("expected abort event with status, got %+v", aborted)
	}
}

func TestSyncRangeCapsDetails(t *testing.T) {
	list := make([]kiwify.Order, 0, 5)
	for i := 0; i < 5; i++ {
		list = append(list, order(fmt.Sprintf("o-%d", i), fmt.Sprintf("buyer%d@x.com", i)))
	}
	orders := &fakeOrders{pages: []kiwify.OrdersPage{{Orders: list}}}
	svc, _ := newTestService(newFakeLeads(), &fakeLedger{}, orders, Options{DetailLimit: 2})

	result, err := svc.SyncRange(context.Background(), day1, day2)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(result.Details) != 2 || !result.DetailsTruncated || result.Summary.Inserted != 5 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPartialMatchFallback(t *testing.T) {
	leads := newFakeLeads()
	lead := leads.add("joana.prado@empresa.com.br", domain.StatusLead, false)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{PartialEmailMatch: true})

	entry, err := svc.IngestEvent(context.Background(), EventFromOrder(order("o-1", "joana.prado@empresa.com")))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if entry.Outcome != ledger.OutcomeUpdated || entry.Reason != ledger.ReasonPartialEmailMatch {
		t.Fatalf("expected provisional partial merge, got %+v", entry)
	}
	if entry.LeadID == nil || *entry.LeadID != lead.ID {
		t.Fatalf("merged into wrong lead")
	}
}

func TestPartialMatchDisabledInserts(t *testing.T) {
	leads := newFakeLeads()
	leads.add("joana.prado@empresa.com.br", domain.StatusLead, false)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{PartialEmailMatch: false})

	entry, _ := svc.IngestEvent(context.Background(), EventFromOrder(order("o-1", "joana.prado@empresa.com")))
	if entry.Outcome != ledger.OutcomeInserted {
		t.Fatalf("expected insert without fallback, got %+v", entry)
	}
}

func TestReprocessMarksAndSuggests(t *testing.T) {
	leads := newFakeLeads()
	known := leads.add("carla@x.com", domain.StatusPlanning, false)
	leads.add("marcos@x.com", domain.StatusLead, false)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{})

	result, err := svc.Reprocess(context.Background(), []string{"Carla@X.com", "marcus@x.com", "carla@x.com"})
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if result.Summary.TotalFetched != 2 || result.Summary.Updated != 1 || result.Summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	if !leads.get(known.ID).HasPaid {
		t.Fatalf("known lead not marked")
	}
	miss := result.Details[1]
	if miss.Reason != ledger.ReasonLeadNotFound || len(miss.Similar) != 1 || miss.Similar[0] != "marcos@x.com" {
		t.Fatalf("expected similar hint, got %+v", miss)
	}
}

func TestParseRange(t *testing.T) {
	if _, _, err := ParseRange("2024-03-02", "2024-03-01"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected order validation, got %v", err)
	}
	if _, _, err := ParseRange("2024-01-01", "2024-03-01"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected span validation, got %v", err)
	}
	if _, _, err := ParseRange("2024-03-01", "2024-03-31"); err != nil {
		t.Fatalf("31 day range should pass: %v", err)
	}
	if _, _, err := ParseRange("2024-13-01", "2024-03-31"); err == nil {
		t.Fatalf("expected malformed date to fail")
	}
}

func TestIngestEventInFlightAsksForRedelivery(t *testing.T) {
	leads := newFakeLeads()
	lead := leads.add("caio@x.com", domain.StatusLead, false)
	led := &fakeLedger{}
	claims := newTestClaims(t)
	svc := New(leads, led, nil, nil, claims, &recordingBus{}, logger.Discard(), Options{})

	key := ledger.ClaimKey(ledger.ActionPurchaseSync, "o-9")
	if ok, err := claims.Acquire(context.Background(), key); err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}

	entry, err := svc.IngestEvent(context.Background(), EventFromOrder(order("o-9", "caio@x.com")))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if entry.Outcome != ledger.OutcomeSkipped || entry.Reason != ledger.ReasonInFlight {
		t.Fatalf("expected skipped/in_flight, got %+v", entry)
	}
	if leads.get(lead.ID).HasPaid {
		t.Fatalf("held order must not touch the lead")
	}

	// Redelivery after the holder is gone merges normally.
	if err := claims.Release(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	entry, err = svc.IngestEvent(context.Background(), EventFromOrder(order("o-9", "caio@x.com")))
	if err != nil || entry.Outcome != ledger.OutcomeUpdated {
		t.Fatalf("redelivery: %+v %v", entry, err)
	}
}

func TestMergeFailsWhenStoredLeadBreaksPaidInvariant(t *testing.T) {
	leads := newFakeLeads()
	leads.staleStatus = true
	leads.add("duda@x.com", domain.StatusPlanning, false)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{})

	entry, err := svc.IngestEvent(context.Background(), EventFromOrder(order("o-10", "duda@x.com")))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if entry.Outcome != ledger.OutcomeFailed || entry.Reason != ledger.ReasonStoreError {
		t.Fatalf("expected failed/store_error, got %+v", entry)
	}
	if !strings.Contains(entry.Error, domain.ErrPaidWithoutPurchaseStatus.Error()) {
		t.Fatalf("unexpected error %q", entry.Error)
	}
}

func TestOrderEntriesReturnsHistory(t *testing.T) {
	leads := newFakeLeads()
	leads.add("eva@x.com", domain.StatusLead, false)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{})

	ev := EventFromOrder(order("o-11", "eva@x.com"))
	for i := 0; i < 2; i++ {
		if _, err := svc.IngestEvent(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := svc.OrderEntries(context.Background(), "o-11")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Outcome != ledger.OutcomeUpdated || entries[1].Outcome != ledger.OutcomeAlreadyProcessed {
		t.Fatalf("unexpected history %+v", entries)
	}

	if _, err := svc.OrderEntries(context.Background(), "o-missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
