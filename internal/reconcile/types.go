package reconcile

import (
	"encoding/json"
	"strings"
	"time"

	"salesops_backend/internal/kiwify"
	"salesops_backend/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseEvent is one purchase signal, from a webhook or from the orders
// listing. It is consumed into lead state and kept only in the ledger.
type PurchaseEvent struct {
	OrderID    string
	Status     string
	BuyerEmail string
	BuyerName  string
	PaidAt     *time.Time
	CreatedAt  *time.Time
	Amount     decimal.Decimal
	Raw        json.RawMessage
}

// EventFromOrder converts a provider order into a purchase event.
func EventFromOrder(o kiwify.Order) PurchaseEvent {
	return PurchaseEvent{
		OrderID:    o.ID,
		Status:     o.Status,
		BuyerEmail: o.Email,
		BuyerName:  o.Name,
		PaidAt:     o.PaidAt,
		Amount:     o.Amount,
		Raw:        json.RawMessage(o.Raw),
	}
}

// paidStatuses are the provider order statuses that mean money was received.
// An empty status is accepted because the orders listing is already
// filtered to approved orders.
var paidStatuses = map[string]bool{
	"":          true,
	"paid":      true,
	"approved":  true,
	"completed": true,
}

func (e PurchaseEvent) isPaid() bool {
	return paidStatuses[strings.ToLower(strings.TrimSpace(e.Status))]
}

// purchaseTime picks the approval time, then the creation time, then now.
func (e PurchaseEvent) purchaseTime(now time.Time) time.Time {
	if e.PaidAt != nil && !e.PaidAt.IsZero() {
		return e.PaidAt.UTC()
	}
	if e.CreatedAt != nil && !e.CreatedAt.IsZero() {
		return e.CreatedAt.UTC()
	}
	return now.UTC()
}

// OrderDetail is the per-order decision returned to callers.
type OrderDetail struct {
	OrderID string         `json:"orderId,omitempty"`
	Email   string         `json:"email,omitempty"`
	LeadID  *uuid.UUID     `json:"leadId,omitempty"`
	Outcome ledger.Outcome `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
	Similar []string       `json:"similar,omitempty"`
}

// SyncSummary counts every outcome of one batch.
type SyncSummary struct {
	TotalFetched  int `json:"totalFetched"`
	Updated       int `json:"updated"`
	Inserted      int `json:"inserted"`
	AlreadySynced int `json:"alreadySynced"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

func (s *SyncSummary) add(outcome ledger.Outcome) {
	switch outcome {
	case ledger.OutcomeUpdated:
		s.Updated++
	case ledger.OutcomeInserted:
		s.Inserted++
	case ledger.OutcomeAlreadyProcessed:
		s.AlreadySynced++
	case ledger.OutcomeSkipped:
		s.Skipped++
	case ledger.OutcomeFailed:
		s.Failed++
	}
}

func (s SyncSummary) counts() map[string]int {
	return map[string]int{
		"total_fetched":  s.TotalFetched,
		"updated":        s.Updated,
		"inserted":       s.Inserted,
		"already_synced": s.AlreadySynced,
		"skipped":        s.Skipped,
		"failed":         s.Failed,
	}
}

// SyncResult is the summary plus a capped list of per-order details. The
// full detail is in the ledger.
type SyncResult struct {
	Summary          SyncSummary   `json:"summary"`
	Details          []OrderDetail `json:"details"`
	DetailsTruncated bool          `json:"detailsTruncated"`
	Pages            int           `json:"pages"`
}

func (r *SyncResult) record(d OrderDetail, limit int) {
	r.Summary.add(d.Outcome)
	if len(r.Details) < limit {
		r.Details = append(r.Details, d)
		return
	}
	r.DetailsTruncated = true
}

// runState is the transient per-sync memory of emails inserted in this run.
type runState struct {
	created map[string]uuid.UUID
}

func newRunState() *runState {
	return &runState{created: make(map[string]uuid.UUID)}
}
