// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"salesops_backend/platform/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Purchase Reconciliation Events
// =============================================================================

// PurchaseReconciled is published once per order processed by the reconciler.
type PurchaseReconciled struct {
	BaseEvent
	LeadID  *uuid.UUID      `json:"leadId,omitempty"`
	OrderID string          `json:"orderId"`
	Source  string          `json:"source"`
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

func (e PurchaseReconciled) EventName() string { return "reconcile.purchase.reconciled" }

// PurchaseSyncCompleted is published when a batch sync finishes.
type PurchaseSyncCompleted struct {
	BaseEvent
	Source        string `json:"source"`
	TotalFetched  int    `json:"totalFetched"`
	Updated       int    `json:"updated"`
	Inserted      int    `json:"inserted"`
	AlreadySynced int    `json:"alreadySynced"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
}

func (e PurchaseSyncCompleted) EventName() string { return "reconcile.sync.completed" }

// PurchaseSyncAborted is published when a batch sync stops before finishing,
// typically on provider authentication failure.
type PurchaseSyncAborted struct {
	BaseEvent
	Source     string `json:"source"`
	ErrorKind  string `json:"errorKind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
}

func (e PurchaseSyncAborted) EventName() string { return "reconcile.sync.aborted" }

// =============================================================================
// Outreach Events
// =============================================================================

// OutreachAttempted is published once per lead attempt.
type OutreachAttempted struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Trigger    string    `json:"trigger"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
}

func (e OutreachAttempted) EventName() string { return "outreach.attempted" }

// OutreachRunCompleted is published when a dispatch invocation finishes.
type OutreachRunCompleted struct {
	BaseEvent
	Trigger   string `json:"trigger"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

func (e OutreachRunCompleted) EventName() string { return "outreach.run.completed" }
