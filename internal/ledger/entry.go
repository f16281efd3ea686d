// Package ledger is the append-only record of every attempted external side
// effect. It is the authority used to decide whether an action already
// happened; rows are never updated or deleted.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of side effect an entry records.
type Action string

const (
	ActionDispatch     Action = "dispatch"
	ActionPurchaseSync Action = "purchase-sync"
)

// Outcome is the decision recorded for one attempt.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeFailed           Outcome = "failed"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeUpdated          Outcome = "updated"
	OutcomeInserted         Outcome = "inserted"
	OutcomeAlreadyProcessed Outcome = "already-processed"
)

// Reasons attached to skipped, failed or short-circuited entries.
const (
	ReasonNoEmail               = "no_email"
	ReasonNoPhone               = "no_phone"
	ReasonNormalizationFailed   = "normalization_failed"
	ReasonAlreadyProcessedInRun = "already_processed_in_run"
	ReasonPartialEmailMatch     = "partial_email_match"
	ReasonAmbiguousPartialMatch = "ambiguous_partial_match"
	ReasonAlreadySent           = "already_sent"
	ReasonInFlight              = "in_flight"
	ReasonLeadNotFound          = "lead_not_found"
	ReasonStoreError            = "store_error"
	ReasonProviderError         = "provider_error"
	ReasonStatusNotPaid         = "status_not_paid"
	ReasonDuplicateOrder        = "duplicate_order"
)

// Trigger records what started a dispatch attempt.
type Trigger string

const (
	TriggerAuto    Trigger = "auto"
	TriggerManual  Trigger = "manual"
	TriggerWebhook Trigger = "webhook"
	TriggerSync    Trigger = "sync"
)

// Entry is one ledger row.
type Entry struct {
	ID             uuid.UUID
	LeadID         *uuid.UUID
	Action         Action
	CorrelationID  string
	Outcome        Outcome
	Reason         string
	Trigger        Trigger
	HTTPStatus     *int
	MessagePreview string
	Request        json.RawMessage
	Response       json.RawMessage
	Error          string
	CreatedAt      time.Time
}

// LeadIDString returns the lead id or "" for entries without a lead.
func (e Entry) LeadIDString() string {
	if e.LeadID == nil {
		return ""
	}
	return e.LeadID.String()
}

// Snapshot marshals v for a request or response column. Marshal failures
// are recorded as a JSON string so the attempt is still written.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		quoted, _ := json.Marshal("unserializable: " + err.Error())
		return quoted
	}
	return data
}

// RawJSON keeps body as-is when it is valid JSON and wraps it in a JSON
// string otherwise. Empty input yields nil.
func RawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
