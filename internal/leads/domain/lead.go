// Package domain holds the lead aggregate and the invariants every writer
// must respect.
package domain

import (
	"errors"
	"strings"
	"time"

	"salesops_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Status is the negotiation stage of a lead in the sales funnel.
type Status string

const (
	StatusLead          Status = "lead"
	StatusPurchased     Status = "purchased"
	StatusDeclined      Status = "declined"
	StatusPlanning      Status = "planning"
	StatusPlanDelivered Status = "plan_delivered"
	StatusUpsellPaid    Status = "upsell_paid"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	switch s {
	case StatusLead, StatusPurchased, StatusDeclined, StatusPlanning, StatusPlanDelivered, StatusUpsellPaid:
		return s, true
	}
	return "", false
}

// PaidStatus reports whether s is a stage that implies payment.
func (s Status) PaidStatus() bool {
	return s == StatusPurchased || s == StatusUpsellPaid
}

// SourcePurchase marks leads created from a purchase signal with no prior intake.
const SourcePurchase = "purchase"

// PurchasePlaceholderBusinessType is stored on leads created from a purchase
// event, where no intake answers exist yet.
const PurchasePlaceholderBusinessType = "digital"

// ErrPaidWithoutPurchaseStatus is returned when a lead would be stored as
// paid while its negotiation status does not say so.
var ErrPaidWithoutPurchaseStatus = errors.New("paid lead must have a purchased or upsell_paid status")

// Lead is a prospective or converted customer.
type Lead struct {
	ID                    uuid.UUID
	Email                 string
	EmailNormalized       string
	Phone                 string
	Name                  string
	BusinessType          string
	Status                *Status
	HasPaid               bool
	PurchaseTimestamp     *time.Time
	ContactedViaMessaging bool
	AssignedOwner         *string
	AssignedAt            *time.Time
	Answers               Answers
	Source                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// StatusOrDefault returns the stored status, or StatusLead when unset.
func (l Lead) StatusOrDefault() Status {
	if l.Status == nil {
		return StatusLead
	}
	return *l.Status
}

// PurchaseRecorded reports whether the purchase has already been merged:
// the lead is paid and sits in a paid stage.
func (l Lead) PurchaseRecorded() bool {
	return l.HasPaid && l.Status != nil && l.Status.PaidStatus()
}

// Validate checks the paid/status invariant.
func (l Lead) Validate() error {
	if l.HasPaid && (l.Status == nil || !l.Status.PaidStatus()) {
		return ErrPaidWithoutPurchaseStatus
	}
	return nil
}

// DisplayName returns the stored name, falling back to the intake answers.
func (l Lead) DisplayName() string {
	if name := sanitize.Name(l.Name); name != "" {
		return name
	}
	return sanitize.Name(l.Answers.ExtractName())
}

// ContactPhone returns the first non-empty phone candidate: the stored phone
// field, then the known answer fields.
func (l Lead) ContactPhone() string {
	if p := strings.TrimSpace(l.Phone); p != "" {
		return p
	}
	return l.Answers.ExtractPhone()
}

// BusinessTypeCode returns the stored business type, falling back to answers.
func (l Lead) BusinessTypeCode() string {
	if bt := strings.TrimSpace(l.BusinessType); bt != "" {
		return bt
	}
	return l.Answers.ExtractBusinessType()
}
