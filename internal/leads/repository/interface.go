package repository

import (
	"context"
	"time"

	"salesops_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to lead data.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	FindByNormalizedEmail(ctx context.Context, normalized string) (domain.Lead, error)
}

// PurchaseWriter is what purchase reconciliation needs from the lead store.
type PurchaseWriter interface {
	LeadReader
	FindByEmailContaining(ctx context.Context, normalized string, limit int) ([]domain.Lead, error)
	ListEmailsByDomain(ctx context.Context, domain string, limit int) ([]string, error)
	MarkPurchased(ctx context.Context, id uuid.UUID, paidAt time.Time) (domain.Lead, bool, error)
	InsertPurchased(ctx context.Context, params InsertPurchasedParams) (domain.Lead, bool, error)
}

// OutreachStore is what outreach dispatch needs from the lead store.
type OutreachStore interface {
	LeadReader
	ListOutreachCandidates(ctx context.Context, filter CandidateFilter) ([]domain.Lead, error)
	MarkContacted(ctx context.Context, id uuid.UUID) (bool, error)
}

// InsertPurchasedParams describes a lead created from a purchase signal.
type InsertPurchasedParams struct {
	Email           string
	EmailNormalized string
	Name            string
	PaidAt          time.Time
}

// CandidateFilter is the store-side part of outreach eligibility.
type CandidateFilter struct {
	TargetStatuses    []domain.Status
	CreatedBefore     time.Time
	RequireUnassigned bool
	Limit             int
}
