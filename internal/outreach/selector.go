package outreach

import (
	"context"
	"fmt"
	"slices"
	"time"

	"salesops_backend/internal/leads/domain"
	"salesops_backend/internal/leads/repository"
	"salesops_backend/internal/ledger"

	"github.com/google/uuid"
)

// overfetch widens the store query so the ledger post-filter rarely leaves
// the batch short of the quota.
const overfetch = 4

// SentChecker reports which leads already have a successful send recorded.
type SentChecker interface {
	HasSent(ctx context.Context, action ledger.Action, leadIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// Selector picks the leads eligible for one dispatch invocation.
type Selector struct {
	leads repository.OutreachStore
	sent  SentChecker
}

func NewSelector(leads repository.OutreachStore, sent SentChecker) *Selector {
	return &Selector{leads: leads, sent: sent}
}

// Select returns at most p.MaxPerInvocation eligible leads, oldest first.
func (s *Selector) Select(ctx context.Context, p Policy, now time.Time) ([]domain.Lead, error) {
	if p.MaxPerInvocation < 1 {
		return nil, nil
	}

	candidates, err := s.leads.ListOutreachCandidates(ctx, repository.CandidateFilter{
		TargetStatuses:    p.TargetStatuses,
		CreatedBefore:     now.Add(-p.MinLeadAge),
		RequireUnassigned: p.RequireUnassigned,
		Limit:             p.MaxPerInvocation * overfetch,
	})
	if err != nil {
		return nil, fmt.Errorf("list outreach candidates: %w", err)
	}

	eligible := make([]domain.Lead, 0, len(candidates))
	for _, lead := range candidates {
		if Eligible(lead, p, now) {
			eligible = append(eligible, lead)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(eligible))
	for i, lead := range eligible {
		ids[i] = lead.ID
	}
	sent, err := s.sent.HasSent(ctx, ledger.ActionDispatch, ids)
	if err != nil {
		return nil, fmt.Errorf("check sent leads: %w", err)
	}

	eligible = slices.DeleteFunc(eligible, func(l domain.Lead) bool { return sent[l.ID] })
	slices.SortStableFunc(eligible, func(a, b domain.Lead) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(eligible) > p.MaxPerInvocation {
		eligible = eligible[:p.MaxPerInvocation]
	}
	return eligible, nil
}

// Eligible is the in-memory form of the dispatch filter. A lead with no
// status counts as a fresh lead.
func Eligible(lead domain.Lead, p Policy, now time.Time) bool {
	if lead.HasPaid || lead.ContactedViaMessaging {
		return false
	}
	if lead.CreatedAt.After(now.Add(-p.MinLeadAge)) {
		return false
	}
	if p.RequireUnassigned && lead.AssignedOwner != nil && *lead.AssignedOwner != "" {
		return false
	}
	if lead.Status == nil {
		return true
	}
	return slices.Contains(p.TargetStatuses, *lead.Status)
}
