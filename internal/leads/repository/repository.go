package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salesops_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

const leadColumns = `id, email, email_normalized, phone, name, business_type, negotiation_status,
	has_paid, purchase_timestamp, contacted_via_messaging, assigned_owner, assigned_at,
	answers, source, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ PurchaseWriter = (*Repository)(nil)
	_ OutreachStore  = (*Repository)(nil)
)

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

// FindByNormalizedEmail looks a lead up by its canonical email key.
func (r *Repository) FindByNormalizedEmail(ctx context.Context, normalized string) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email_normalized = $1`, normalized))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

// FindByEmailContaining returns leads whose normalized email contains, or is
// contained in, the given normalized email. Exact matches are excluded.
func (r *Repository) FindByEmailContaining(ctx context.Context, normalized string, limit int) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE email_normalized IS NOT NULL
		  AND email_normalized <> $1
		  AND (strpos(email_normalized, $1) > 0 OR strpos($1, email_normalized) > 0)
		ORDER BY created_at ASC
		LIMIT $2
	`, normalized, limit)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

// ListEmailsByDomain returns normalized emails sharing a domain, newest first.
func (r *Repository) ListEmailsByDomain(ctx context.Context, domainName string, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT email_normalized
		FROM leads
		WHERE email_normalized IS NOT NULL AND split_part(email_normalized, '@', 2) = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, domainName, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// MarkPurchased flips the lead to paid/purchased unless the purchase is
// already recorded. The bool is false when another writer got there first.
func (r *Repository) MarkPurchased(ctx context.Context, id uuid.UUID, paidAt time.Time) (domain.Lead, bool, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET has_paid = TRUE,
		    negotiation_status = 'purchased',
		    purchase_timestamp = $2,
		    updated_at = now()
		WHERE id = $1
		  AND NOT (has_paid AND negotiation_status IN ('purchased', 'upsell_paid'))
		RETURNING `+leadColumns, id, paidAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, false, nil
	}
	if err != nil {
		return domain.Lead{}, false, fmt.Errorf("mark lead %s purchased: %w", id, err)
	}
	return lead, true, nil
}

// InsertPurchased creates a minimal paid lead. The bool is false when a
// lead with the same normalized email already exists.
func (r *Repository) InsertPurchased(ctx context.Context, p InsertPurchasedParams) (domain.Lead, bool, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			email, email_normalized, name, business_type, negotiation_status,
			has_paid, purchase_timestamp, source
		) VALUES ($1, $2, NULLIF($3, ''), $4, 'purchased', TRUE, $5, $6)
		ON CONFLICT (email_normalized) WHERE email_normalized IS NOT NULL DO NOTHING
		RETURNING `+leadColumns,
		p.Email, p.EmailNormalized, p.Name, domain.PurchasePlaceholderBusinessType, p.PaidAt, domain.SourcePurchase))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, false, nil
	}
	if err != nil {
		return domain.Lead{}, false, fmt.Errorf("insert purchased lead: %w", err)
	}
	return lead, true, nil
}

// ListOutreachCandidates applies the store-side eligibility filter, oldest first.
func (r *Repository) ListOutreachCandidates(ctx context.Context, f CandidateFilter) ([]domain.Lead, error) {
	statuses := make([]string, 0, len(f.TargetStatuses))
	for _, s := range f.TargetStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE has_paid = FALSE
		  AND (negotiation_status IS NULL OR negotiation_status = ANY($1))
		  AND contacted_via_messaging IS NOT TRUE
		  AND created_at <= $2
		  AND (NOT $3::boolean OR assigned_owner IS NULL)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`, statuses, f.CreatedBefore, f.RequireUnassigned, f.Limit)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

// MarkContacted sets the messaging flag. It reports false when the flag was
// already set.
func (r *Repository) MarkContacted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET contacted_via_messaging = TRUE, updated_at = now()
		WHERE id = $1 AND contacted_via_messaging IS NOT TRUE
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()

	items := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, lead)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead                                  domain.Lead
		email, emailNorm, phone, name, bizTyp *string
		status                                *string
		contacted                             *bool
		answers                               []byte
	)
	err := row.Scan(
		&lead.ID, &email, &emailNorm, &phone, &name, &bizTyp, &status,
		&lead.HasPaid, &lead.PurchaseTimestamp, &contacted, &lead.AssignedOwner, &lead.AssignedAt,
		&answers, &lead.Source, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	lead.Email = deref(email)
	lead.EmailNormalized = deref(emailNorm)
	lead.Phone = deref(phone)
	lead.Name = deref(name)
	lead.BusinessType = deref(bizTyp)
	lead.ContactedViaMessaging = contacted != nil && *contacted
	if status != nil {
		s := domain.Status(*status)
		lead.Status = &s
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &lead.Answers); err != nil {
			return domain.Lead{}, fmt.Errorf("decode answers for lead %s: %w", lead.ID, err)
		}
	}
	return lead, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
