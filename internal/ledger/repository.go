package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicate is returned when an append collides with one of the ledger's
// uniqueness guarantees (a second "sent" for a lead, or a second merge of
// the same order into the same lead).
var ErrDuplicate = errors.New("ledger entry already recorded")

const uniqueViolation = "23505"

const entryColumns = `id, lead_id, action, correlation_id, outcome, reason, trigger_type,
	http_status, message_preview, request_payload, response_payload, error_message, created_at`

// Recorder appends entries. Services depend on this.
type Recorder interface {
	Append(ctx context.Context, e Entry) (Entry, error)
}

// Reader answers "did this already happen" questions.
type Reader interface {
	HasSent(ctx context.Context, action Action, leadIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	ListRecent(ctx context.Context, action Action, limit int) ([]Entry, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ Recorder = (*Repository)(nil)
	_ Reader   = (*Repository)(nil)
)

// Append writes one entry and returns it with id and timestamp filled in.
func (r *Repository) Append(ctx context.Context, e Entry) (Entry, error) {
	var errMsg *string
	if e.Error != "" {
		errMsg = &e.Error
	}
	var preview *string
	if e.MessagePreview != "" {
		preview = &e.MessagePreview
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO idempotency_ledger (
			lead_id, action, correlation_id, outcome, reason, trigger_type,
			http_status, message_preview, request_payload, response_payload, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`,
		e.LeadID, string(e.Action), e.CorrelationID, string(e.Outcome), e.Reason, string(e.Trigger),
		e.HTTPStatus, preview, nullableJSON(e.Request), nullableJSON(e.Response), errMsg,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return e, fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return e, fmt.Errorf("append ledger entry: %w", err)
	}
	return e, nil
}

// HasSent returns the subset of leadIDs that already have a "sent" entry.
func (r *Repository) HasSent(ctx context.Context, action Action, leadIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	sent := make(map[uuid.UUID]bool, len(leadIDs))
	if len(leadIDs) == 0 {
		return sent, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT lead_id
		FROM idempotency_ledger
		WHERE action = $1 AND outcome = 'sent' AND lead_id = ANY($2)
	`, string(action), leadIDs)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		sent[id] = true
	}
	return sent, nil
}

// ListRecent returns the newest entries for action.
func (r *Repository) ListRecent(ctx context.Context, action Action, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM idempotency_ledger
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(action), limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListByCorrelation returns every entry recorded for an external id.
func (r *Repository) ListByCorrelation(ctx context.Context, action Action, correlationID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM idempotency_ledger
		WHERE action = $1 AND correlation_id = $2
		ORDER BY created_at ASC
	`, string(action), correlationID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var (
			e                        Entry
			action, outcome, trigger string
			preview, errMsg          *string
			request, response        []byte
		)
		if err := rows.Scan(
			&e.ID, &e.LeadID, &action, &e.CorrelationID, &outcome, &e.Reason, &trigger,
			&e.HTTPStatus, &preview, &request, &response, &errMsg, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Action, e.Outcome, e.Trigger = Action(action), Outcome(outcome), Trigger(trigger)
		if preview != nil {
			e.MessagePreview = *preview
		}
		if errMsg != nil {
			e.Error = *errMsg
		}
		e.Request, e.Response = request, response
		items = append(items, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
