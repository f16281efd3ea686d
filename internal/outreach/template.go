package outreach

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"salesops_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTemplate is sent when neither the requester nor the policy define one.
const DefaultTemplate = "Olá {{primeiro_nome}}! Tudo bem? Vi que você demonstrou interesse em melhorar suas vendas. Posso te enviar agora um plano rapidinho para você avaliar?"

// TemplateContextPartnerLeads is the template context used by dispatch.
const TemplateContextPartnerLeads = "leads_parceria"

var placeholderPattern = regexp.MustCompile(`(?i)\{\{\s*([a-z_]+)\s*\}\}`)

var businessTypeLabels = map[string]string{
	"physical": "físico",
	"digital":  "digital",
	"service":  "serviço",
}

// Variables maps placeholder names to values.
type Variables map[string]string

// VariablesFor builds the template variables for lead.
func VariablesFor(lead domain.Lead) Variables {
	name := lead.DisplayName()
	return Variables{
		"nome":          name,
		"primeiro_nome": firstName(name),
		"tipo_negocio":  businessTypeLabel(lead.BusinessTypeCode()),
	}
}

// Render substitutes every known placeholder, case-insensitively and
// tolerating inner whitespace. Unknown placeholders are left untouched.
func Render(tmpl string, vars Variables) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := strings.ToLower(placeholderPattern.FindStringSubmatch(match)[1])
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func businessTypeLabel(code string) string {
	if label, ok := businessTypeLabels[strings.ToLower(code)]; ok {
		return label
	}
	return code
}

// TemplateSource looks up a user's saved template for a context.
type TemplateSource interface {
	Find(ctx context.Context, ownerID uuid.UUID, templateContext string) (string, bool, error)
}

// TemplateRepository stores per-user message templates.
type TemplateRepository struct {
	pool *pgxpool.Pool
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

func (r *TemplateRepository) Find(ctx context.Context, ownerID uuid.UUID, templateContext string) (string, bool, error) {
	var body string
	err := r.pool.QueryRow(ctx, `
		SELECT body FROM message_templates
		WHERE owner_id = $1 AND context = $2
	`, ownerID, templateContext).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find message template: %w", err)
	}
	if strings.TrimSpace(body) == "" {
		return "", false, nil
	}
	return body, true, nil
}

// Save upserts the owner's template for a context.
func (r *TemplateRepository) Save(ctx context.Context, ownerID uuid.UUID, templateContext, body string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO message_templates (owner_id, context, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, context) DO UPDATE
		SET body = EXCLUDED.body, updated_at = now()
	`, ownerID, templateContext, body)
	if err != nil {
		return fmt.Errorf("save message template: %w", err)
	}
	return nil
}
