// Package outreach selects unconverted leads and sends each one a single
// automated message, recording every attempt in the ledger.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"salesops_backend/internal/leads/domain"
	"salesops_backend/platform/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

const (
	defaultMinLeadAge       = 15 * time.Minute
	defaultMaxPerInvocation = 2
	defaultCountryCode      = "+55"
)

// ErrNoPolicy is returned by a PolicySource that holds no enabled policy.
var ErrNoPolicy = errors.New("no dispatch policy configured")

// Policy is the dispatch configuration snapshot used for one invocation.
type Policy struct {
	Enabled            bool
	MinLeadAge         time.Duration
	MaxPerInvocation   int
	TargetStatuses     []domain.Status
	RequireUnassigned  bool
	DefaultCountryCode string
	MessageTemplate    string
	CampaignID         string
	Instance           string
}

// DefaultPolicy is used when neither the database nor a policy file
// provides one.
func DefaultPolicy(countryCode string) Policy {
	if countryCode == "" {
		countryCode = defaultCountryCode
	}
	return Policy{
		Enabled:            true,
		MinLeadAge:         defaultMinLeadAge,
		MaxPerInvocation:   defaultMaxPerInvocation,
		TargetStatuses:     []domain.Status{domain.StatusLead},
		RequireUnassigned:  true,
		DefaultCountryCode: countryCode,
	}
}

// Template returns the policy template or the built-in default.
func (p Policy) Template() string {
	if p.MessageTemplate != "" {
		return p.MessageTemplate
	}
	return DefaultTemplate
}

func (p Policy) snapshot() Policy {
	p.TargetStatuses = slices.Clone(p.TargetStatuses)
	return p
}

func (p Policy) validate() error {
	if p.MaxPerInvocation < 1 {
		return fmt.Errorf("max_per_invocation must be positive, got %d", p.MaxPerInvocation)
	}
	if p.MinLeadAge < 0 {
		return fmt.Errorf("min_lead_age_minutes must not be negative")
	}
	return nil
}

// PolicySource yields the current dispatch policy.
type PolicySource interface {
	Load(ctx context.Context) (Policy, error)
}

// PolicyStore reads the single enabled row of dispatch_config.
type PolicyStore struct {
	pool *pgxpool.Pool
}

func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

func (s *PolicyStore) Load(ctx context.Context) (Policy, error) {
	var (
		p        Policy
		minutes  int
		statuses []string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT enabled, min_lead_age_minutes, max_per_invocation, target_statuses,
		       require_unassigned, default_country_code, message_template, campaign_id, instance
		FROM dispatch_config
		WHERE enabled
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(&p.Enabled, &minutes, &p.MaxPerInvocation, &statuses,
		&p.RequireUnassigned, &p.DefaultCountryCode, &p.MessageTemplate, &p.CampaignID, &p.Instance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrNoPolicy
	}
	if err != nil {
		return Policy{}, fmt.Errorf("load dispatch policy: %w", err)
	}

	p.MinLeadAge = time.Duration(minutes) * time.Minute
	p.TargetStatuses = parseStatuses(statuses)
	return p, nil
}

// policyFile is the YAML shape of OUTREACH_POLICY_FILE.
type policyFile struct {
	Enabled            *bool    `yaml:"enabled"`
	MinLeadAgeMinutes  *int     `yaml:"min_lead_age_minutes"`
	MaxPerInvocation   *int     `yaml:"max_per_invocation"`
	TargetStatuses     []string `yaml:"target_statuses"`
	RequireUnassigned  *bool    `yaml:"require_unassigned"`
	DefaultCountryCode string   `yaml:"default_country_code"`
	MessageTemplate    string   `yaml:"message_template"`
	CampaignID         string   `yaml:"campaign_id"`
	Instance           string   `yaml:"instance"`
}

// LoadPolicyFile overlays the YAML file at path onto base.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return parsePolicyYAML(data, base)
}

func parsePolicyYAML(data []byte, base Policy) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	p := base.snapshot()
	if f.Enabled != nil {
		p.Enabled = *f.Enabled
	}
	if f.MinLeadAgeMinutes != nil {
		p.MinLeadAge = time.Duration(*f.MinLeadAgeMinutes) * time.Minute
	}
	if f.MaxPerInvocation != nil {
		p.MaxPerInvocation = *f.MaxPerInvocation
	}
	if len(f.TargetStatuses) > 0 {
		p.TargetStatuses = parseStatuses(f.TargetStatuses)
	}
	if f.RequireUnassigned != nil {
		p.RequireUnassigned = *f.RequireUnassigned
	}
	if f.DefaultCountryCode != "" {
		p.DefaultCountryCode = f.DefaultCountryCode
	}
	if f.MessageTemplate != "" {
		p.MessageTemplate = f.MessageTemplate
	}
	if f.CampaignID != "" {
		p.CampaignID = f.CampaignID
	}
	if f.Instance != "" {
		p.Instance = f.Instance
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// PolicyLoader resolves the policy from the database, then the policy
// file, then the built-in defaults. Each call returns an independent
// snapshot.
type PolicyLoader struct {
	store    PolicySource
	filePath string
	defaults Policy
	log      *logger.Logger
}

func NewPolicyLoader(store PolicySource, filePath, countryCode string, log *logger.Logger) *PolicyLoader {
	return &PolicyLoader{
		store:    store,
		filePath: filePath,
		defaults: DefaultPolicy(countryCode),
		log:      log,
	}
}

func (l *PolicyLoader) Load(ctx context.Context) (Policy, error) {
	if l.store != nil {
		p, err := l.store.Load(ctx)
		switch {
		case err == nil:
			if p.DefaultCountryCode == "" {
				p.DefaultCountryCode = l.defaults.DefaultCountryCode
			}
			if verr := p.validate(); verr != nil {
				return Policy{}, verr
			}
			return p.snapshot(), nil
		case !errors.Is(err, ErrNoPolicy):
			return Policy{}, err
		}
	}

	if l.filePath != "" {
		p, err := LoadPolicyFile(l.filePath, l.defaults)
		if err != nil {
			return Policy{}, err
		}
		return p, nil
	}

	l.log.Debug("using built-in dispatch policy")
	return l.defaults.snapshot(), nil
}

func parseStatuses(raw []string) []domain.Status {
	out := make([]domain.Status, 0, len(raw))
	for _, r := range raw {
		if s, ok := domain.ParseStatus(r); ok {
			out = append(out, s)
		}
	}
	return out
}
