package outreach

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"salesops_backend/internal/leads/domain"
	"salesops_backend/platform/logger"
)

func TestRender(t *testing.T) {
	vars := Variables{"nome": "Ana Souza", "primeiro_nome": "Ana", "tipo_negocio": "físico"}
	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain", "Oi {{primeiro_nome}}!", "Oi Ana!"},
		{"whitespace and case", "Oi {{ NOME }}", "Oi Ana Souza"},
		{"repeated", "{{nome}} / {{nome}}", "Ana Souza / Ana Souza"},
		{"unknown kept", "Oi {{apelido}}", "Oi {{apelido}}"},
		{"business type", "negócio {{tipo_negocio}}", "negócio físico"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.tmpl, vars); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestRenderWithoutNameLeavesEmptySlot(t *testing.T) {
	got := Render("Oi {{primeiro_nome}}!", VariablesFor(domain.Lead{}))
	if got != "Oi !" {
		t.Fatalf("got %q", got)
	}
}

func TestVariablesForFallsBackToAnswers(t *testing.T) {
	lead := domain.Lead{Answers: domain.Answers{"nome": "  Maria   Clara ", "tipo_negocio": "service"}}
	vars := VariablesFor(lead)
	if vars["primeiro_nome"] != "Maria" {
		t.Errorf("primeiro_nome = %q", vars["primeiro_nome"])
	}
	if vars["tipo_negocio"] != "serviço" {
		t.Errorf("tipo_negocio = %q", vars["tipo_negocio"])
	}
}

func TestParsePolicyYAMLOverlaysBase(t *testing.T) {
	base := DefaultPolicy("+55")
	p, err := parsePolicyYAML([]byte(`
max_per_invocation: 5
min_lead_age_minutes: 30
target_statuses: [lead, planning, bogus]
message_template: "Oi {{nome}}"
`), base)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.MaxPerInvocation != 5 || p.MinLeadAge != 30*time.Minute {
		t.Errorf("unexpected limits %+v", p)
	}
	if len(p.TargetStatuses) != 2 || p.TargetStatuses[1] != domain.StatusPlanning {
		t.Errorf("unexpected statuses %v", p.TargetStatuses)
	}
	if !p.RequireUnassigned || p.DefaultCountryCode != "+55" || !p.Enabled {
		t.Errorf("base values should be kept: %+v", p)
	}
	if p.Template() != "Oi {{nome}}" {
		t.Errorf("template = %q", p.Template())
	}

	if _, err := parsePolicyYAML([]byte("max_per_invocation: 0"), base); err == nil {
		t.Fatalf("expected validation error for zero quota")
	}
}

type errPolicy struct{ err error }

func (e errPolicy) Load(context.Context) (Policy, error) { return Policy{}, e.err }

func TestPolicyLoaderFallbackChain(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("max_per_invocation: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	fromFile, err := NewPolicyLoader(errPolicy{err: ErrNoPolicy}, path, "+351", logger.Discard()).Load(ctx)
	if err != nil {
		t.Fatalf("file fallback: %v", err)
	}
	if fromFile.MaxPerInvocation != 7 || fromFile.DefaultCountryCode != "+351" {
		t.Errorf("unexpected file policy %+v", fromFile)
	}

	defaults, err := NewPolicyLoader(nil, "", "", logger.Discard()).Load(ctx)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if defaults.MaxPerInvocation != defaultMaxPerInvocation || defaults.Template() != DefaultTemplate {
		t.Errorf("unexpected defaults %+v", defaults)
	}

	boom := errors.New("db down")
	if _, err := NewPolicyLoader(errPolicy{err: boom}, path, "", logger.Discard()).Load(ctx); !errors.Is(err, boom) {
		t.Fatalf("store errors must not fall back, got %v", err)
	}
}

func TestPolicySnapshotsAreIndependent(t *testing.T) {
	loader := NewPolicyLoader(nil, "", "", logger.Discard())
	a, _ := loader.Load(context.Background())
	a.TargetStatuses[0] = domain.StatusDeclined
	b, _ := loader.Load(context.Background())
	if b.TargetStatuses[0] != domain.StatusLead {
		t.Fatalf("mutating one snapshot leaked into the next: %v", b.TargetStatuses)
	}
}
