package policy

import (
	"testing"

	"github.com/rl337/authface/models"
	"github.com/stretchr/testify/assert"
)

func email(s string) *string { return &s }

func TestDefaultTierPolicy_Classify(t *testing.T) {
	p := DefaultTierPolicy()

	tests := []struct {
		name  string
		email *string
		want  models.Tier
	}{
		{"admin domain", email("alice@admin.company.com"), models.TierAdmin},
		{"preferred domain", email("bob@preferred.company.com"), models.TierPreferred},
		{"plain company domain", email("carol@company.com"), models.TierNormal},
		{"outside domain", email("dave@gmail.com"), models.TierNormal},
		{"uppercase admin", email("Eve@ADMIN.Company.com"), models.TierAdmin},
		{"admin subdomain", email("f@eu.admin.company.com"), models.TierAdmin},
		{"lookalike domain", email("g@notadmin.company.com"), models.TierNormal},
		{"suffix in local part", email("admin.company.com@evil.io"), models.TierNormal},
		{"no domain", email("nobody"), models.TierNormal},
		{"absent email", nil, models.TierNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(Attributes{Subject: "s", Email: tt.email}))
		})
	}
}

func TestTierPolicy_FirstMatchInPrivilegeOrder(t *testing.T) {
	// Both rules match; the admin rule is listed last but evaluated first.
	p := NewTierPolicy(
		EmailDomainRule(models.TierPreferred, "company.com"),
		EmailDomainRule(models.TierAdmin, "admin.company.com"),
	)

	d := p.Evaluate(Attributes{Email: email("x@admin.company.com")})
	assert.Equal(t, models.TierAdmin, d.Tier)
	assert.Equal(t, "admin-email-domain", d.Rule)

	d = p.Evaluate(Attributes{Email: email("x@company.com")})
	assert.Equal(t, models.TierPreferred, d.Tier)
}

func TestTierPolicy_Default(t *testing.T) {
	p := NewTierPolicy()

	d := p.Evaluate(Attributes{Email: email("x@admin.company.com")})
	assert.Equal(t, models.TierNormal, d.Tier)
	assert.Equal(t, DefaultRuleName, d.Rule)
}

func TestTierPolicy_Deterministic(t *testing.T) {
	p := DefaultTierPolicy()
	attrs := Attributes{Email: email("a@preferred.company.com")}

	first := p.Classify(attrs)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, p.Classify(attrs))
	}
}

func TestEmailDomainRule_NormalizesSuffixes(t *testing.T) {
	r := EmailDomainRule(models.TierAdmin, " @Admin.Company.com ", "")

	assert.True(t, r.Match(Attributes{Email: email("a@admin.company.com")}))
	assert.False(t, r.Match(Attributes{Email: email("a@company.com")}))
}

func TestNewTierPolicy_SkipsNilMatchers(t *testing.T) {
	p := NewTierPolicy(Rule{Tier: models.TierAdmin, Name: "broken"})
	assert.Empty(t, p.Rules())
	assert.Equal(t, models.TierNormal, p.Classify(Attributes{}))
}
