package policy

import (
	"sort"
	"strings"

	"github.com/rl337/authface/models"
)

// DefaultRuleName is reported when no rule matched.
const DefaultRuleName = "default"

// TierPolicy classifies profiles into tiers.
type TierPolicy struct {
	rules       []Rule
	defaultTier models.Tier
}

// NewTierPolicy builds a policy from rules. Rules are ordered by descending
// tier; rules with the same tier keep their given order.
func NewTierPolicy(rules ...Rule) *TierPolicy {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Match != nil {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier > ordered[j].Tier
	})
	return &TierPolicy{rules: ordered, defaultTier: models.TierNormal}
}

// DefaultTierPolicy maps the admin and preferred company domains.
func DefaultTierPolicy() *TierPolicy {
	return NewTierPolicy(
		EmailDomainRule(models.TierAdmin, "admin.company.com"),
		EmailDomainRule(models.TierPreferred, "preferred.company.com"),
	)
}

// Classify returns the tier of the first matching rule, or Normal.
func (p *TierPolicy) Classify(attrs Attributes) models.Tier {
	return p.Evaluate(attrs).Tier
}

// Evaluate is Classify with the name of the deciding rule.
func (p *TierPolicy) Evaluate(attrs Attributes) Decision {
	for _, r := range p.rules {
		if r.Match(attrs) {
			return Decision{Tier: r.Tier, Rule: r.Name}
		}
	}
	return Decision{Tier: p.defaultTier, Rule: DefaultRuleName}
}

// Rules returns a copy of the ordered rule table.
func (p *TierPolicy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// EmailDomainRule matches when the email domain equals one of the suffixes or
// is a subdomain of one. Comparison is case-insensitive.
func EmailDomainRule(tier models.Tier, suffixes ...string) Rule {
	normalized := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
		if s != "" {
			normalized = append(normalized, s)
		}
	}

	return Rule{
		Tier: tier,
		Name: tier.String() + "-email-domain",
		Match: func(attrs Attributes) bool {
			domain := attrs.EmailDomain()
			if domain == "" {
				return false
			}
			for _, s := range normalized {
				if domain == s || strings.HasSuffix(domain, "."+s) {
					return true
				}
			}
			return false
		},
	}
}
