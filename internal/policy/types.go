package policy

import (
	"strings"

	"github.com/rl337/authface/models"
)

// Attributes are the profile fields a rule may inspect.
type Attributes struct {
	Subject  string
	Email    *string
	Name     *string
	Provider string
}

// EmailDomain returns the lowercased domain part of the email, or "" when the
// email is absent or has no domain.
func (a Attributes) EmailDomain() string {
	if a.Email == nil {
		return ""
	}
	at := strings.LastIndex(*a.Email, "@")
	if at < 0 || at == len(*a.Email)-1 {
		return ""
	}
	return strings.ToLower((*a.Email)[at+1:])
}

// Matcher is a rule predicate.
type Matcher func(Attributes) bool

// Rule binds a tier to a predicate.
type Rule struct {
	Tier  models.Tier
	Name  string
	Match Matcher
}

// Decision is the outcome of classification, with the rule that produced it.
type Decision struct {
	Tier models.Tier
	Rule string
}
