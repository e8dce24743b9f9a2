package models

// Tier is the authorization level carried by an identity and its tokens.
// Higher values are more privileged.
type Tier int

const (
	TierFree Tier = iota
	TierNormal
	TierPreferred
	TierAdmin
)

// String returns the canonical lowercase name of the tier
func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	case TierPreferred:
		return "preferred"
	case TierNormal:
		return "normal"
	default:
		return "free"
	}
}

// ParseTier decodes a canonical tier name. Matching is exact, so anything
// else, including other casings, is Free.
func ParseTier(s string) Tier {
	switch s {
	case "admin":
		return TierAdmin
	case "preferred":
		return TierPreferred
	case "normal":
		return TierNormal
	default:
		return TierFree
	}
}

// AtLeast reports whether t is as privileged as min
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

// MarshalText implements encoding.TextMarshaler
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Tier) UnmarshalText(text []byte) error {
	*t = ParseTier(string(text))
	return nil
}
