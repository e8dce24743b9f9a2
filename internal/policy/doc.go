// Package policy provides the tier classification engine for authface.
//
// A TierPolicy is an ordered table of rules. Each rule binds a tier to a
// predicate over the profile attributes returned by an identity provider.
// Rules are evaluated from the most privileged tier down and the first match
// wins; a profile that matches nothing is classified as Normal.
//
// The policy is pure and holds no mutable state, so one instance is shared by
// every provider exchange.
package policy
