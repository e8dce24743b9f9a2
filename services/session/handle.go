package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// handleBytes is the entropy of a session handle or state token
const handleBytes = 32

// NewHandle returns a URL-safe random token with 256 bits of entropy
func NewHandle() (string, error) {
	buf := make([]byte, handleBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session handle: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
