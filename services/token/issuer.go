package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services"
)

// DefaultIssuerName is the iss claim when none is configured
const DefaultIssuerName = "authface"

// Issuer mints and verifies RS256 bearer tokens. Its keys are fixed at
// construction and it is safe for concurrent use.
type Issuer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	name       string
	now        func() time.Time
	parser     *jwt.Parser
}

// Option configures an Issuer
type Option func(*Issuer)

// WithIssuerName sets the iss claim
func WithIssuerName(name string) Option {
	return func(i *Issuer) {
		if name != "" {
			i.name = name
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer creates an issuer from an RSA key pair. The public key must belong
// to the private key.
func NewIssuer(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, opts ...Option) (*Issuer, error) {
	if privateKey == nil || publicKey == nil {
		return nil, services.ErrSigningKey.Wrap(fmt.Errorf("key pair is incomplete"))
	}
	if !privateKey.PublicKey.Equal(publicKey) {
		return nil, services.ErrSigningKey.Wrap(fmt.Errorf("public key does not match private key"))
	}

	i := &Issuer{
		privateKey: privateKey,
		publicKey:  publicKey,
		keyID:      thumbprint(publicKey),
		name:       DefaultIssuerName,
		now:        time.Now,
		// Claims are checked explicitly in Verify.
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// LoadIssuer reads a PEM encoded key pair from disk
func LoadIssuer(privateKeyPath, publicKeyPath string, opts ...Option) (*Issuer, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, services.ErrSigningKey.Wrap(fmt.Errorf("read private key: %w", err))
	}
	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, services.ErrSigningKey.Wrap(fmt.Errorf("read public key: %w", err))
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, services.ErrSigningKey.Wrap(fmt.Errorf("parse private key: %w", err))
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, services.ErrSigningKey.Wrap(fmt.Errorf("parse public key: %w", err))
	}

	return NewIssuer(privateKey, publicKey, opts...)
}

// KeyID returns the kid placed in every token header
func (i *Issuer) KeyID() string {
	return i.keyID
}

// Create signs a token for identity that expires ttl from now. Every call
// gets a fresh jti.
func (i *Issuer) Create(identity *models.Identity, ttl time.Duration) (string, error) {
	if identity == nil {
		return "", services.ErrInvalidInput.Wrap(fmt.Errorf("identity is required"))
	}
	if ttl <= 0 {
		return "", services.ErrInvalidInput.Wrap(fmt.Errorf("ttl must be positive, got %s", ttl))
	}

	now := i.now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Name:     identity.DisplayName,
		Email:    identity.Email,
		Tier:     identity.Tier.String(),
		Provider: identity.Provider,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = i.keyID

	signed, err := t.SignedString(i.privateKey)
	if err != nil {
		return "", services.ErrTokenSigning.Wrap(err)
	}
	return signed, nil
}

// Verify checks the algorithm, signature, and expiry of a token and returns
// its claims. Failures are ErrAlgorithmNotAllowed, ErrTokenExpired, or
// ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	alg, err := i.peekAlgorithm(tokenString)
	if err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	if alg != jwt.SigningMethodRS256.Alg() {
		return nil, services.ErrAlgorithmNotAllowed.Wrap(fmt.Errorf("alg %q", alg))
	}

	claims := &Claims{}
	t, err := i.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, services.ErrAlgorithmNotAllowed
		}
		return i.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, services.ErrAlgorithmNotAllowed) {
			return nil, services.ErrAlgorithmNotAllowed
		}
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	if !t.Valid {
		return nil, services.ErrInvalidToken
	}

	if claims.ExpiresAt == nil {
		return nil, services.ErrInvalidToken.Wrap(fmt.Errorf("missing exp claim"))
	}
	if claims.ExpiresAt.Time.Before(i.now().Truncate(time.Second)) {
		return nil, services.ErrTokenExpired
	}
	if claims.Subject == "" {
		return nil, services.ErrInvalidToken.Wrap(fmt.Errorf("missing sub claim"))
	}
	if claims.Issuer != i.name {
		return nil, services.ErrInvalidToken.Wrap(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}

	return claims, nil
}

// JWKS returns the verification key as a JSON Web Key Set
func (i *Issuer) JWKS() JWKS {
	return JWKS{Keys: []JWK{{
		Kid: i.keyID,
		Kty: "RSA",
		Alg: jwt.SigningMethodRS256.Alg(),
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(i.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(i.publicKey.E)).Bytes()),
	}}}
}

func (i *Issuer) peekAlgorithm(tokenString string) (string, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("token has %d segments", len(parts))
	}
	raw, err := i.parser.DecodeSegment(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", fmt.Errorf("parse header: %w", err)
	}
	return header.Alg, nil
}

// thumbprint computes the RFC 7638 SHA-256 thumbprint of an RSA public key
func thumbprint(pub *rsa.PublicKey) string {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	sum := sha256.Sum256([]byte(`{"e":"` + e + `","kty":"RSA","n":"` + n + `"}`))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
