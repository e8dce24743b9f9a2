package token

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func newTestIssuer(t *testing.T, opts ...Option) (*Issuer, *rsa.PrivateKey) {
	priv, pub := generateTestKeyPair(t)
	issuer, err := NewIssuer(priv, pub, opts...)
	require.NoError(t, err)
	return issuer, priv
}

func testIdentity() *models.Identity {
	now := time.Now()
	return &models.Identity{
		Subject:     "user-123",
		DisplayName: models.StringPtr("Test User"),
		Email:       models.StringPtr("test@preferred.company.com"),
		Provider:    "google",
		Tier:        models.TierPreferred,
		CreatedAt:   now,
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
	}
}

func TestIssuer_CreateAndVerify(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	identity := testIdentity()

	signed, err := issuer.Create(identity, 24*time.Hour)
	require.NoError(t, err)

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, "user-123", claims.Subject)
	require.NotNil(t, claims.Name)
	assert.Equal(t, "Test User", *claims.Name)
	require.NotNil(t, claims.Email)
	assert.Equal(t, "test@preferred.company.com", *claims.Email)
	assert.Equal(t, "preferred", claims.Tier)
	assert.Equal(t, "google", claims.Provider)
	assert.Equal(t, DefaultIssuerName, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, 24*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	assert.Equal(t, models.TierPreferred, TierOf(claims))
}

func TestIssuer_CreateOmitsAbsentProfileFields(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	identity := testIdentity()
	identity.DisplayName = nil
	identity.Email = nil

	signed, err := issuer.Create(identity, time.Hour)
	require.NoError(t, err)

	payload := decodePayload(t, signed)
	assert.NotContains(t, payload, "name")
	assert.NotContains(t, payload, "email")

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Nil(t, claims.Name)
	assert.Nil(t, claims.Email)
}

func TestIssuer_FreshJTIPerIssuance(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	identity := testIdentity()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		signed, err := issuer.Create(identity, time.Hour)
		require.NoError(t, err)
		claims, err := issuer.Verify(signed)
		require.NoError(t, err)
		_, dup := seen[claims.ID]
		assert.False(t, dup, "jti reused: %s", claims.ID)
		seen[claims.ID] = struct{}{}
	}
}

func TestIssuer_HeaderCarriesKeyID(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	signed, err := issuer.Create(testIdentity(), time.Hour)
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(signed, &Claims{})
	require.NoError(t, err)
	assert.Equal(t, "RS256", parsed.Header["alg"])
	assert.Equal(t, issuer.KeyID(), parsed.Header["kid"])
}

func TestIssuer_CreateRejectsBadInput(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.Create(nil, time.Hour)
	assert.True(t, services.IsValidationError(err))

	_, err = issuer.Create(testIdentity(), 0)
	assert.True(t, services.IsValidationError(err))
}

func TestIssuer_VerifyExpired(t *testing.T) {
	priv, pub := generateTestKeyPair(t)
	past := time.Now().Add(-48 * time.Hour)

	oldIssuer, err := NewIssuer(priv, pub, WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	issuer, err := NewIssuer(priv, pub)
	require.NoError(t, err)

	signed, err := oldIssuer.Create(testIdentity(), time.Hour)
	require.NoError(t, err)

	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, services.ErrTokenExpired)
	assert.True(t, services.IsVerificationError(err))
}

func TestIssuer_VerifyAtExactExpiry(t *testing.T) {
	priv, pub := generateTestKeyPair(t)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued

	issuer, err := NewIssuer(priv, pub, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	signed, err := issuer.Create(testIdentity(), time.Hour)
	require.NoError(t, err)

	clock = issued.Add(time.Hour)
	_, err = issuer.Verify(signed)
	assert.NoError(t, err, "a token is valid up to and including its exp second")

	clock = issued.Add(time.Hour + time.Second)
	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, services.ErrTokenExpired)
}

func TestIssuer_VerifyRejectsOtherAlgorithms(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	otherKey, _ := generateTestKeyPair(t)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuerName,
			Subject:   "attacker",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Tier: "admin",
	}

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	rs512, err := jwt.NewWithClaims(jwt.SigningMethodRS512, claims).SignedString(otherKey)
	require.NoError(t, err)

	for name, signed := range map[string]string{"HS256": hs256, "none": none, "RS512": rs512} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(signed)
			assert.ErrorIs(t, err, services.ErrAlgorithmNotAllowed)
		})
	}
}

func TestIssuer_VerifyRejectsForeignSignature(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	other, _ := newTestIssuer(t)

	signed, err := other.Create(testIdentity(), time.Hour)
	require.NoError(t, err)

	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestIssuer_VerifyRejectsTamperedPayload(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	signed, err := issuer.Create(testIdentity(), time.Hour)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	payload := decodePayload(t, signed)
	payload["tier"] = "admin"
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(raw)

	_, err = issuer.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestIssuer_VerifyRejectsWrongIssuer(t *testing.T) {
	priv, pub := generateTestKeyPair(t)
	a, err := NewIssuer(priv, pub, WithIssuerName("other"))
	require.NoError(t, err)
	b, err := NewIssuer(priv, pub)
	require.NoError(t, err)

	signed, err := a.Create(testIdentity(), time.Hour)
	require.NoError(t, err)

	_, err = b.Verify(signed)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestIssuer_VerifyMalformed(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	for _, raw := range []string{"", "abc", "a.b", "a.b.c", "!!.??.##"} {
		_, err := issuer.Verify(raw)
		assert.ErrorIs(t, err, services.ErrInvalidToken, "input %q", raw)
	}
}

func TestTierOf(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   models.Tier
	}{
		{"admin", &Claims{Tier: "admin"}, models.TierAdmin},
		{"preferred", &Claims{Tier: "preferred"}, models.TierPreferred},
		{"normal", &Claims{Tier: "normal"}, models.TierNormal},
		{"unknown", &Claims{Tier: "gold"}, models.TierFree},
		{"upper case", &Claims{Tier: "ADMIN"}, models.TierFree},
		{"title case", &Claims{Tier: "Admin"}, models.TierFree},
		{"padded", &Claims{Tier: " admin "}, models.TierFree},
		{"empty", &Claims{}, models.TierFree},
		{"nil claims", nil, models.TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TierOf(tt.claims))
		})
	}
}

func TestNewIssuer_MismatchedKeys(t *testing.T) {
	priv, _ := generateTestKeyPair(t)
	_, otherPub := generateTestKeyPair(t)

	_, err := NewIssuer(priv, otherPub)
	assert.ErrorIs(t, err, services.ErrSigningKey)

	_, err = NewIssuer(nil, otherPub)
	assert.ErrorIs(t, err, services.ErrSigningKey)
}

func TestLoadIssuer(t *testing.T) {
	dir := t.TempDir()
	privPEM, pubPEM, err := GenerateKeyPair(MinKeyBits)
	require.NoError(t, err)

	privPath := filepath.Join(dir, "jwt_private_key.pem")
	pubPath := filepath.Join(dir, "jwt_public_key.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	issuer, err := LoadIssuer(privPath, pubPath, WithIssuerName("authface-test"))
	require.NoError(t, err)

	signed, err := issuer.Create(testIdentity(), time.Minute)
	require.NoError(t, err)
	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "authface-test", claims.Issuer)
}

func TestLoadIssuer_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	_, err := LoadIssuer(filepath.Join(dir, "missing.pem"), garbage)
	assert.True(t, services.IsInternalError(err))

	_, err = LoadIssuer(garbage, garbage)
	assert.ErrorIs(t, err, services.ErrSigningKey)
}

func TestGenerateKeyPair_RejectsSmallKeys(t *testing.T) {
	_, _, err := GenerateKeyPair(1024)
	assert.Error(t, err)
}

func TestIssuer_JWKS(t *testing.T) {
	issuer, priv := newTestIssuer(t)

	set := issuer.JWKS()
	require.Len(t, set.Keys, 1)
	key := set.Keys[0]
	assert.Equal(t, issuer.KeyID(), key.Kid)
	assert.Equal(t, "RSA", key.Kty)
	assert.Equal(t, "RS256", key.Alg)
	assert.Equal(t, "sig", key.Use)

	n, err := base64.RawURLEncoding.DecodeString(key.N)
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey.N.Bytes(), n)
}

func decodePayload(t *testing.T, signed string) map[string]interface{} {
	t.Helper()
	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}
