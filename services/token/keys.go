package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// MinKeyBits is the smallest RSA modulus GenerateKeyPair accepts
const MinKeyBits = 2048

// GenerateKeyPair creates a new RSA key pair and returns it PEM encoded, the
// private key as PKCS#8 and the public key as PKIX.
func GenerateKeyPair(bits int) (privatePEM, publicPEM []byte, err error) {
	if bits < MinKeyBits {
		return nil, nil, fmt.Errorf("key size %d is below the minimum of %d bits", bits, MinKeyBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate rsa key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}
