package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "s3cr3t-key-at-least-32-characters-long"
	testIssuer   = "https://example.com"
	testAudience = "kotomi"
)

var testRSAKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

func testIdentity() Identity {
	return Identity{
		ID:       "user-12345",
		Name:     "Jane Doe",
		Email:    "jane@example.com",
		Verified: true,
		Roles:    []string{"member"},
	}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

// keyPair returns a fresh private key for alg and its public half.
func keyPair(t *testing.T, alg Algorithm) (crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	switch alg {
	case RS256, RS384, RS512, PS256, PS384, PS512:
		key := testRSAKey()
		return key, &key.PublicKey
	case ES256, ES384, ES512:
		curve := map[Algorithm]elliptic.Curve{
			ES256: elliptic.P256(),
			ES384: elliptic.P384(),
			ES512: elliptic.P521(),
		}[alg]
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		require.NoError(t, err)
		return key, &key.PublicKey
	case EdDSA:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		return priv, pub
	}
	t.Fatalf("no key pair for %s", alg)
	return nil, nil
}

func validationTypeFor(alg Algorithm) ValidationType {
	switch {
	case alg.isSymmetric():
		return ValidationHMAC
	case contains(rsaAlgorithms, alg):
		return ValidationRSA
	case contains(ecdsaAlgorithms, alg):
		return ValidationECDSA
	default:
		return ValidationEdDSA
	}
}

func publicKeyPEM(t *testing.T, pub crypto.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func privateKeyPEM(t *testing.T, priv crypto.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func hmacVerifierConfig() VerifierConfig {
	return VerifierConfig{
		ValidationType: ValidationHMAC,
		Secret:         []byte(testSecret),
		Issuer:         testIssuer,
		Audience:       testAudience,
	}
}

func newTestVerifier(t *testing.T, cfg VerifierConfig) *Verifier {
	t.Helper()
	v, err := NewVerifier(cfg)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func issueHS256(t *testing.T, claims *Claims) string {
	t.Helper()
	token, err := IssueSymmetric(claims, []byte(testSecret), HS256)
	require.NoError(t, err)
	return token
}

func mustBuildClaims(t *testing.T, now time.Time, ttl time.Duration) *Claims {
	t.Helper()
	claims, err := BuildClaimsAt(now, testIdentity(), testIssuer, testAudience, ttl)
	require.NoError(t, err)
	return claims
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, CodeOf(err), "error: %v", err)
	assert.True(t, errors.Is(err, &Error{Code: code}))
}
