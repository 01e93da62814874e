package jwtx

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key"

// jwksDocument returns a key set holding the public half of testRSAKey.
func jwksDocument(t *testing.T) []byte {
	t.Helper()
	pub, err := jwk.PublicKeyOf(testRSAKey())
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	payload, err := json.Marshal(set)
	require.NoError(t, err)
	return payload
}

func newJWKS(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	payload := jwksDocument(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	return testRSAKey(), server.URL, testKeyID
}

func jwksVerifierConfig(url string) VerifierConfig {
	return VerifierConfig{
		ValidationType: ValidationJWKS,
		JWKSURL:        url,
		Issuer:         testIssuer,
		Audience:       testAudience,
		ClockSkew:      10 * time.Second,
		MinRefresh:     time.Minute,
		HTTPTimeout:    time.Second,
	}
}

func issueRS256(t *testing.T, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	issuer, err := NewIssuer(IssuerConfig{
		Issuer:     testIssuer,
		Audience:   testAudience,
		PrivateKey: key,
		KeyID:      kid,
	})
	require.NoError(t, err)
	token, _, err := issuer.Issue(testIdentity())
	require.NoError(t, err)
	return token
}

func TestVerifier_JWKSSuccess(t *testing.T) {
	key, url, kid := newJWKS(t)
	v := newTestVerifier(t, jwksVerifierConfig(url))
	assert.Nil(t, v.KeyStore())

	ctx := context.Background()
	require.NoError(t, v.Warmup(ctx))

	claims, err := v.Verify(ctx, issueRS256(t, key, kid))
	require.NoError(t, err)
	assert.Equal(t, "user-12345", claims.Subject)
	assert.Equal(t, "Jane Doe", claims.User.Name)
}

func TestVerifier_JWKSSingleKeyWithoutKid(t *testing.T) {
	key, url, _ := newJWKS(t)
	v := newTestVerifier(t, jwksVerifierConfig(url))

	_, err := v.Verify(context.Background(), issueRS256(t, key, ""))
	require.NoError(t, err)
}

func TestVerifier_JWKSUnknownKid(t *testing.T) {
	key, url, _ := newJWKS(t)
	v := newTestVerifier(t, jwksVerifierConfig(url))

	_, err := v.Verify(context.Background(), issueRS256(t, key, "rotated-away"))
	requireCode(t, err, ErrCodeInvalidSignature)
}

func TestVerifier_JWKSUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	v := newTestVerifier(t, jwksVerifierConfig(url))

	err := v.Warmup(context.Background())
	requireCode(t, err, ErrCodeJWKSUnavailable)

	_, err = v.Verify(context.Background(), issueRS256(t, testRSAKey(), "test-key"))
	requireCode(t, err, ErrCodeJWKSUnavailable)
	assert.False(t, IsRejection(err))
}

func TestNewVerifier_JWKSRequiresURL(t *testing.T) {
	_, err := NewVerifier(jwksVerifierConfig(""))
	assert.Error(t, err)
}
