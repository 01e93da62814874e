package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
)

const (
	testSecret   = "s3cr3t-key-at-least-32-characters-long"
	testIssuer   = "https://example.com"
	testAudience = "kotomi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func verifierConfig(audience string) jwtx.VerifierConfig {
	return jwtx.VerifierConfig{
		ValidationType: jwtx.ValidationHMAC,
		Secret:         []byte(testSecret),
		Issuer:         testIssuer,
		Audience:       audience,
	}
}

func newVerifier(t *testing.T) *jwtx.Verifier {
	t.Helper()
	v, err := jwtx.NewVerifier(verifierConfig(testAudience))
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func issue(t *testing.T, audience string, ttl time.Duration) string {
	t.Helper()
	issuer, err := jwtx.NewIssuer(jwtx.IssuerConfig{
		Issuer:   testIssuer,
		Audience: audience,
		TTL:      ttl,
		Secret:   []byte(testSecret),
	})
	require.NoError(t, err)
	token, _, err := issuer.Issue(jwtx.Identity{ID: "user-1", Name: "Jane Doe"})
	require.NoError(t, err)
	return token
}

func issueRS256(t *testing.T, audience string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer, err := jwtx.NewIssuer(jwtx.IssuerConfig{
		Issuer:     testIssuer,
		Audience:   audience,
		PrivateKey: key,
	})
	require.NoError(t, err)
	token, _, err := issuer.Issue(jwtx.Identity{ID: "user-1"})
	require.NoError(t, err)
	return token
}

func meHandler(c *gin.Context) {
	caller, ok := ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"anonymous": true})
		return
	}
	fromCtx, _ := jwtx.CallerClaimsFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"subject":    caller.Claims.Subject,
		"site":       caller.SiteID,
		"dev_bypass": caller.DevBypass,
		"ctx_bound":  fromCtx.Claims != nil,
	})
}

func perform(t *testing.T, router http.Handler, path, authorization string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestRequireAuth(t *testing.T) {
	router := gin.New()
	router.GET("/me", RequireAuth(newVerifier(t)), meHandler)

	rec, body := perform(t, router, "/me", "Bearer "+issue(t, testAudience, time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", body["subject"])
	assert.Equal(t, true, body["ctx_bound"])

	cases := map[string]struct {
		authorization string
		code          string
	}{
		"missing header": {"", "malformed"},
		"wrong scheme":   {"Basic dXNlcjpwYXNz", "malformed"},
		"garbage token":  {"Bearer not-a-jwt", "malformed"},
		"wrong audience": {"Bearer " + issue(t, "other-site", time.Hour), "audience_mismatch"},
		"tampered sig":   {"Bearer " + issue(t, testAudience, time.Hour) + "x", "invalid_signature"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, body := perform(t, router, "/me", tc.authorization)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, body["error"])
			assert.NotEmpty(t, body["message"])
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	router := gin.New()
	router.GET("/me", OptionalAuth(newVerifier(t)), meHandler)

	rec, body := perform(t, router, "/me", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["anonymous"])

	rec, body = perform(t, router, "/me", "Bearer "+issue(t, "other-site", time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["anonymous"])

	rec, body = perform(t, router, "/me", "Bearer "+issue(t, testAudience, time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", body["subject"])
}

func TestRequireSiteAuth(t *testing.T) {
	registry, err := jwtx.NewRegistry(jwtx.RegistryConfig{Sites: []jwtx.SiteConfig{
		{ID: "blog", Verifier: verifierConfig("blog")},
		{ID: "local", AuthMode: jwtx.AuthModeNone},
		{ID: "remote", Verifier: jwtx.VerifierConfig{
			ValidationType: jwtx.ValidationJWKS,
			JWKSURL:        "http://127.0.0.1:1/jwks.json",
			Issuer:         testIssuer,
			Audience:       "remote",
			HTTPTimeout:    100 * time.Millisecond,
		}},
	}})
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	router := gin.New()
	router.GET("/sites/:site/me", RequireSiteAuth(registry, "site"), meHandler)

	rec, body := perform(t, router, "/sites/blog/me", "Bearer "+issue(t, "blog", time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blog", body["site"])
	assert.Equal(t, false, body["dev_bypass"])

	rec, body = perform(t, router, "/sites/blog/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "malformed", body["error"])

	rec, body = perform(t, router, "/sites/blog/me", "Bearer "+issue(t, testAudience, time.Hour))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "audience_mismatch", body["error"])

	rec, body = perform(t, router, "/sites/local/me", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["dev_bypass"])
	assert.Equal(t, "dev-bypass", body["subject"])

	rec, body = perform(t, router, "/sites/unknown/me", "Bearer "+issue(t, "blog", time.Hour))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "site_not_registered", body["error"])
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))

	rec, body = perform(t, router, "/sites/remote/me", "Bearer "+issueRS256(t, "remote"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "jwks_unavailable", body["error"])
}
