package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
	"github.com/bionicotaku/kotomi-jwtx/config"
)

const testSecret = "s3cr3t-key-at-least-32-characters-long"

// run executes the root command against a config file and returns stdout and stderr.
func run(t *testing.T, configYAML string, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvFileVar, filepath.Join(dir, "missing.env"))
	path := filepath.Join(dir, "kotomi-jwt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestIssueThenVerify(t *testing.T) {
	cfgYAML := "log:\n  level: error\n"
	out, _, err := run(t, cfgYAML,
		"issue", "-q",
		"--secret", testSecret,
		"--issuer", "https://example.com",
		"--user-id", "user-12345",
		"--name", "Jane Doe",
		"--roles", "member,editor",
	)
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	assert.Equal(t, 2, strings.Count(token, "."))

	out, _, err = run(t, cfgYAML, "verify", "--secret", testSecret, "--issuer", "https://example.com", token)
	require.NoError(t, err)
	var claims jwtx.Claims
	require.NoError(t, json.Unmarshal([]byte(out), &claims))
	assert.Equal(t, "user-12345", claims.Subject)
	assert.Equal(t, []string{"member", "editor"}, claims.User.Roles)

	_, stderr, err := run(t, cfgYAML, "verify", "--secret", testSecret, "--issuer", "https://example.com", "--audience", "other", token)
	require.Error(t, err)
	assert.Equal(t, jwtx.ErrCodeAudienceMismatch, jwtx.CodeOf(err))
	assert.Contains(t, stderr, "rejected: audience_mismatch")
}

func TestIssueUsesConfigAndVerifyBySite(t *testing.T) {
	cfgYAML := `
log:
  level: error
issuer:
  issuer: https://auth.example.com
  audience: blog
  secret: ` + testSecret + `
sites:
  - id: blog
    validation_type: hmac
    secret: ` + testSecret + `
    issuer: https://auth.example.com
    audience: blog
`
	out, _, err := run(t, cfgYAML, "issue", "--user-id", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Token (HS256):")
	assert.Contains(t, out, "Authorization: Bearer ")
	assert.Contains(t, out, `"aud": "blog"`)

	out, _, err = run(t, cfgYAML, "issue", "-q", "--user-id", "user-1")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	out, _, err = run(t, cfgYAML, "verify", "--site", "blog", token)
	require.NoError(t, err)
	assert.Contains(t, out, `"sub": "user-1"`)

	_, _, err = run(t, cfgYAML, "verify", "--site", "missing", token)
	assert.ErrorContains(t, err, "not configured")
}

func TestIssueRequiresUserID(t *testing.T) {
	_, _, err := run(t, "", "issue", "--secret", testSecret)
	assert.Error(t, err)
}

func TestLint(t *testing.T) {
	out, _, err := run(t, "", "lint", "--secret", "short")
	require.NoError(t, err)
	assert.Contains(t, out, "secret: weak_secret:")

	out, _, err = run(t, `
issuer:
  secret: `+testSecret+`
  ttl: 72h
sites:
  - id: blog
    validation_type: hmac
    secret: tiny
    issuer: https://example.com
    audience: blog
  - id: local
    auth_mode: none
`, "lint")
	require.NoError(t, err)
	assert.Contains(t, out, "issuer: ttl_long:")
	assert.Contains(t, out, "site blog: weak_secret:")
	assert.Contains(t, out, "site local: auth mode none")
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	promRegistry := prometheus.NewRegistry()
	metrics := jwtx.NewMetrics(promRegistry)

	registry, err := jwtx.NewRegistry(jwtx.RegistryConfig{Sites: []jwtx.SiteConfig{
		{ID: "blog", Verifier: jwtx.VerifierConfig{
			ValidationType: jwtx.ValidationHMAC,
			Secret:         []byte(testSecret),
			Issuer:         "https://example.com",
			Audience:       "blog",
			Metrics:        metrics,
		}},
	}})
	require.NoError(t, err)
	t.Cleanup(registry.Close)
	router := newRouter(registry, promRegistry)

	issuer, err := jwtx.NewIssuer(jwtx.IssuerConfig{
		Issuer:   "https://example.com",
		Audience: "blog",
		Secret:   []byte(testSecret),
	})
	require.NoError(t, err)
	token, _, err := issuer.Issue(jwtx.Identity{ID: "user-1"})
	require.NoError(t, err)

	get := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz", "").Code)

	rec := get("/sites/blog/me", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sub":"user-1"`)
	assert.Contains(t, rec.Body.String(), `"user_id":"user-1"`)

	assert.Equal(t, http.StatusUnauthorized, get("/sites/blog/me", "").Code)
	assert.Equal(t, http.StatusNotFound, get("/sites/shop/me", "Bearer "+token).Code)

	rec = get("/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kotomi_jwt_tokens_verified_total{result="ok"} 1`)
}
