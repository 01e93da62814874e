package jwtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

const (
	defaultEarlyExpiry     = 30 * time.Second
	defaultCleanupInterval = time.Minute
)

// ProviderConfig defines how a Provider obtains tokens.
type ProviderConfig struct {
	Issuer *Issuer
	// EarlyExpiry re-issues a cached token this long before it expires.
	EarlyExpiry time.Duration
	// CleanupInterval is how often expired token sources are dropped.
	CleanupInterval time.Duration
}

// Provider hands out bearer tokens for outgoing calls to relying services.
// It caches one token source per (audience, ttl, identity) combination and
// re-issues tokens shortly before they expire. A cached source is dropped once
// its ttl has passed without a new lookup creating it again.
type Provider struct {
	mu      sync.Mutex
	issuer  *Issuer
	early   time.Duration
	entries *cache.Cache
}

type providerKey struct {
	Audience string
	TTL      time.Duration
	Identity string
}

func (k providerKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Audience, k.TTL, k.Identity)
}

type tokenSourceEntry struct {
	source oauth2.TokenSource
}

// NewProvider constructs a Provider around cfg.Issuer.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Issuer == nil {
		return nil, errors.New("provider requires an issuer")
	}
	early := cfg.EarlyExpiry
	if early <= 0 {
		early = defaultEarlyExpiry
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = defaultCleanupInterval
	}
	return &Provider{
		issuer:  cfg.Issuer,
		early:   early,
		entries: cache.New(cfg.Issuer.cfg.TTL, cleanup),
	}, nil
}

// Token returns a signed token for identity, reusing a cached one while it
// remains valid.
func (p *Provider) Token(identity Identity, opts ...IssueOption) (string, error) {
	source, err := p.TokenSource(identity, opts...)
	if err != nil {
		return "", err
	}
	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access token returned")
	}
	return tok.AccessToken, nil
}

// TokenSource returns the cached oauth2.TokenSource for identity.
func (p *Provider) TokenSource(identity Identity, opts ...IssueOption) (oauth2.TokenSource, error) {
	if err := identity.validate(); err != nil {
		return nil, newError(ErrCodeInvalidIdentity, err)
	}

	params := issueParams{audience: p.issuer.Audience(), ttl: p.issuer.cfg.TTL}
	for _, opt := range opts {
		opt(&params)
	}
	if params.ttl < time.Second {
		return nil, newErrorf(ErrCodeInvalidIdentity, "ttl must be at least one second, got %s", params.ttl)
	}
	fingerprint, err := json.Marshal(identity)
	if err != nil {
		return nil, newError(ErrCodeInternal, err)
	}
	key := providerKey{
		Audience: params.audience,
		TTL:      params.ttl,
		Identity: string(fingerprint),
	}

	entry := p.getOrCreate(key, identity, params)
	return entry.source, nil
}

// Client returns an HTTP client that sends "Authorization: Bearer <token>"
// for identity on every request.
func (p *Provider) Client(ctx context.Context, identity Identity, opts ...IssueOption) (*http.Client, error) {
	source, err := p.TokenSource(identity, opts...)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, source), nil
}

func (p *Provider) getOrCreate(key providerKey, identity Identity, params issueParams) *tokenSourceEntry {
	cacheKey := key.String()
	if item, found := p.entries.Get(cacheKey); found {
		return item.(*tokenSourceEntry)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if item, found := p.entries.Get(cacheKey); found {
		return item.(*tokenSourceEntry)
	}

	src := &issuerSource{
		issuer:   p.issuer,
		identity: *identity.clone(),
		opts:     []IssueOption{WithAudience(params.audience), WithTTL(params.ttl)},
	}
	entry := &tokenSourceEntry{source: oauth2.ReuseTokenSourceWithExpiry(nil, src, p.early)}
	p.entries.Set(cacheKey, entry, params.ttl)
	return entry
}

// issuerSource mints a fresh token on every call.
type issuerSource struct {
	issuer   *Issuer
	identity Identity
	opts     []IssueOption
}

func (s *issuerSource) Token() (*oauth2.Token, error) {
	token, claims, err := s.issuer.Issue(s.identity, s.opts...)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      claims.ExpiresAt,
	}, nil
}
