package jwtx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry maps site ids to their verifiers. Sites can be added or replaced
// while requests are being served.
type Registry struct {
	mu     sync.RWMutex
	sites  map[string]*siteState
	dev    DevBypassClaims
	logger *zap.Logger
	now    func() time.Time
}

type siteState struct {
	cfg      SiteConfig
	verifier *Verifier
	// inflight counts Authenticate calls still using verifier.
	inflight sync.WaitGroup
}

// NewRegistry builds one verifier per configured site.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	index, err := cfg.siteIndex()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		sites:  make(map[string]*siteState, len(index)),
		dev:    cfg.DevBypass,
		logger: cfg.Logger,
		now:    time.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.dev.Subject == "" {
		r.dev = DefaultDevBypassClaims("")
	}
	for id, siteCfg := range index {
		state, err := r.newSiteState(siteCfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("site %q: %w", id, err)
		}
		r.sites[id] = state
	}
	return r, nil
}

func (r *Registry) newSiteState(cfg SiteConfig) (*siteState, error) {
	state := &siteState{cfg: cfg}
	if cfg.AuthMode == AuthModeNone {
		r.logger.Warn("site accepts unauthenticated requests", zap.String("site", cfg.ID))
		return state, nil
	}
	if cfg.Verifier.Logger == nil {
		cfg.Verifier.Logger = r.logger.With(zap.String("site", cfg.ID))
	}
	v, err := NewVerifier(cfg.Verifier)
	if err != nil {
		return nil, err
	}
	state.verifier = v
	return state, nil
}

// Put adds or replaces the configuration for one site. A replaced site's
// verifier is closed once the Authenticate calls already using it return.
func (r *Registry) Put(cfg SiteConfig) error {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return err
	}
	state, err := r.newSiteState(cfg)
	if err != nil {
		return fmt.Errorf("site %q: %w", cfg.ID, err)
	}

	r.mu.Lock()
	previous := r.sites[cfg.ID]
	r.sites[cfg.ID] = state
	r.mu.Unlock()

	if previous != nil && previous.verifier != nil {
		r.logger.Info("site replaced", zap.String("site", cfg.ID))
		go func() {
			previous.inflight.Wait()
			previous.verifier.Close()
		}()
	}
	return nil
}

// Verifier returns the verifier for siteID. Sites with auth mode none have no
// verifier and report false.
func (r *Registry) Verifier(siteID string) (*Verifier, bool) {
	state, ok := r.lookup(siteID)
	if !ok || state.verifier == nil {
		return nil, false
	}
	return state.verifier, true
}

// Warmup refreshes the JWKS of every site that uses one.
func (r *Registry) Warmup(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, state := range r.sites {
		if state.verifier == nil {
			continue
		}
		if err := state.verifier.Warmup(ctx); err != nil {
			return fmt.Errorf("site %q: %w", id, err)
		}
	}
	return nil
}

// Authenticate verifies token for siteID and returns the caller claims.
// Sites with auth mode none ignore the token and return dev-bypass claims.
func (r *Registry) Authenticate(ctx context.Context, siteID, token string) (CallerClaims, error) {
	state, ok := r.acquire(siteID)
	if !ok {
		return CallerClaims{}, newErrorf(ErrCodeSiteNotRegistered, "site %q not found", siteID)
	}
	defer state.inflight.Done()
	if state.cfg.AuthMode == AuthModeNone {
		caller := r.dev.ToCallerClaims(r.now())
		caller.SiteID = siteID
		return caller, nil
	}

	claims, err := state.verifier.Verify(ctx, token)
	if err != nil {
		return CallerClaims{}, err
	}
	return CallerClaims{Claims: claims, SiteID: siteID}, nil
}

// Close stops background work of every verifier.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, state := range r.sites {
		if state.verifier != nil {
			state.verifier.Close()
		}
	}
}

// acquire looks up siteID and marks the state as in use. The caller must call
// state.inflight.Done.
func (r *Registry) acquire(siteID string) (*siteState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.sites[siteID]
	if ok {
		state.inflight.Add(1)
	}
	return state, ok
}

func (r *Registry) lookup(siteID string) (*siteState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.sites[siteID]
	return state, ok
}
