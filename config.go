package jwtx

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultClockSkew   = 30 * time.Second
	defaultTTL         = time.Hour
	defaultMinRefresh  = 5 * time.Minute
	defaultHTTPTimeout = 5 * time.Second
)

// IssuerConfig describes how an Issuer signs tokens.
type IssuerConfig struct {
	Issuer   string
	Audience string
	TTL      time.Duration
	// Algorithm defaults to HS256 when Secret is set and RS256 otherwise.
	Algorithm     Algorithm
	Secret        []byte
	PrivateKey    crypto.PrivateKey
	PrivateKeyPEM []byte
	KeyID         string
	// RequireStrongSecret turns the short-secret lint into a hard WeakSecret error.
	RequireStrongSecret bool

	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
}

func (c *IssuerConfig) normalize() {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.Algorithm == "" {
		if len(c.Secret) > 0 {
			c.Algorithm = HS256
		} else {
			c.Algorithm = RS256
		}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c IssuerConfig) validate() error {
	switch {
	case c.Audience == "":
		return errors.New("audience is required")
	case c.Algorithm.isSymmetric():
		if len(c.Secret) == 0 {
			return newError(ErrCodeWeakSecret, errors.New("secret is required for "+string(c.Algorithm)))
		}
		if c.RequireStrongSecret && len(c.Secret) < MinSecretLength {
			return newErrorf(ErrCodeWeakSecret, "secret is %d bytes, need %d", len(c.Secret), MinSecretLength)
		}
	case c.PrivateKey == nil && len(c.PrivateKeyPEM) == 0:
		return newError(ErrCodeInvalidKey, errors.New("private key is required for "+string(c.Algorithm)))
	}
	return nil
}

// VerifierConfig describes what a Verifier accepts.
type VerifierConfig struct {
	ValidationType ValidationType

	// Key material; which fields are read depends on ValidationType.
	Secret       []byte
	PublicKey    crypto.PublicKey
	PublicKeyPEM []byte
	// KeyStore, when set, supplies rotating key material and takes precedence
	// over Secret and PublicKey.
	KeyStore *KeyStore

	JWKSURL     string
	MinRefresh  time.Duration
	HTTPTimeout time.Duration

	Issuer            string
	Audience          string
	ClockSkew         time.Duration
	AllowedAlgorithms []Algorithm

	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
}

func (c *VerifierConfig) normalize() {
	if c.ClockSkew <= 0 {
		c.ClockSkew = defaultClockSkew
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if len(c.AllowedAlgorithms) == 0 {
		c.AllowedAlgorithms = c.ValidationType.Algorithms()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// validate ensures the verifier configuration is usable. Key material is
// checked separately when it is loaded.
func (c VerifierConfig) validate() error {
	family := c.ValidationType.Algorithms()
	switch {
	case family == nil:
		return fmt.Errorf("unsupported validation type %q", c.ValidationType)
	case c.Issuer == "":
		return errors.New("issuer claim expected value is required")
	case c.Audience == "":
		return errors.New("audience is required")
	case c.ValidationType == ValidationJWKS && c.JWKSURL == "":
		return errors.New("jwks url is required")
	}
	for _, alg := range c.AllowedAlgorithms {
		if !contains(family, alg) {
			return newErrorf(ErrCodeAlgorithmMismatch, "algorithm %q is not valid for %s keys", alg, c.ValidationType)
		}
	}
	return nil
}

// AuthMode is a site's authentication mode.
type AuthMode string

const (
	// AuthModeExternal requires a bearer token issued by the site's own backend.
	AuthModeExternal AuthMode = "external"
	// AuthModeNone accepts every request with synthetic dev-bypass claims.
	AuthModeNone AuthMode = "none"
)

// SiteConfig binds a site id to its authentication settings.
type SiteConfig struct {
	ID       string
	AuthMode AuthMode
	Verifier VerifierConfig
}

func (c *SiteConfig) normalize() {
	if c.AuthMode == "" {
		c.AuthMode = AuthModeExternal
	}
}

func (c SiteConfig) validate() error {
	switch c.AuthMode {
	case AuthModeExternal, AuthModeNone:
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}
	if c.ID == "" {
		return errors.New("site id is required")
	}
	return nil
}

// RegistryConfig describes all sites a Registry serves.
type RegistryConfig struct {
	Sites []SiteConfig
	// DevBypass is returned for sites with AuthModeNone. Defaults to
	// DefaultDevBypassClaims("").
	DevBypass DevBypassClaims
	Logger    *zap.Logger
}

// siteIndex returns the site configs mapped by id.
func (c RegistryConfig) siteIndex() (map[string]SiteConfig, error) {
	if len(c.Sites) == 0 {
		return nil, errors.New("at least one site must be configured")
	}
	index := make(map[string]SiteConfig, len(c.Sites))
	for _, site := range c.Sites {
		clone := site
		clone.normalize()
		if err := clone.validate(); err != nil {
			return nil, fmt.Errorf("site %q: %w", site.ID, err)
		}
		if _, exists := index[clone.ID]; exists {
			return nil, fmt.Errorf("duplicate site id %q", clone.ID)
		}
		index[clone.ID] = clone
	}
	return index, nil
}
