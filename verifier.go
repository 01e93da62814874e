package jwtx

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

const maxTokenLength = 8192

// Verifier checks tokens against one key source and one issuer/audience pair.
// Apart from the key store and the JWKS cache, both internally synchronized,
// it holds no mutable state and may be shared across goroutines.
type Verifier struct {
	cfg     VerifierConfig
	allowed map[Algorithm]struct{}
	keys    *KeyStore
	cache   *jwk.Cache
	cancel  context.CancelFunc
}

// NewVerifier builds a verifier from cfg, loading its key material.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	v := &Verifier{
		cfg:     cfg,
		allowed: toSet(cfg.AllowedAlgorithms),
	}
	if cfg.ValidationType == ValidationJWKS {
		ctx, cancel := context.WithCancel(context.Background())
		cache := jwk.NewCache(ctx)
		httpClient := &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
		if err := cache.Register(
			cfg.JWKSURL,
			jwk.WithMinRefreshInterval(cfg.MinRefresh),
			jwk.WithHTTPClient(httpClient),
		); err != nil {
			cancel()
			return nil, fmt.Errorf("register jwks %q: %w", cfg.JWKSURL, err)
		}
		v.cache = cache
		v.cancel = cancel
	} else {
		keys, err := keyStoreFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		v.keys = keys
	}

	cfg.Lint().log(cfg.Logger, "verifier")
	return v, nil
}

// Close stops background JWKS refreshes. It is a no-op for static keys.
func (v *Verifier) Close() {
	if v.cancel != nil {
		v.cancel()
	}
}

// KeyStore returns the store backing static key material, or nil for JWKS.
func (v *Verifier) KeyStore() *KeyStore {
	return v.keys
}

// Warmup refreshes the JWKS so the first Verify call does not pay for the fetch.
func (v *Verifier) Warmup(ctx context.Context) error {
	if v.cache == nil {
		return nil
	}
	refreshCtx, cancel := context.WithTimeout(ctx, v.cfg.HTTPTimeout)
	defer cancel()
	if _, err := v.cache.Refresh(refreshCtx, v.cfg.JWKSURL); err != nil {
		return newError(ErrCodeJWKSUnavailable, err)
	}
	return nil
}

// Verify runs token through parse, algorithm, signature and claim checks, in
// that order, and returns the claims only if every check passes. Failures are
// *Error values whose Code names the first check that failed.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := v.verify(ctx, token)
	v.cfg.Metrics.observeVerify(err)
	if err != nil {
		v.cfg.Logger.Debug("token rejected",
			zap.String("code", string(CodeOf(err))),
			zap.Error(err),
		)
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (*Claims, error) {
	msg, parsed, err := parseToken(token)
	if err != nil {
		return nil, err
	}

	headers := msg.Signatures()[0].ProtectedHeaders()
	alg := Algorithm(headers.Algorithm())
	if _, ok := v.allowed[alg]; !ok {
		return nil, newErrorf(ErrCodeAlgorithmMismatch, "algorithm %q is not accepted", alg)
	}

	key, err := v.resolveKey(ctx, headers.KeyID())
	if err != nil {
		return nil, err
	}
	if _, err := jws.Verify([]byte(token), jws.WithKey(alg.jwa(), key)); err != nil {
		return nil, newError(ErrCodeInvalidSignature, err)
	}
	if err := canonicalSignature(token); err != nil {
		return nil, err
	}

	return v.validateClaims(parsed)
}

// parseToken splits and decodes the three compact segments without trusting them.
func parseToken(token string) (*jws.Message, jwt.Token, error) {
	if token == "" {
		return nil, nil, newError(ErrCodeMalformed, errors.New("token is empty"))
	}
	if len(token) > maxTokenLength {
		return nil, nil, newErrorf(ErrCodeMalformed, "token exceeds %d bytes", maxTokenLength)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, nil, newErrorf(ErrCodeMalformed, "token has %d segments, want 3", len(parts))
	}
	for i, part := range parts[:2] {
		if err := canonicalSegment(part); err != nil {
			return nil, nil, newErrorf(ErrCodeMalformed, "segment %d is not base64url: %w", i, err)
		}
	}
	if _, err := base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return nil, nil, newErrorf(ErrCodeMalformed, "signature is not base64url: %w", err)
	}

	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, nil, newError(ErrCodeMalformed, err)
	}
	if len(msg.Signatures()) != 1 {
		return nil, nil, newErrorf(ErrCodeMalformed, "token has %d signatures", len(msg.Signatures()))
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithVerify(false),
		jwt.WithValidate(false),
		jwt.WithTypedClaim(UserClaim, Identity{}),
	)
	if err != nil {
		return nil, nil, newError(ErrCodeMalformed, err)
	}
	return msg, parsed, nil
}

// canonicalSegment accepts only the one base64url spelling of the decoded
// bytes: no set padding bits and no embedded line breaks.
func canonicalSegment(part string) error {
	raw, err := base64.RawURLEncoding.DecodeString(part)
	if err != nil {
		return err
	}
	if base64.RawURLEncoding.EncodeToString(raw) != part {
		return errors.New("segment is not canonical base64url")
	}
	return nil
}

func canonicalSignature(token string) error {
	if err := canonicalSegment(token[strings.LastIndexByte(token, '.')+1:]); err != nil {
		return newError(ErrCodeInvalidSignature, err)
	}
	return nil
}

func (v *Verifier) resolveKey(ctx context.Context, kid string) (any, error) {
	if v.cache != nil {
		return v.jwksKey(ctx, kid)
	}
	material := v.keys.Load()
	if material.KeyID != "" && kid != "" && kid != material.KeyID {
		return nil, newErrorf(ErrCodeInvalidSignature, "unknown key id %q", kid)
	}
	if v.cfg.ValidationType == ValidationHMAC {
		return material.Secret, nil
	}
	return material.PublicKey, nil
}

func (v *Verifier) jwksKey(ctx context.Context, kid string) (any, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, v.cfg.HTTPTimeout)
	defer cancel()

	set, err := v.cache.Get(fetchCtx, v.cfg.JWKSURL)
	if err != nil {
		return nil, newError(ErrCodeJWKSUnavailable, err)
	}

	var key jwk.Key
	switch {
	case kid != "":
		found, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, newErrorf(ErrCodeInvalidSignature, "no jwks key with kid %q", kid)
		}
		key = found
	case set.Len() == 1:
		key, _ = set.Key(0)
	default:
		return nil, newErrorf(ErrCodeInvalidSignature, "token has no kid and jwks holds %d keys", set.Len())
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, newError(ErrCodeInvalidKey, err)
	}
	return raw, nil
}

// validateClaims checks expiry, issued-at, not-before, issuer and audience,
// in that order.
func (v *Verifier) validateClaims(token jwt.Token) (*Claims, error) {
	now := v.cfg.Now()
	horizon := now.Add(v.cfg.ClockSkew)

	exp := token.Expiration()
	if exp.IsZero() {
		return nil, newError(ErrCodeMalformed, errors.New("exp claim is missing"))
	}
	if !exp.After(now) {
		return nil, newErrorf(ErrCodeExpired, "token expired at %s", exp.UTC().Format(time.RFC3339))
	}
	iat := token.IssuedAt()
	if !iat.IsZero() && iat.After(horizon) {
		return nil, newErrorf(ErrCodeNotYetValid, "token issued at %s which is in the future", iat.UTC().Format(time.RFC3339))
	}
	if !iat.IsZero() && !exp.After(iat) {
		return nil, newErrorf(ErrCodeMalformed, "exp %s is not after iat %s",
			exp.UTC().Format(time.RFC3339), iat.UTC().Format(time.RFC3339))
	}
	if nbf := token.NotBefore(); !nbf.IsZero() && nbf.After(horizon) {
		return nil, newErrorf(ErrCodeNotYetValid, "token not valid until %s", nbf.UTC().Format(time.RFC3339))
	}
	if iss := token.Issuer(); iss != v.cfg.Issuer {
		return nil, newErrorf(ErrCodeIssuerMismatch, "got %q, want %q", iss, v.cfg.Issuer)
	}
	if !containsString(token.Audience(), v.cfg.Audience) {
		return nil, newErrorf(ErrCodeAudienceMismatch, "got %v, want %q", token.Audience(), v.cfg.Audience)
	}

	return claimsFromToken(token, v.cfg.Audience)
}

func claimsFromToken(token jwt.Token, audience string) (*Claims, error) {
	subject := token.Subject()
	if strings.TrimSpace(subject) == "" {
		return nil, newError(ErrCodeInvalidIdentity, errors.New("sub claim is missing"))
	}

	user, err := identityFromToken(token)
	if err != nil {
		return nil, err
	}
	// sub is authoritative for the user id.
	user.ID = subject

	return &Claims{
		Issuer:    token.Issuer(),
		Subject:   subject,
		Audience:  audience,
		ExpiresAt: token.Expiration().UTC(),
		IssuedAt:  token.IssuedAt().UTC(),
		JWTID:     token.JwtID(),
		User:      user,
	}, nil
}

func identityFromToken(token jwt.Token) (*Identity, error) {
	raw, ok := token.Get(UserClaim)
	if !ok {
		return nil, newErrorf(ErrCodeInvalidIdentity, "%s claim is missing", UserClaim)
	}
	switch u := raw.(type) {
	case Identity:
		return u.clone(), nil
	case *Identity:
		if u != nil {
			return u.clone(), nil
		}
	}
	return nil, newErrorf(ErrCodeInvalidIdentity, "%s claim has unexpected type %T", UserClaim, raw)
}

func toSet(algs []Algorithm) map[Algorithm]struct{} {
	set := make(map[Algorithm]struct{}, len(algs))
	for _, a := range algs {
		set[a] = struct{}{}
	}
	return set
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
