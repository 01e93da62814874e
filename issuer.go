package jwtx

import (
	"bytes"
	"crypto"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jws"
	"go.uber.org/zap"
)

// IssueSymmetric signs claims with an HMAC secret. alg defaults to HS256.
// Secrets shorter than MinSecretLength are accepted and reported through the
// global zap logger.
func IssueSymmetric(claims *Claims, secret []byte, alg Algorithm) (string, error) {
	if alg == "" {
		alg = HS256
	}
	if !alg.isSymmetric() {
		return "", newErrorf(ErrCodeInvalidKey, "a shared secret cannot sign %s", alg)
	}
	if len(secret) == 0 {
		return "", newError(ErrCodeWeakSecret, errors.New("secret is empty"))
	}
	LintSecret(secret).log(zap.L(), "issuer")
	return sign(claims, alg, secret, "")
}

// IssueAsymmetric signs claims with a private key. alg defaults to RS256.
// privateKey may be a parsed key or PEM data ([]byte or string).
func IssueAsymmetric(claims *Claims, privateKey crypto.PrivateKey, alg Algorithm) (string, error) {
	if alg == "" {
		alg = RS256
	}
	key, err := signingKey(privateKey, alg)
	if err != nil {
		return "", err
	}
	return sign(claims, alg, key, "")
}

func sign(claims *Claims, alg Algorithm, key any, kid string) (string, error) {
	if err := claims.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, "JWT"); err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	if kid != "" {
		if err := headers.Set(jws.KeyIDKey, kid); err != nil {
			return "", newError(ErrCodeInternal, err)
		}
	}

	signed, err := jws.Sign(payload, jws.WithKey(alg.jwa(), key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", newError(ErrCodeInvalidKey, err)
	}
	return string(signed), nil
}

// Issuer signs tokens for identities with fixed key material and defaults.
// It is immutable after construction and safe for concurrent use.
type Issuer struct {
	cfg IssuerConfig
	key any
}

type issueParams struct {
	audience string
	ttl      time.Duration
}

// IssueOption customizes a single Issue call.
type IssueOption func(*issueParams)

// WithAudience overrides the configured audience.
func WithAudience(audience string) IssueOption {
	return func(p *issueParams) {
		p.audience = audience
	}
}

// WithTTL overrides the configured token lifetime.
func WithTTL(ttl time.Duration) IssueOption {
	return func(p *issueParams) {
		p.ttl = ttl
	}
}

// NewIssuer validates cfg, loads the signing key and logs lint warnings.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var key any
	if cfg.Algorithm.isSymmetric() {
		key = bytes.Clone(cfg.Secret)
	} else {
		var src crypto.PrivateKey = cfg.PrivateKey
		if src == nil {
			src = cfg.PrivateKeyPEM
		}
		parsed, err := signingKey(src, cfg.Algorithm)
		if err != nil {
			return nil, err
		}
		key = parsed
	}

	cfg.Lint().log(cfg.Logger, "issuer")
	return &Issuer{cfg: cfg, key: key}, nil
}

// Algorithm returns the signing algorithm.
func (i *Issuer) Algorithm() Algorithm {
	return i.cfg.Algorithm
}

// Audience returns the default audience.
func (i *Issuer) Audience() string {
	return i.cfg.Audience
}

// Issue builds claims for identity, stamps a fresh jti and signs them.
func (i *Issuer) Issue(identity Identity, opts ...IssueOption) (string, *Claims, error) {
	params := issueParams{audience: i.cfg.Audience, ttl: i.cfg.TTL}
	for _, opt := range opts {
		opt(&params)
	}

	claims, err := BuildClaimsAt(i.cfg.Now(), identity, i.cfg.Issuer, params.audience, params.ttl)
	if err == nil {
		claims.JWTID = uuid.NewString()
	}
	var token string
	if err == nil {
		token, err = sign(claims, i.cfg.Algorithm, i.key, i.cfg.KeyID)
	}
	i.cfg.Metrics.observeIssue(i.cfg.Algorithm, err)
	if err != nil {
		i.cfg.Logger.Error("issue token failed",
			zap.String("code", string(CodeOf(err))),
			zap.String("subject", identity.ID),
			zap.Error(err),
		)
		return "", nil, err
	}

	i.cfg.Logger.Debug("token issued",
		zap.String("subject", claims.Subject),
		zap.String("audience", claims.Audience),
		zap.String("jti", claims.JWTID),
		zap.Time("expires_at", claims.ExpiresAt),
	)
	return token, claims, nil
}
