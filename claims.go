package jwtx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserClaim is the custom claim key carrying the caller's Identity.
const UserClaim = "kotomi_user"

// Identity is the user profile embedded in a token. Only ID is required; the
// remaining fields are passed through to the relying service untouched.
type Identity struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Email      string   `json:"email,omitempty"`
	AvatarURL  string   `json:"avatar_url,omitempty"`
	ProfileURL string   `json:"profile_url,omitempty"`
	Verified   bool     `json:"verified"`
	Roles      []string `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("identity id is required")
	}
	return nil
}

func (i Identity) clone() *Identity {
	out := i
	if len(i.Roles) > 0 {
		out.Roles = append([]string(nil), i.Roles...)
	}
	return &out
}

// Claims is the claim set carried by every token this package issues or accepts.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JWTID     string

	User *Identity
}

// BuildClaims stamps a claim set for identity, issued now and expiring after ttl.
func BuildClaims(identity Identity, issuer, audience string, ttl time.Duration) (*Claims, error) {
	return BuildClaimsAt(time.Now(), identity, issuer, audience, ttl)
}

// BuildClaimsAt is BuildClaims with an explicit issue time. Timestamps are
// truncated to whole seconds to match their wire representation.
func BuildClaimsAt(now time.Time, identity Identity, issuer, audience string, ttl time.Duration) (*Claims, error) {
	if err := identity.validate(); err != nil {
		return nil, newError(ErrCodeInvalidIdentity, err)
	}
	if ttl < time.Second {
		return nil, newErrorf(ErrCodeInvalidIdentity, "ttl must be at least one second, got %s", ttl)
	}
	iat := now.UTC().Truncate(time.Second)
	return &Claims{
		Issuer:    issuer,
		Subject:   identity.ID,
		Audience:  audience,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl.Truncate(time.Second)),
		User:      identity.clone(),
	}, nil
}

// Validate checks the structural invariants of the claim set.
func (c *Claims) Validate() error {
	if c == nil {
		return newError(ErrCodeInvalidIdentity, errors.New("claims are nil"))
	}
	if strings.TrimSpace(c.Subject) == "" {
		return newError(ErrCodeInvalidIdentity, errors.New("subject is required"))
	}
	if c.User != nil {
		if err := c.User.validate(); err != nil {
			return newError(ErrCodeInvalidIdentity, err)
		}
	}
	if !c.ExpiresAt.After(c.IssuedAt) {
		return newErrorf(ErrCodeInvalidIdentity, "expiry %s must be after issued-at %s",
			c.ExpiresAt.Format(time.RFC3339), c.IssuedAt.Format(time.RFC3339))
	}
	return nil
}

// TTL returns the lifetime the claim set was issued with.
func (c *Claims) TTL() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

type wireClaims struct {
	Issuer    string    `json:"iss,omitempty"`
	Subject   string    `json:"sub"`
	Audience  string    `json:"aud,omitempty"`
	ExpiresAt int64     `json:"exp"`
	IssuedAt  int64     `json:"iat"`
	JWTID     string    `json:"jti,omitempty"`
	User      *Identity `json:"kotomi_user,omitempty"`
}

// MarshalJSON encodes the claim set with registered claim names and integer
// NumericDate timestamps.
func (c Claims) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireClaims{
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		Audience:  c.Audience,
		ExpiresAt: c.ExpiresAt.Unix(),
		IssuedAt:  c.IssuedAt.Unix(),
		JWTID:     c.JWTID,
		User:      c.User,
	})
}

// UnmarshalJSON decodes the wire representation produced by MarshalJSON.
func (c *Claims) UnmarshalJSON(data []byte) error {
	var w wireClaims
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode claims: %w", err)
	}
	*c = Claims{
		Issuer:    w.Issuer,
		Subject:   w.Subject,
		Audience:  w.Audience,
		ExpiresAt: time.Unix(w.ExpiresAt, 0).UTC(),
		IssuedAt:  time.Unix(w.IssuedAt, 0).UTC(),
		JWTID:     w.JWTID,
		User:      w.User,
	}
	return nil
}
