package jwtx

import "time"

// DevBypassClaims describes the synthetic caller used for sites whose auth
// mode is none.
type DevBypassClaims struct {
	Subject  string
	Name     string
	Issuer   string
	Audience string
	Email    string
	Roles    []string
}

// ToCallerClaims converts the dev bypass configuration into caller claims
// valid for one hour from now.
func (d DevBypassClaims) ToCallerClaims(now time.Time) CallerClaims {
	iat := now.UTC().Truncate(time.Second)
	claims := &Claims{
		Subject:   d.Subject,
		Issuer:    d.Issuer,
		Audience:  d.Audience,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(time.Hour),
		User: &Identity{
			ID:    d.Subject,
			Name:  d.Name,
			Email: d.Email,
			Roles: append([]string(nil), d.Roles...),
		},
	}
	return CallerClaims{
		Claims:    claims,
		DevBypass: true,
	}
}

// DefaultDevBypassClaims returns a baseline set of claims suitable for local development.
func DefaultDevBypassClaims(audience string) DevBypassClaims {
	aud := audience
	if aud == "" {
		aud = "kotomi"
	}
	return DevBypassClaims{
		Subject:  "dev-bypass",
		Name:     "Dev Bypass",
		Issuer:   "jwtx.dev",
		Audience: aud,
	}
}
