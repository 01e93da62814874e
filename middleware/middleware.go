// Package middleware authenticates gin requests carrying kotomi bearer tokens.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
)

// ClaimsKey is the gin context key holding jwtx.CallerClaims.
const ClaimsKey = "kotomi_jwt_claims"

// TokenVerifier is satisfied by *jwtx.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwtx.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := jwtx.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}
		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		bind(c, jwtx.CallerClaims{Claims: claims})
		c.Next()
	}
}

// OptionalAuth binds claims when a valid bearer token is present and lets
// every request through.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := jwtx.ExtractBearer(c.GetHeader("Authorization"))
		if err == nil {
			if claims, err := verifier.Verify(c.Request.Context(), token); err == nil {
				bind(c, jwtx.CallerClaims{Claims: claims})
			}
		}
		c.Next()
	}
}

// RequireSiteAuth authenticates against the site named by the path parameter
// param. Sites with auth mode none pass with dev-bypass claims.
func RequireSiteAuth(registry *jwtx.Registry, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, extractErr := jwtx.ExtractBearer(c.GetHeader("Authorization"))
		caller, err := registry.Authenticate(c.Request.Context(), c.Param(param), token)
		if err != nil {
			if extractErr != nil && jwtx.CodeOf(err) != jwtx.ErrCodeSiteNotRegistered {
				err = extractErr
			}
			abort(c, err)
			return
		}
		bind(c, caller)
		c.Next()
	}
}

// ClaimsFrom returns the caller claims bound by one of the handlers above.
func ClaimsFrom(c *gin.Context) (jwtx.CallerClaims, bool) {
	value, ok := c.Get(ClaimsKey)
	if !ok {
		return jwtx.CallerClaims{}, false
	}
	claims, ok := value.(jwtx.CallerClaims)
	return claims, ok
}

func bind(c *gin.Context, caller jwtx.CallerClaims) {
	c.Set(ClaimsKey, caller)
	c.Request = c.Request.WithContext(jwtx.BindCallerClaims(c.Request.Context(), caller))
}

func abort(c *gin.Context, err error) {
	status := statusFor(err)
	code := jwtx.CodeOf(err)
	if code == "" {
		code = jwtx.ErrCodeInternal
	}
	message := http.StatusText(status)
	var jerr *jwtx.Error
	if errors.As(err, &jerr) && jerr.Message != "" {
		message = jerr.Message
	}
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

func statusFor(err error) int {
	switch {
	case jwtx.IsRejection(err):
		return http.StatusUnauthorized
	case jwtx.CodeOf(err) == jwtx.ErrCodeSiteNotRegistered:
		return http.StatusNotFound
	case jwtx.CodeOf(err) == jwtx.ErrCodeJWKSUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
