package jwtx

import "context"

type callerKey struct{}

// CallerClaims is what a relying service knows about the caller after
// authentication.
type CallerClaims struct {
	Claims *Claims
	// SiteID is set when the claims were produced through a Registry.
	SiteID    string
	DevBypass bool
}

// Identity returns the embedded user, or nil.
func (c CallerClaims) Identity() *Identity {
	if c.Claims == nil {
		return nil
	}
	return c.Claims.User
}

// BindCallerClaims returns a child of ctx carrying caller. Binding claims
// without a Claims value leaves ctx unchanged.
func BindCallerClaims(ctx context.Context, caller CallerClaims) context.Context {
	if caller.Claims == nil {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, &caller)
}

// CallerClaimsFromContext returns the caller bound by BindCallerClaims.
func CallerClaimsFromContext(ctx context.Context) (CallerClaims, bool) {
	if ctx == nil {
		return CallerClaims{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(*CallerClaims)
	if !ok {
		return CallerClaims{}, false
	}
	return *caller, true
}

// IdentityFromContext returns the authenticated user bound to ctx.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	caller, ok := CallerClaimsFromContext(ctx)
	if !ok || caller.Identity() == nil {
		return nil, false
	}
	return caller.Identity(), true
}
