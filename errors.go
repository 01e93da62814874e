package jwtx

import (
	"errors"
	"fmt"
)

// ErrorCode represents issuer and verifier error categories.
type ErrorCode string

const (
	ErrCodeInvalidIdentity   ErrorCode = "invalid_identity"
	ErrCodeWeakSecret        ErrorCode = "weak_secret"
	ErrCodeInvalidKey        ErrorCode = "invalid_key"
	ErrCodeMalformed         ErrorCode = "malformed"
	ErrCodeAlgorithmMismatch ErrorCode = "algorithm_mismatch"
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
	ErrCodeExpired           ErrorCode = "token_expired"
	ErrCodeNotYetValid       ErrorCode = "token_not_yet_valid"
	ErrCodeIssuerMismatch    ErrorCode = "issuer_mismatch"
	ErrCodeAudienceMismatch  ErrorCode = "audience_mismatch"
	ErrCodeJWKSUnavailable   ErrorCode = "jwks_unavailable"
	ErrCodeSiteNotRegistered ErrorCode = "site_not_registered"
	ErrCodeInternal          ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidIdentity:   "Invalid identity",
	ErrCodeWeakSecret:        "Weak secret",
	ErrCodeInvalidKey:        "Invalid key",
	ErrCodeMalformed:         "Malformed token",
	ErrCodeAlgorithmMismatch: "Algorithm not allowed",
	ErrCodeInvalidSignature:  "Invalid signature",
	ErrCodeExpired:           "Token expired",
	ErrCodeNotYetValid:       "Token not yet valid",
	ErrCodeIssuerMismatch:    "Issuer mismatch",
	ErrCodeAudienceMismatch:  "Audience mismatch",
	ErrCodeJWKSUnavailable:   "JWKS unavailable",
	ErrCodeSiteNotRegistered: "Site not registered",
	ErrCodeInternal:          "Internal error",
}

// rejections are the codes a verifier reports for tokens that are simply not
// acceptable, as opposed to configuration or infrastructure failures.
var rejections = map[ErrorCode]struct{}{
	ErrCodeInvalidIdentity:   {},
	ErrCodeMalformed:         {},
	ErrCodeAlgorithmMismatch: {},
	ErrCodeInvalidSignature:  {},
	ErrCodeExpired:           {},
	ErrCodeNotYetValid:       {},
	ErrCodeIssuerMismatch:    {},
	ErrCodeAudienceMismatch:  {},
}

// Error wraps issuer and verifier errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so callers can
// write errors.Is(err, &jwtx.Error{Code: jwtx.ErrCodeExpired}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRejection reports whether err is a verification rejection of the token
// itself. Such errors are expected in normal operation and map to an
// authentication failure rather than a server fault.
func IsRejection(err error) bool {
	_, ok := rejections[CodeOf(err)]
	return ok
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func newErrorf(code ErrorCode, format string, args ...any) error {
	return newError(code, fmt.Errorf(format, args...))
}
