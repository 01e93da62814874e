package jwtx

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MinSecretLength is the recommended minimum HMAC secret length in bytes.
const MinSecretLength = 32

const (
	maxRecommendedTTL  = 24 * time.Hour
	maxRecommendedSkew = 5 * time.Minute
)

// Warning is a non-fatal configuration finding.
type Warning struct {
	Code    string
	Message string
}

// Warnings is an ordered list of lint findings.
type Warnings []Warning

// Codes returns the warning codes in order.
func (ws Warnings) Codes() []string {
	codes := make([]string, 0, len(ws))
	for _, w := range ws {
		codes = append(codes, w.Code)
	}
	return codes
}

// Has reports whether a warning with code is present.
func (ws Warnings) Has(code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

func (ws Warnings) log(logger *zap.Logger, component string) {
	for _, w := range ws {
		logger.Warn(w.Message, zap.String("component", component), zap.String("code", w.Code))
	}
}

// LintSecret reports secrets shorter than MinSecretLength. An empty secret is
// not a lint finding; it is rejected outright with ErrCodeWeakSecret.
func LintSecret(secret []byte) Warnings {
	if len(secret) == 0 || len(secret) >= MinSecretLength {
		return nil
	}
	return Warnings{{
		Code:    string(ErrCodeWeakSecret),
		Message: fmt.Sprintf("secret is %d bytes; at least %d are recommended", len(secret), MinSecretLength),
	}}
}

// Lint reports issuer settings that work but are discouraged.
func (c IssuerConfig) Lint() Warnings {
	var ws Warnings
	if len(c.Secret) > 0 {
		ws = append(ws, LintSecret(c.Secret)...)
	}
	if c.TTL > maxRecommendedTTL {
		ws = append(ws, Warning{
			Code:    "ttl_long",
			Message: fmt.Sprintf("token ttl %s exceeds %s", c.TTL, maxRecommendedTTL),
		})
	}
	if c.Issuer == "" {
		ws = append(ws, Warning{Code: "issuer_empty", Message: "tokens will carry no iss claim"})
	}
	return ws
}

// Lint reports verifier settings that work but are discouraged.
func (c VerifierConfig) Lint() Warnings {
	var ws Warnings
	if c.ValidationType == ValidationHMAC {
		ws = append(ws, LintSecret(c.Secret)...)
	}
	if c.ClockSkew > maxRecommendedSkew {
		ws = append(ws, Warning{
			Code:    "clock_skew_large",
			Message: fmt.Sprintf("clock skew %s exceeds %s", c.ClockSkew, maxRecommendedSkew),
		})
	}
	return ws
}
