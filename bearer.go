package jwtx

import (
	"errors"
	"strings"
)

// ExtractBearer returns the token from an Authorization header value of the
// form "Bearer <token>". The scheme is matched case-insensitively.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", newError(ErrCodeMalformed, errors.New("authorization header is missing"))
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", newError(ErrCodeMalformed, errors.New("authorization header must be \"Bearer <token>\""))
	}
	return parts[1], nil
}
