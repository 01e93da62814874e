package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
)

// Algorithm is a JWS signature algorithm identifier as it appears in the alg header.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	PS256 Algorithm = "PS256"
	PS384 Algorithm = "PS384"
	PS512 Algorithm = "PS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
	EdDSA Algorithm = "EdDSA"
)

func (a Algorithm) jwa() jwa.SignatureAlgorithm {
	return jwa.SignatureAlgorithm(a)
}

// ValidationType selects the key family a verifier accepts.
type ValidationType string

const (
	ValidationHMAC  ValidationType = "hmac"
	ValidationRSA   ValidationType = "rsa"
	ValidationECDSA ValidationType = "ecdsa"
	ValidationEdDSA ValidationType = "eddsa"
	ValidationJWKS  ValidationType = "jwks"
)

var (
	hmacAlgorithms  = []Algorithm{HS256, HS384, HS512}
	rsaAlgorithms   = []Algorithm{RS256, RS384, RS512, PS256, PS384, PS512}
	ecdsaAlgorithms = []Algorithm{ES256, ES384, ES512}
	eddsaAlgorithms = []Algorithm{EdDSA}
)

// Algorithms returns the algorithms a verifier of this type accepts by default.
func (t ValidationType) Algorithms() []Algorithm {
	switch t {
	case ValidationHMAC:
		return append([]Algorithm(nil), hmacAlgorithms...)
	case ValidationRSA:
		return append([]Algorithm(nil), rsaAlgorithms...)
	case ValidationECDSA:
		return append([]Algorithm(nil), ecdsaAlgorithms...)
	case ValidationEdDSA:
		return append([]Algorithm(nil), eddsaAlgorithms...)
	case ValidationJWKS:
		out := make([]Algorithm, 0, len(rsaAlgorithms)+len(ecdsaAlgorithms)+len(eddsaAlgorithms))
		out = append(out, rsaAlgorithms...)
		out = append(out, ecdsaAlgorithms...)
		return append(out, eddsaAlgorithms...)
	default:
		return nil
	}
}

// ParseValidationType accepts the operator-facing spelling of a validation type.
func ParseValidationType(s string) (ValidationType, error) {
	t := ValidationType(strings.ToLower(strings.TrimSpace(s)))
	if t.Algorithms() == nil {
		return "", fmt.Errorf("unsupported validation type %q", s)
	}
	return t, nil
}

// isSymmetric reports whether alg is an HMAC algorithm.
func (a Algorithm) isSymmetric() bool {
	return contains(hmacAlgorithms, a)
}

func contains(algs []Algorithm, a Algorithm) bool {
	for _, candidate := range algs {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParsePrivateKeyPEM parses an RSA, ECDSA or Ed25519 private key from PEM.
func ParsePrivateKeyPEM(data []byte) (crypto.PrivateKey, error) {
	if len(data) == 0 {
		return nil, newError(ErrCodeInvalidKey, errors.New("private key is empty"))
	}
	if key, err := gjwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := gjwt.ParseECPrivateKeyFromPEM(data); err == nil {
		return key, nil
	}
	key, err := gjwt.ParseEdPrivateKeyFromPEM(data)
	if err != nil {
		return nil, newError(ErrCodeInvalidKey, errors.New("unrecognised private key PEM"))
	}
	return key, nil
}

// ParsePublicKeyPEM parses an RSA, ECDSA or Ed25519 public key from PEM.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if len(data) == 0 {
		return nil, newError(ErrCodeInvalidKey, errors.New("public key is empty"))
	}
	if key, err := gjwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := gjwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	key, err := gjwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, newError(ErrCodeInvalidKey, errors.New("unrecognised public key PEM"))
	}
	return key, nil
}

// signingKey resolves key into the concrete private key type alg requires.
// PEM input is accepted as []byte or string.
func signingKey(key crypto.PrivateKey, alg Algorithm) (crypto.PrivateKey, error) {
	switch k := key.(type) {
	case nil:
		return nil, newError(ErrCodeInvalidKey, errors.New("private key is nil"))
	case []byte:
		parsed, err := ParsePrivateKeyPEM(k)
		if err != nil {
			return nil, err
		}
		key = parsed
	case string:
		parsed, err := ParsePrivateKeyPEM([]byte(k))
		if err != nil {
			return nil, err
		}
		key = parsed
	}
	if pk, ok := key.(*ed25519.PrivateKey); ok {
		key = *pk
	}

	switch {
	case contains(rsaAlgorithms, alg):
		if _, ok := key.(*rsa.PrivateKey); ok {
			return key, nil
		}
	case contains(ecdsaAlgorithms, alg):
		if k, ok := key.(*ecdsa.PrivateKey); ok {
			if err := checkCurve(k.Curve, alg); err != nil {
				return nil, err
			}
			return key, nil
		}
	case alg == EdDSA:
		if _, ok := key.(ed25519.PrivateKey); ok {
			return key, nil
		}
	default:
		return nil, newErrorf(ErrCodeInvalidKey, "algorithm %q is not an asymmetric signing algorithm", alg)
	}
	return nil, newErrorf(ErrCodeInvalidKey, "%T cannot sign %s", key, alg)
}

// verificationKey checks that key belongs to the family of t.
func verificationKey(key crypto.PublicKey, t ValidationType) (crypto.PublicKey, error) {
	if pk, ok := key.(*ed25519.PublicKey); ok {
		key = *pk
	}
	var ok bool
	switch t {
	case ValidationRSA:
		_, ok = key.(*rsa.PublicKey)
	case ValidationECDSA:
		_, ok = key.(*ecdsa.PublicKey)
	case ValidationEdDSA:
		_, ok = key.(ed25519.PublicKey)
	}
	if !ok {
		return nil, newErrorf(ErrCodeInvalidKey, "%T is not a %s public key", key, t)
	}
	return key, nil
}

func checkCurve(curve elliptic.Curve, alg Algorithm) error {
	want := map[Algorithm]elliptic.Curve{
		ES256: elliptic.P256(),
		ES384: elliptic.P384(),
		ES512: elliptic.P521(),
	}[alg]
	if curve != want {
		return newErrorf(ErrCodeInvalidKey, "curve %s does not match %s", curve.Params().Name, alg)
	}
	return nil
}
