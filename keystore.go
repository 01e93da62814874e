package jwtx

import (
	"bytes"
	"crypto"
	"errors"
	"sync/atomic"
)

// KeyMaterial is one generation of verification key material.
type KeyMaterial struct {
	Secret    []byte
	PublicKey crypto.PublicKey
	// KeyID, when set, must match the kid header of tokens that carry one.
	KeyID string
}

// KeyStore holds the current KeyMaterial. Readers never observe a partially
// rotated key: Rotate replaces the whole reference.
type KeyStore struct {
	current atomic.Pointer[KeyMaterial]
}

// NewKeyStore returns a store primed with initial.
func NewKeyStore(initial KeyMaterial) *KeyStore {
	s := &KeyStore{}
	s.Rotate(initial)
	return s
}

// Load returns the current key material. The result must not be modified.
func (s *KeyStore) Load() *KeyMaterial {
	return s.current.Load()
}

// Rotate installs next as the current key material.
func (s *KeyStore) Rotate(next KeyMaterial) {
	if len(next.Secret) > 0 {
		next.Secret = bytes.Clone(next.Secret)
	}
	s.current.Store(&next)
}

// KeyDecoder turns the raw content of a key file into KeyMaterial.
type KeyDecoder func([]byte) (KeyMaterial, error)

// SecretDecoder treats the file content as an HMAC secret, ignoring
// surrounding whitespace.
func SecretDecoder(data []byte) (KeyMaterial, error) {
	secret := bytes.TrimSpace(data)
	if len(secret) == 0 {
		return KeyMaterial{}, newError(ErrCodeWeakSecret, errors.New("secret file is empty"))
	}
	return KeyMaterial{Secret: secret}, nil
}

// PublicKeyDecoder returns a KeyDecoder parsing a PEM public key of family t.
func PublicKeyDecoder(t ValidationType) KeyDecoder {
	return func(data []byte) (KeyMaterial, error) {
		pub, err := ParsePublicKeyPEM(data)
		if err != nil {
			return KeyMaterial{}, err
		}
		pub, err = verificationKey(pub, t)
		if err != nil {
			return KeyMaterial{}, err
		}
		return KeyMaterial{PublicKey: pub}, nil
	}
}

// DecoderFor picks SecretDecoder for HMAC and PublicKeyDecoder otherwise.
func DecoderFor(t ValidationType) KeyDecoder {
	if t == ValidationHMAC {
		return SecretDecoder
	}
	return PublicKeyDecoder(t)
}

// keyStoreFromConfig builds the key store a verifier reads from.
func keyStoreFromConfig(cfg VerifierConfig) (*KeyStore, error) {
	if cfg.KeyStore != nil {
		if cfg.KeyStore.Load() == nil {
			return nil, newError(ErrCodeInvalidKey, errors.New("key store is empty"))
		}
		return cfg.KeyStore, nil
	}
	if cfg.ValidationType == ValidationHMAC {
		if len(cfg.Secret) == 0 {
			return nil, newError(ErrCodeWeakSecret, errors.New("secret is required for hmac validation"))
		}
		return NewKeyStore(KeyMaterial{Secret: cfg.Secret}), nil
	}

	pub := cfg.PublicKey
	if pub == nil {
		parsed, err := ParsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		pub = parsed
	}
	pub, err := verificationKey(pub, cfg.ValidationType)
	if err != nil {
		return nil, err
	}
	return NewKeyStore(KeyMaterial{PublicKey: pub}), nil
}
