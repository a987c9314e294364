// Package auth verifies connection-admission credentials.
package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Verifier checks a single opaque credential string.
type Verifier interface {
	Verify(credential string) error
}

// KeyVerifier compares a shared key in constant time. It backs the /auth
// issuance endpoint.
type KeyVerifier struct {
	Expected string
}

func (v KeyVerifier) Verify(key string) error {
	if key == "" {
		return ErrMissingCredentials
	}
	if v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
