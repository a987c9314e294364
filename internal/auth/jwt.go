package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HS256 tokens minted by an external issuer, as an
// alternative to store-issued opaque tokens. Only the HMAC family is
// accepted; asymmetric algs (and alg=none) are rejected up front.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (v *JWTVerifier) Verify(credential string) error {
	_, err := v.VerifySubject(credential)
	return err
}

// VerifySubject validates credential and returns its `sub` claim, which
// identifies the authenticated client for auditing.
func (v *JWTVerifier) VerifySubject(credential string) (string, error) {
	if credential == "" {
		return "", ErrMissingCredentials
	}
	if len(v.secret) == 0 {
		return "", ErrInvalidCredentials
	}

	parsed, err := jwtlib.Parse(credential, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return "", errors.Join(ErrInvalidCredentials, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", errors.Join(ErrInvalidCredentials, err)
	}
	return sub, nil
}
