package auth

import (
	"errors"
	"fmt"
)

// Token verification failures. Decode and Check return exactly one of these.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrRevoked          = errors.New("token revoked")
)

// ErrWeakSecret is returned when the signing secret is shorter than MinSecretLength.
var ErrWeakSecret = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)

// InvalidTokenError is returned by claim accessors when a token does not verify.
type InvalidTokenError struct {
	Reason error
}

func (e *InvalidTokenError) Error() string {
	if e.Reason == nil {
		return "invalid token"
	}
	return fmt.Sprintf("invalid token: %v", e.Reason)
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Reason
}

// MissingClaimError is returned when a verified token does not carry the requested claim,
// e.g. the role of a refresh token.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("token has no %s claim", e.Claim)
}

// IsInvalidToken reports whether err is an *InvalidTokenError.
func IsInvalidToken(err error) bool {
	var target *InvalidTokenError
	return errors.As(err, &target)
}

// IsMissingClaim reports whether err is a *MissingClaimError.
func IsMissingClaim(err error) bool {
	var target *MissingClaimError
	return errors.As(err, &target)
}
