package auth

import "errors"

// ErrInvalidToken is returned when a token fails signature, expiry, or issuer
// validation.
var ErrInvalidToken = errors.New("invalid or expired token")
