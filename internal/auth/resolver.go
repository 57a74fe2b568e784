// Package auth resolves an Identify token to a user id. Issuing tokens, password
// hashing, MFA, and every other part of account management belong to the identity
// service this gateway treats as an external collaborator; this package only
// implements the resolution half the session controller calls during Establishing.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TokenResolver resolves an opaque client-supplied token to a user id. Implementations
// may call out to a remote identity service; the default JWTResolver below validates a
// locally-signed JWT.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

// JWTResolver resolves HS256 JWTs signed with a shared secret.
type JWTResolver struct {
	secret string
	issuer string
}

// NewJWTResolver creates a resolver that validates JWTs signed with secret, optionally
// checking the issuer claim when issuer is non-empty.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: secret, issuer: issuer}
}

// Resolve implements TokenResolver.
func (r *JWTResolver) Resolve(_ context.Context, token string) (uuid.UUID, error) {
	claims, err := validateAccessToken(token, r.secret, r.issuer)
	if err != nil {
		return uuid.Nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a UUID", ErrInvalidToken)
	}

	return userID, nil
}
