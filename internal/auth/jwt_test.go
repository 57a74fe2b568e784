package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testIssuer = "https://test.example.com"

func TestJWTResolverResolve(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	secret := "test-secret-key-for-jwt"

	tokenStr, err := NewAccessToken(userID, secret, 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	resolver := NewJWTResolver(secret, testIssuer)
	got, err := resolver.Resolve(context.Background(), tokenStr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got != userID {
		t.Errorf("Resolve() = %q, want %q", got, userID)
	}
}

func TestNewAccessTokenEmptySecret(t *testing.T) {
	t.Parallel()
	_, err := NewAccessToken(uuid.New(), "", 15*time.Minute, testIssuer)
	if err == nil {
		t.Fatal("NewAccessToken() with empty secret should return error")
	}
}

func TestJWTResolverResolveExpired(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	secret := "test-secret"

	// Token that expired 1 second ago.
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resolver := NewJWTResolver(secret, testIssuer)
	_, err = resolver.Resolve(context.Background(), tokenStr)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTResolverResolveWrongSecret(t *testing.T) {
	t.Parallel()
	userID := uuid.New()

	tokenStr, err := NewAccessToken(userID, "correct-secret", 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	resolver := NewJWTResolver("wrong-secret", testIssuer)
	_, err = resolver.Resolve(context.Background(), tokenStr)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTResolverResolveWrongIssuer(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	secret := "test-secret"

	tokenStr, err := NewAccessToken(userID, secret, 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	resolver := NewJWTResolver(secret, "https://wrong.example.com")
	_, err = resolver.Resolve(context.Background(), tokenStr)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTResolverResolveNoIssuerCheck(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	secret := "test-secret"

	tokenStr, err := NewAccessToken(userID, secret, 15*time.Minute, "https://any-issuer.example.com")
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	resolver := NewJWTResolver(secret, "")
	got, err := resolver.Resolve(context.Background(), tokenStr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != userID {
		t.Errorf("Resolve() = %q, want %q", got, userID)
	}
}

func TestJWTResolverResolveMalformed(t *testing.T) {
	t.Parallel()
	resolver := NewJWTResolver("secret", testIssuer)
	_, err := resolver.Resolve(context.Background(), "not.a.valid.jwt")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTResolverResolveSubjectNotUUID(t *testing.T) {
	t.Parallel()
	secret := "test-secret"

	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resolver := NewJWTResolver(secret, testIssuer)
	_, err = resolver.Resolve(context.Background(), tokenStr)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}
