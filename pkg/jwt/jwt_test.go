package jwt

import (
	"errors"
	"testing"
	"time"

	"portalchat/infrastructure"
)

func TestGenerateAndValidateToken(t *testing.T) {
	j := NewJWT([]byte("secret"), 3600)

	token, err := j.GenerateToken("user-42")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	claims, err := j.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("expected user-42, got %s", claims.UserID)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected a future expiry, got %v", claims.ExpiresAt)
	}
}

func TestExpiredToken(t *testing.T) {
	j := NewJWT([]byte("secret"), -60)

	token, err := j.GenerateToken("user-42")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := j.ValidateToken(token); !errors.Is(err, infrastructure.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestInvalidToken(t *testing.T) {
	j := NewJWT([]byte("secret"), 3600)

	if _, err := j.ValidateToken(""); !errors.Is(err, infrastructure.ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := j.ValidateToken("not-a-jwt"); !errors.Is(err, infrastructure.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	other := NewJWT([]byte("different"), 3600)
	token, _ := other.GenerateToken("user-42")
	if _, err := j.ValidateToken(token); !errors.Is(err, infrastructure.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}
}
