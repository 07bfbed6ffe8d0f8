package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewTokenVerifier([]byte("test-secret"), time.Hour)

	token, err := v.Issue("player-42", "nova")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Subject != "player-42" {
		t.Errorf("expected subject player-42, got %s", claims.Subject)
	}
	if claims.Username != "nova" {
		t.Errorf("expected username nova, got %s", claims.Username)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := NewTokenVerifier([]byte("secret-a"), time.Hour)
	verifier := NewTokenVerifier([]byte("secret-b"), time.Hour)

	token, _ := issuer.Issue("player-1", "x")
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	v := NewTokenVerifier([]byte("test-secret"), time.Hour)
	if _, err := v.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	v := NewTokenVerifier([]byte("test-secret"), -time.Minute)
	token, _ := v.Issue("player-1", "x")
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
