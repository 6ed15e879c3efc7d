package security

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndValidate(t *testing.T) {
	token, err := SignToken("alice", "secret", time.Minute, map[string]any{"role": "editor", "sub": "mallory"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if SubjectFromClaims(claims) != "alice" {
		t.Fatalf("extra claims must not override sub, got %v", claims["sub"])
	}
	if claims["role"] != "editor" {
		t.Fatalf("missing extra claim: %v", claims)
	}

	if _, err := ValidateJWT(token, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	expired, _ := SignToken("alice", "secret", -time.Minute, nil)
	if _, err := ValidateJWT(expired, "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token should be rejected, got %v", err)
	}
	if _, err := SignToken("alice", "", time.Minute, nil); err == nil {
		t.Fatal("empty secret should be rejected")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if err := CheckPassword(hash, "nope"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := CheckPassword("", "hunter2"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatal("empty hash should never match")
	}
}

func TestGenerators(t *testing.T) {
	a, b := GenerateULID(), GenerateULID()
	if len(a) != 26 || a == b {
		t.Fatalf("unexpected ulids %q %q", a, b)
	}
	key, err := GenerateSecureKey(64)
	if err != nil || len(key) != 64 {
		t.Fatalf("unexpected key %q %v", key, err)
	}
}
