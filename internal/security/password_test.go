package security

import (
	"strings"
	"testing"
)

func TestHashPasswordRequiresMinimumLength(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestHashPasswordAndVerify(t *testing.T) {
	password := "dal-chawal-daily"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !strings.HasPrefix(hash, passwordHashVersion+"$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	if !VerifyPassword(password, hash) {
		t.Fatalf("expected password verification to succeed")
	}
	if VerifyPassword("wrong-password", hash) {
		t.Fatalf("expected wrong password verification to fail")
	}
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	for _, encoded := range []string{
		"",
		"v1$180000$c2FsdA$ZGlnZXN0",
		passwordHashVersion + "$10$c2FsdA$ZGlnZXN0",
		passwordHashVersion + "$210000$!!$ZGlnZXN0",
	} {
		if VerifyPassword("anything-long", encoded) {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
}

func TestRandomTokenIsUnique(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _ := RandomToken(32)
	if a == b || len(a) < 40 {
		t.Fatalf("expected distinct long tokens, got %q and %q", a, b)
	}
	if _, err := RandomToken(0); err == nil {
		t.Fatalf("expected error for zero length")
	}
}
