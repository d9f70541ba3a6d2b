package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("super-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	tok, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	subject, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("subject = %q, want alice", subject)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer, _ := NewTokenIssuer("super-secret", -time.Minute)
	tok, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(tok); err == nil {
		t.Fatal("expected an error verifying an already-expired token")
	}
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issuerA, _ := NewTokenIssuer("secret-a", time.Hour)
	issuerB, _ := NewTokenIssuer("secret-b", time.Hour)

	tok, _ := issuerA.Issue("alice")
	if _, err := issuerB.Verify(tok); err == nil {
		t.Fatal("expected verification to fail against a different secret")
	}
}

func TestNewTokenIssuerRejectsEmptySecret(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	issuer, _ := NewTokenIssuer("super-secret", time.Hour)
	if _, err := issuer.Verify("not-a-jwt"); err == nil {
		t.Fatal("expected an error for a malformed token")
	}
}
