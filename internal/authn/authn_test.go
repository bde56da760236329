package authn

import (
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	issuer := NewIssuer(secret)
	verifier := NewVerifier(secret)

	want := Identity{UserID: "u1", Email: "u1@example.com", PlanType: "pro"}
	token, err := issuer.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if got != want {
		t.Errorf("Verify() = %+v, want %+v", got, want)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	secret, _ := GenerateSecret()
	issuer := NewIssuer(secret)
	verifier := NewVerifier(secret)

	token, _ := issuer.Issue(Identity{UserID: "u1"}, time.Hour)
	tampered := token[:len(token)-1] + "x"

	if _, err := verifier.Verify(tampered); err == nil {
		t.Fatal("expected error verifying tampered token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	secretA, _ := GenerateSecret()
	secretB, _ := GenerateSecret()

	token, _ := NewIssuer(secretA).Issue(Identity{UserID: "u1"}, 0)
	if _, err := NewVerifier(secretB).Verify(token); err == nil {
		t.Fatal("expected error verifying token signed with a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret, _ := GenerateSecret()
	issuer := NewIssuer(secret)
	verifier := NewVerifier(secret)

	token, _ := issuer.Issue(Identity{UserID: "u1"}, time.Nanosecond)
	time.Sleep(time.Millisecond)

	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected error verifying expired token")
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	secret, _ := GenerateSecret()
	verifier := NewVerifier(secret)

	for _, tok := range []string{"", "no-dot-here", "a.b.c", "!!!.###"} {
		if _, err := verifier.Verify(tok); err == nil {
			t.Errorf("expected error verifying malformed token %q", tok)
		}
	}
}
