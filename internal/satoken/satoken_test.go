package satoken_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmona/pubsession/internal/satoken"
	"github.com/jmona/pubsession/transport/transporttest"
)

func TestVerifyRoundTrip(t *testing.T) {
	sa := transporttest.NewAccount(t)
	assertion, err := sa.SignedAssertion("aud/test", []string{"read", "write"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cfg := satoken.DefaultConfig("aud/test")
	cfg.RequiredScopes = []string{"read", "write"}
	grant, err := satoken.Verify(assertion, sa.PublicKey(), cfg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if grant.Email != sa.ClientEmail {
		t.Fatalf("expected grant for %s, got %s", sa.ClientEmail, grant.Email)
	}
	if len(grant.Scopes) != 2 {
		t.Fatalf("unexpected scopes: %v", grant.Scopes)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	sa := transporttest.NewAccount(t)
	assertion, err := sa.SignedAssertion("aud/other", nil, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = satoken.Verify(assertion, sa.PublicKey(), satoken.DefaultConfig("aud/test"))
	if !errors.Is(err, satoken.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsMissingScope(t *testing.T) {
	sa := transporttest.NewAccount(t)
	assertion, err := sa.SignedAssertion("aud/test", []string{"read"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	cfg := satoken.DefaultConfig("aud/test")
	cfg.RequiredScopes = []string{"read", "write"}
	_, err = satoken.Verify(assertion, sa.PublicKey(), cfg)
	if !errors.Is(err, satoken.ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope, got %v", err)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer := transporttest.NewAccount(t)
	other := transporttest.NewAccount(t)
	assertion, err := signer.SignedAssertion("aud/test", nil, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = satoken.Verify(assertion, other.PublicKey(), satoken.DefaultConfig("aud/test"))
	if !errors.Is(err, satoken.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsTamperedAssertion(t *testing.T) {
	sa := transporttest.NewAccount(t)
	assertion, err := sa.SignedAssertion("aud/test", nil, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(assertion, ".")
	tampered := parts[0] + ".eyJpc3MiOiJldmlsIn0." + parts[2]
	_, err = satoken.Verify(tampered, sa.PublicKey(), satoken.DefaultConfig("aud/test"))
	if !errors.Is(err, satoken.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsEmptyAssertion(t *testing.T) {
	sa := transporttest.NewAccount(t)
	_, err := satoken.Verify("", sa.PublicKey(), satoken.DefaultConfig("aud/test"))
	if !errors.Is(err, satoken.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyExpiredAssertion(t *testing.T) {
	sa := transporttest.NewAccount(t)
	assertion, err := sa.SignedAssertion("aud/test", nil, time.Nanosecond)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	cfg := satoken.DefaultConfig("aud/test")
	cfg.Leeway = 0
	time.Sleep(10 * time.Millisecond)
	_, err = satoken.Verify(assertion, sa.PublicKey(), cfg)
	if !errors.Is(err, satoken.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired assertion, got %v", err)
	}
}
