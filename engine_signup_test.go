package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignupCreatesAccount(t *testing.T) {
	cfg := testConfig()
	cfg.Signup.AutoLogin = false
	f, done := newTestEngine(t, cfg)
	defer done()

	res, err := f.engine.Signup(context.Background(), SignupRequest{
		Email:    "Alice@Example.com",
		Name:     "Alice",
		Password: "new-password-123",
	})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if res.User.UserID == "" {
		t.Fatal("expected a created user id")
	}
	if res.User.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %s", res.User.Email)
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatal("expected no tokens when auto-login is disabled")
	}

	cred, ok := f.repo.user(t, res.User.UserID).Credential.(PasswordCredential)
	if !ok {
		t.Fatal("expected a password credential")
	}
	if cred.Hash == "new-password-123" || cred.Hash == "" {
		t.Fatal("expected the stored password to be hashed")
	}
	if ok, err := f.engine.passwordHash.Verify("new-password-123", cred.Hash); err != nil || !ok {
		t.Fatalf("stored hash does not verify, ok=%v err=%v", ok, err)
	}

	waitFor(t, time.Second, func() bool {
		return len(f.events.byType(EventUserCreated)) == 1
	})
}

func TestSignupAutoLogin(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	res, err := f.engine.Signup(context.Background(), SignupRequest{
		Email:    "alice@example.com",
		Password: "new-password-123",
	})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected a token pair from auto-login")
	}

	if _, err := f.engine.ValidateAccess(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("auto-login access token invalid: %v", err)
	}
	if _, err := f.engine.Refresh(context.Background(), res.RefreshToken); err != nil {
		t.Fatalf("auto-login refresh token invalid: %v", err)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	_, err := f.engine.Signup(context.Background(), SignupRequest{
		Email:    "ALICE@example.com",
		Password: "new-password-123",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricSignupDuplicate]; got != 1 {
		t.Fatalf("expected 1 duplicate signup, got %d", got)
	}
}

func TestSignupPasswordPolicy(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	_, err := f.engine.Signup(context.Background(), SignupRequest{
		Email:    "alice@example.com",
		Password: "short",
	})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if len(f.repo.users) != 0 {
		t.Fatal("no account must be created on policy rejection")
	}
}
