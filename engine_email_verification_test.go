package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEmailVerificationRoundTrip(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")
	if f.repo.user(t, user.UserID).EmailVerified {
		t.Fatal("fixture expects an unverified account")
	}

	token, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	if err := f.engine.ConfirmEmailVerification(context.Background(), token); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	if !f.repo.user(t, user.UserID).EmailVerified {
		t.Fatal("expected the verified flag to be set")
	}

	waitFor(t, time.Second, func() bool {
		events := f.events.byType(EventEmailVerified)
		return len(events) == 1 && events[0].UserID == user.UserID
	})
}

func TestEmailVerificationTokenSingleUse(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	token, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	if err := f.engine.ConfirmEmailVerification(context.Background(), token); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if err := f.engine.ConfirmEmailVerification(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on second use, got %v", err)
	}
}

func TestEmailVerificationLatestTokenWins(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	first, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	second, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	if err := f.engine.ConfirmEmailVerification(context.Background(), first); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("superseded token must fail, got %v", err)
	}
	if err := f.engine.ConfirmEmailVerification(context.Background(), second); err != nil {
		t.Fatalf("latest token must work, got %v", err)
	}
}

func TestEmailVerificationExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.OneTimeToken.VerifyTTL = 24 * time.Hour
	f, done := newTestEngine(t, cfg)
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	token, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	f.clock.Advance(25 * time.Hour)

	if err := f.engine.ConfirmEmailVerification(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after expiry, got %v", err)
	}
}

func TestEmailVerificationKeepsSessionsAlive(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	login, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	token, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	if err := f.engine.ConfirmEmailVerification(context.Background(), token); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}

	// Unlike password reset, verification does not revoke sessions. The
	// new flag reaches tokens as they rotate.
	rotated, err := f.engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("session must survive verification, got %v", err)
	}
	if rotated.AccessToken == "" {
		t.Fatal("expected a fresh access token")
	}
}

func TestEmailVerificationRepositoryFailureKeepsToken(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	token, err := f.engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	// Simulate the verified-flag write failing after the claim.
	f.repo.mu.Lock()
	delete(f.repo.users, user.UserID)
	f.repo.mu.Unlock()

	if err := f.engine.ConfirmEmailVerification(context.Background(), token); !errors.Is(err, ErrRepositoryUnavailable) {
		t.Fatalf("expected ErrRepositoryUnavailable, got %v", err)
	}

	// The token was restored; once the row is back it still works.
	f.repo.mu.Lock()
	f.repo.users[user.UserID] = user
	f.repo.mu.Unlock()

	if err := f.engine.ConfirmEmailVerification(context.Background(), token); err != nil {
		t.Fatalf("restored token must work, got %v", err)
	}
}
