package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/authcorelabs/authcore/password"
)

func TestLoginSuccess(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	res, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}
	if res.User.UserID != user.UserID {
		t.Fatalf("expected user %s, got %s", user.UserID, res.User.UserID)
	}

	id, err := f.engine.ValidateAccess(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if id.UserID != user.UserID || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}

	if got := f.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected 1 login success, got %d", got)
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	if _, err := f.engine.Login(context.Background(), "  Alice@Example.COM ", "correct-password-123"); err != nil {
		t.Fatalf("expected normalized login to succeed, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	_, err := f.engine.Login(context.Background(), "ghost@example.com", "whatever-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	// Unknown email must be indistinguishable from a wrong password.
	if !errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown email leaked a distinct error: %v", err)
	}
}

func TestLoginEmptyPassword(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	_, err := f.engine.Login(context.Background(), "alice@example.com", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginWrongPasswordPersistsCounter(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	_, err := f.engine.Login(context.Background(), "alice@example.com", "wrong-password-111")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	stored := f.repo.user(t, user.UserID)
	if stored.FailedLogins != 1 {
		t.Fatalf("expected 1 failed login persisted, got %d", stored.FailedLogins)
	}
	if !stored.LockedUntil.IsZero() {
		t.Fatal("single failure must not open a lockout window")
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(context.Background(), "alice@example.com", "wrong-password-111"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if got := f.repo.user(t, user.UserID).FailedLogins; got != 3 {
		t.Fatalf("expected 3 failures persisted, got %d", got)
	}

	calls := f.repo.updateAttemptCalls
	if _, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	stored := f.repo.user(t, user.UserID)
	if stored.FailedLogins != 0 || !stored.LockedUntil.IsZero() {
		t.Fatalf("expected cleared counters, got %d / %v", stored.FailedLogins, stored.LockedUntil)
	}
	// Success also writes the counters, not just failures.
	if f.repo.updateAttemptCalls != calls+1 {
		t.Fatal("expected an attempt-counter write on success")
	}
}

func TestLoginOAuthOnlyAccount(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	f.seedOAuthUser(t, "bob@example.com", "google", "sub-1")

	_, err := f.engine.Login(context.Background(), "bob@example.com", "some-password-123")
	if !errors.Is(err, ErrInvalidLoginMethod) {
		t.Fatalf("expected ErrInvalidLoginMethod, got %v", err)
	}
}

func TestLoginRepositoryUnavailable(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")
	f.repo.attemptErr = errors.New("connection refused")

	_, err := f.engine.Login(context.Background(), "alice@example.com", "wrong-password-111")
	if !errors.Is(err, ErrRepositoryUnavailable) {
		t.Fatalf("expected ErrRepositoryUnavailable, got %v", err)
	}
	if got := f.repo.user(t, user.UserID).FailedLogins; got != 0 {
		t.Fatalf("failed write must not mutate the fake, got %d", got)
	}
}

func TestLoginRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxLoginAttempts = 3
	f, done := newTestEngine(t, cfg)
	defer done()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	// The throttle opens once the counter exceeds the budget.
	for i := 0; i < 4; i++ {
		if _, err := f.engine.Login(context.Background(), "alice@example.com", "wrong-password-111"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123")
	if !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	cfg := testConfig()
	cfg.Password.UpgradeOnLogin = true
	cfg.Password.Memory = 16 * 1024
	f, done := newTestEngine(t, cfg)
	defer done()

	// Seed with a hash minted at weaker parameters than configured.
	weakHasher, err := password.New(password.Config{
		Memory:           8 * 1024,
		Time:             1,
		Parallelism:      1,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: 10,
	})
	if err != nil {
		t.Fatalf("weak hasher: %v", err)
	}
	hash, err := weakHasher.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("weak hash failed: %v", err)
	}

	f.repo.users["u1"] = UserRecord{
		UserID:     "u1",
		Email:      "alice@example.com",
		Credential: PasswordCredential{Hash: hash},
	}
	f.repo.byEmail["alice@example.com"] = "u1"

	if _, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	stored := f.repo.user(t, "u1")
	cred := stored.Credential.(PasswordCredential)
	if cred.Hash == hash {
		t.Fatal("expected the stored hash to be upgraded")
	}
	if ok, err := f.engine.passwordHash.Verify("correct-password-123", cred.Hash); err != nil || !ok {
		t.Fatalf("upgraded hash does not verify, ok=%v err=%v", ok, err)
	}
}
