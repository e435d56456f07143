package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func loginPair(t *testing.T, f *engineFixture) *LoginResult {
	t.Helper()

	f.seedPasswordUser(t, "alice@example.com", "correct-password-123")
	res, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return res
}

func TestRefreshRotatesToken(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	first := loginPair(t, f)

	rotated, err := f.engine.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if rotated.AccessToken == "" {
		t.Fatal("expected a fresh access token")
	}
	if rotated.User.UserID != first.User.UserID {
		t.Fatalf("expected user %s, got %s", first.User.UserID, rotated.User.UserID)
	}

	// The rotated token works; the original is rejected on replay.
	if _, err := f.engine.Refresh(context.Background(), rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token should refresh, got %v", err)
	}
}

func TestRefreshReuseRejectedWithoutRevoking(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	first := loginPair(t, f)

	second, err := f.engine.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	_, err = f.engine.Refresh(context.Background(), first.RefreshToken)
	if !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// The replay is rejected, but the current token holder is unaffected.
	third, err := f.engine.Refresh(context.Background(), second.RefreshToken)
	if err != nil {
		t.Fatalf("current token must survive a replay, got %v", err)
	}
	if third.RefreshToken == second.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	if got := f.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected 1 reuse detection, got %d", got)
	}
}

func TestRefreshStaleTokenIsInvalid(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	first := loginPair(t, f)

	second, err := f.engine.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	third, err := f.engine.Refresh(context.Background(), second.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Two generations back is no longer recognized as the prior token.
	_, err = f.engine.Refresh(context.Background(), first.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	// The live token is untouched either way.
	if _, err := f.engine.Refresh(context.Background(), third.RefreshToken); err != nil {
		t.Fatalf("live token must keep working, got %v", err)
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	_, err := f.engine.Refresh(context.Background(), "not-a-refresh-token")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	cfg := testConfig()
	cfg.Session.RefreshTTL = time.Hour
	f, done := newTestEngine(t, cfg)
	defer done()

	first := loginPair(t, f)

	// Expiry is judged against the engine clock at rotation, independent of
	// the Redis key TTL.
	f.clock.Advance(2 * time.Hour)

	_, err := f.engine.Refresh(context.Background(), first.RefreshToken)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// The expired session is gone, not merely rejected.
	_, err = f.engine.Refresh(context.Background(), first.RefreshToken)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	f, done := newTestEngine(t, cfg)
	defer done()

	first := loginPair(t, f)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	type outcome struct {
		res *LoginResult
		err error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := f.engine.Refresh(context.Background(), first.RefreshToken)
			results <- outcome{res: res, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var winner *LoginResult
	success := 0
	fail := 0
	for out := range results {
		if out.err == nil {
			success++
			winner = out.res
			continue
		}
		if errors.Is(out.err, ErrRefreshReuse) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", out.err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}

	// The losers must not have revoked the session out from under the
	// winner: the surviving token keeps working.
	if _, err := f.engine.Refresh(context.Background(), winner.RefreshToken); err != nil {
		t.Fatalf("winner's token must stay usable, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	first := loginPair(t, f)

	if err := f.engine.Logout(context.Background(), first.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := f.engine.Logout(context.Background(), first.RefreshToken); err != nil {
		t.Fatalf("second Logout must succeed, got %v", err)
	}

	_, err := f.engine.Refresh(context.Background(), first.RefreshToken)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f, done := newTestEngine(t, testConfig())
	defer done()

	user := f.seedPasswordUser(t, "alice@example.com", "correct-password-123")

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123")
		if err != nil {
			t.Fatalf("login %d failed: %v", i, err)
		}
		tokens = append(tokens, res.RefreshToken)
	}

	if n, err := f.engine.ActiveSessions(context.Background(), user.UserID); err != nil || n != 3 {
		t.Fatalf("expected 3 active sessions, got %d err=%v", n, err)
	}

	if err := f.engine.LogoutAll(context.Background(), user.UserID); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	for i, token := range tokens {
		if _, err := f.engine.Refresh(context.Background(), token); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("token %d: expected ErrSessionNotFound, got %v", i, err)
		}
	}
	if n, err := f.engine.ActiveSessions(context.Background(), user.UserID); err != nil || n != 0 {
		t.Fatalf("expected 0 active sessions, got %d err=%v", n, err)
	}
}

func TestRefreshRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxRefreshAttempts = 2
	f, done := newTestEngine(t, cfg)
	defer done()

	res := loginPair(t, f)

	token := res.RefreshToken
	for i := 0; i < 2; i++ {
		rotated, err := f.engine.Refresh(context.Background(), token)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
		token = rotated.RefreshToken
	}

	_, err := f.engine.Refresh(context.Background(), token)
	if !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
}
