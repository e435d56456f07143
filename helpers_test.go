package authcore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a hand-advanced clock shared by the engine and tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeRepo is an in-memory UserRepository.
type fakeRepo struct {
	mu      sync.Mutex
	users   map[string]UserRecord
	byEmail map[string]string

	createErr  error
	updateErr  error
	attemptErr error

	updateAttemptCalls int
	updateHashCalls    int
	markVerifiedCalls  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   map[string]UserRecord{},
		byEmail: map[string]string{},
	}
}

func (r *fakeRepo) FindUserByEmail(_ context.Context, email string) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *fakeRepo) FindUserByID(_ context.Context, userID string) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (r *fakeRepo) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return UserRecord{}, r.createErr
	}
	if _, exists := r.byEmail[input.Email]; exists {
		return UserRecord{}, ErrEmailExists
	}

	user := UserRecord{
		UserID:        input.UserID,
		Email:         input.Email,
		Name:          input.Name,
		Credential:    input.Credential,
		EmailVerified: input.EmailVerified,
	}
	r.users[user.UserID] = user
	r.byEmail[user.Email] = user.UserID
	return user, nil
}

func (r *fakeRepo) UpdateLoginAttempts(_ context.Context, userID string, attempts int, lockedUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updateAttemptCalls++
	if r.attemptErr != nil {
		return r.attemptErr
	}

	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedLogins = attempts
	user.LockedUntil = lockedUntil
	r.users[userID] = user
	return nil
}

func (r *fakeRepo) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updateHashCalls++
	if r.updateErr != nil {
		return r.updateErr
	}

	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Credential = PasswordCredential{Hash: newHash}
	r.users[userID] = user
	return nil
}

func (r *fakeRepo) MarkEmailVerified(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markVerifiedCalls++
	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.EmailVerified = true
	r.users[userID] = user
	return nil
}

func (r *fakeRepo) user(t *testing.T, userID string) UserRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		t.Fatalf("user %s not in repo", userID)
	}
	return user
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(_ context.Context, event Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *capturePublisher) byType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes. Used for the
// fire-and-forget paths (events, audit) that complete asynchronously.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-secret")
	// Floor-level cost so hashing does not dominate test time.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.OAuthState.SweepInterval = 0
	return cfg
}

type engineFixture struct {
	engine *Engine
	repo   *fakeRepo
	clock  *fakeClock
	redis  *miniredis.Miniredis
	events *capturePublisher
}

func newTestEngine(t *testing.T, cfg Config) (*engineFixture, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	repo := newFakeRepo()
	clock := newFakeClock()
	events := &capturePublisher{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(repo).
		WithEventPublisher(events).
		WithClock(clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	fixture := &engineFixture{
		engine: engine,
		repo:   repo,
		clock:  clock,
		redis:  mr,
		events: events,
	}
	done := func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
	return fixture, done
}

// seedPasswordUser hashes password at the fixture's cost parameters and
// installs the user row directly.
func (f *engineFixture) seedPasswordUser(t *testing.T, email, plaintext string) UserRecord {
	t.Helper()

	hash, err := f.engine.passwordHash.Hash(plaintext)
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()

	userID := fmt.Sprintf("u%d", len(f.repo.users)+1)
	user := UserRecord{
		UserID:     userID,
		Email:      email,
		Name:       "Test User",
		Credential: PasswordCredential{Hash: hash},
		CreatedAt:  f.clock.Now(),
	}
	f.repo.users[userID] = user
	f.repo.byEmail[email] = userID
	return user
}

func (f *engineFixture) seedOAuthUser(t *testing.T, email, provider, subject string) UserRecord {
	t.Helper()

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()

	userID := fmt.Sprintf("u%d", len(f.repo.users)+1)
	user := UserRecord{
		UserID:        userID,
		Email:         email,
		Name:          "OAuth User",
		Credential:    OAuthOnly{Provider: provider, Subject: subject},
		EmailVerified: true,
		CreatedAt:     f.clock.Now(),
	}
	f.repo.users[userID] = user
	f.repo.byEmail[email] = userID
	return user
}
