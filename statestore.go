package authcore

import (
	"sync"
	"time"

	"github.com/authcorelabs/authcore/internal"
)

// stateGuard is the in-process registry of OAuth CSRF state values. Each
// value is redeemable once, within its TTL. The map is process-local: in a
// multi-instance deployment state issued here is not redeemable elsewhere
// (see the package doc for the routing consequence).
type stateGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time // value -> issued at

	ttl       time.Duration
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

func newStateGuard(cfg OAuthStateConfig, now func() time.Time) *stateGuard {
	g := &stateGuard{
		entries: make(map[string]time.Time),
		ttl:     cfg.TTL,
		now:     now,
		done:    make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go g.sweepLoop(cfg.SweepInterval)
	}

	return g
}

// Issue registers and returns a fresh state value.
func (g *stateGuard) Issue() (string, error) {
	value, err := internal.NewStateValue()
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.entries[value] = g.now()
	g.mu.Unlock()

	return value, nil
}

// Redeem removes the entry whether or not it is still valid, so a replayed
// value can never succeed on the second presentation. Returns
// ErrOAuthStateInvalid for unknown and expired values alike.
func (g *stateGuard) Redeem(value string) error {
	g.mu.Lock()
	issuedAt, ok := g.entries[value]
	if ok {
		delete(g.entries, value)
	}
	g.mu.Unlock()

	if !ok {
		return ErrOAuthStateInvalid
	}
	if g.now().Sub(issuedAt) > g.ttl {
		return ErrOAuthStateInvalid
	}

	return nil
}

// Close stops the background sweep. Pending entries are dropped with the
// process.
func (g *stateGuard) Close() {
	g.closeOnce.Do(func() {
		close(g.done)
	})
}

func (g *stateGuard) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

// sweep evicts entries past the TTL so abandoned OAuth flows do not grow
// the map without bound.
func (g *stateGuard) sweep() {
	cutoff := g.now().Add(-g.ttl)

	g.mu.Lock()
	for value, issuedAt := range g.entries {
		if issuedAt.Before(cutoff) {
			delete(g.entries, value)
		}
	}
	g.mu.Unlock()
}

func (g *stateGuard) pendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
