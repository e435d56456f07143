package authcore

import "time"

// lockoutState is the derived per-account state consulted before any
// password comparison. The durable inputs (failed count, locked-until) live
// on the user row; transitions are computed here and persisted through
// UserRepository.UpdateLoginAttempts.
type lockoutState int

const (
	lockoutInactive lockoutState = iota
	lockoutActive
)

func currentLockoutState(user UserRecord, now time.Time) lockoutState {
	if !user.LockedUntil.IsZero() && now.Before(user.LockedUntil) {
		return lockoutActive
	}
	return lockoutInactive
}

// nextFailedAttempt computes the counter and window after one more failed
// password attempt. Crossing the threshold opens the lockout window; the
// counter keeps incrementing past it so repeated failures after an elapsed
// window re-lock immediately rather than earning a fresh budget of
// threshold-1 free attempts inside the same streak.
func nextFailedAttempt(user UserRecord, cfg LockoutConfig, now time.Time) (attempts int, lockedUntil time.Time) {
	attempts = user.FailedLogins + 1
	lockedUntil = user.LockedUntil

	if attempts >= cfg.Threshold {
		lockedUntil = now.Add(cfg.Window)
	}

	return attempts, lockedUntil
}
