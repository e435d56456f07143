package rate

import "errors"

var (
	// ErrRateLimited means the attempt budget for the current window is
	// exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
