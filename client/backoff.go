package client

import "time"

// Reconnection defaults: 1s, 2s, 4s, 8s, 16s, then give up.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
)

// backoffDelay returns the delay before 1-indexed reconnection attempt n:
// min(base * 2^(n-1), max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Beyond 62 doublings the shift wraps; the cap applies long before.
	if attempt > 32 {
		return max
	}
	d := base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
