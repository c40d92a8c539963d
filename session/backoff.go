package session

import (
	"math/rand"
	"time"
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
	BackoffJitter      = 0.2

	// DefaultMaxAttempts bounds reconnection. Past it the session turns
	// FAILED and surfaces a degraded status instead of retrying forever.
	DefaultMaxAttempts = 10

	// stableConnInterval is how long a connection must stay up before a drop
	// earns a fresh retry budget. A backend that accepts the subscribe and
	// drops right away keeps consuming the same budget.
	stableConnInterval = 30 * time.Second
)

// backoff advances *d to the next delay: exponential growth capped at
// BackoffMaxInterval, with +/-BackoffJitter randomization so reconnecting
// clients do not stampede the transport in lockstep.
func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d > BackoffMaxInterval {
			*d = BackoffMaxInterval
		}
	}

	f := float64(*d) * (1 + BackoffJitter*(2*rand.Float64()-1))
	*d = time.Duration(f).Truncate(time.Millisecond)
	if *d > BackoffMaxInterval {
		*d = BackoffMaxInterval
	}
}
