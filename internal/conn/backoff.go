package conn

import "time"

// Backoff computes reconnect delays: exponential growth from a base
// interval, capped at a maximum. It never signals giving up; the caller
// retries for as long as the agent exists.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// Next returns the delay before the next attempt and advances the counter.
// Delays are monotonically non-decreasing and constant once the cap is hit.
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	b.attempt++
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Reset clears the attempt counter after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}
