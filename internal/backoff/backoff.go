// Package backoff implements the randomized, monotonic-bounded backoff
// policy spec §4.1 and §8 require for retrying transient API errors and
// for the queue's no-work sleep. Grounded on original_source's
// util.rs::RandomizedBackoff, translated from a doubling-window
// full-jitter sampler into the equivalent Go idiom.
package backoff

import (
	"math/rand"
	"time"
)

const defaultMaxSeconds = 30

// Randomized produces a sequence of delays that double the sampling
// window on every call (capped at max) and resets to zero on success,
// matching spec §8's "d_i <= max_backoff and d_1 <= d_2 <= ... until a
// success resets" invariant.
type Randomized struct {
	duration time.Duration
	max      time.Duration
	rand     *rand.Rand
}

// New returns a Randomized backoff capped at maxSeconds. A non-positive
// maxSeconds falls back to the original client's default of 30s.
func New(maxSeconds int) *Randomized {
	max := time.Duration(maxSeconds) * time.Second
	if maxSeconds <= 0 {
		max = defaultMaxSeconds * time.Second
	}
	return &Randomized{
		max:  max,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next samples the next delay and advances the internal window.
func (b *Randomized) Next() time.Duration {
	low := b.duration
	high := low + 500*time.Millisecond
	high *= 2
	if high > b.max {
		high = b.max
	}
	if high <= low {
		b.duration = high
		return high
	}
	b.duration = low + time.Duration(b.rand.Int63n(int64(high-low)))
	return b.duration
}

// Reset zeroes the window after a successful operation.
func (b *Randomized) Reset() {
	b.duration = 0
}
