package resilience

import "sync/atomic"

// DefaultReconnectCeiling is the number of retried failures, across all
// calls, after which callers get ErrConnectivityLost.
const DefaultReconnectCeiling = 3

// Breaker counts retried failures across every call sharing it. A successful
// call or a connectivity restore closes it again.
type Breaker struct {
	ceiling  int32
	failures atomic.Int32
}

// NewBreaker returns a Breaker that trips after ceiling recorded failures.
func NewBreaker(ceiling int) *Breaker {
	if ceiling < 1 {
		ceiling = DefaultReconnectCeiling
	}
	return &Breaker{ceiling: int32(ceiling)}
}

// Record counts one failure and reports whether the ceiling is reached.
func (b *Breaker) Record() bool {
	return b.failures.Add(1) >= b.ceiling
}

// Reset clears the failure count.
func (b *Breaker) Reset() {
	b.failures.Store(0)
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}

// Open reports whether the ceiling has been reached.
func (b *Breaker) Open() bool {
	return b.failures.Load() >= b.ceiling
}
