package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned while a Breaker is rejecting calls.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// Breaker stops calling a failing upstream for a cool-down period after a
// run of consecutive failures. Once the cool-down ends a single trial call
// is admitted and other callers keep getting ErrCircuitOpen until the trial
// is recorded: success closes the circuit, failure restarts the cool-down.
// A trial that is never recorded is abandoned after another cool-down.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
	trial    bool
	trialAt  time.Time
}

// NewBreaker returns a Breaker. Non-positive arguments fall back to 5
// failures and 30s.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow returns ErrCircuitOpen while the circuit is cooling down or a trial
// call is in flight. The caller that gets nil after a cool-down holds the
// trial and must Record its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.rejecting(now) {
		return ErrCircuitOpen
	}
	if b.open {
		b.trial = true
		b.trialAt = now
	}
	return nil
}

// Record feeds the outcome of a call into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	if err == nil {
		b.failures = 0
		b.open = false
		return
	}
	b.failures++
	if b.open || b.failures >= b.threshold {
		b.open = true
		b.openedAt = b.now()
	}
}

// Open reports whether calls are currently rejected. It does not claim the
// trial slot.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejecting(b.now())
}

func (b *Breaker) rejecting(now time.Time) bool {
	if !b.open {
		return false
	}
	if now.Sub(b.openedAt) < b.cooldown {
		return true
	}
	return b.trial && now.Sub(b.trialAt) < b.cooldown
}
