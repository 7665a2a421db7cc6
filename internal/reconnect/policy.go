package reconnect

import (
	"sync"
	"time"
)

// Defaults
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// Phase is the policy state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAttempting
	PhaseSucceeded
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseAttempting:
		return "attempting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

// State is a point-in-time copy of the policy.
type State struct {
	Phase       Phase
	Attempts    int
	MaxAttempts int
	LastError   error
}

// Policy tracks reconnection attempts. Safe for concurrent use.
type Policy struct {
	base time.Duration
	max  int

	mu       sync.Mutex
	phase    Phase
	attempts int
	lastErr  error
}

// NewPolicy creates a policy. Non-positive arguments fall back to defaults.
func NewPolicy(base time.Duration, maxAttempts int) *Policy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{base: base, max: maxAttempts}
}

// ConnectionLost records a dropped or failed connection. The attempt count
// is unchanged; an exhausted policy stays exhausted.
func (p *Policy) ConnectionLost(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if p.phase != PhaseExhausted {
		p.phase = PhaseAttempting
	}
}

// AttemptFailed counts a failed retry. It returns false once the policy is
// exhausted.
func (p *Policy) AttemptFailed(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	p.lastErr = err
	if p.attempts >= p.max {
		p.phase = PhaseExhausted
		return false
	}
	p.phase = PhaseAttempting
	return true
}

// AttemptSucceeded records a successful retry and zeroes the counter.
func (p *Policy) AttemptSucceeded() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = PhaseSucceeded
	p.attempts = 0
	p.lastErr = nil
}

// Reset returns the policy to Idle with no attempts recorded.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = PhaseIdle
	p.attempts = 0
	p.lastErr = nil
}

// CanAttempt reports whether another automatic attempt is allowed.
func (p *Policy) CanAttempt() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase != PhaseExhausted && p.attempts < p.max
}

// NextDelay returns the wait before the next attempt.
func (p *Policy) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base * time.Duration(p.attempts+1)
}

// Snapshot returns the current state.
func (p *Policy) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Phase:       p.phase,
		Attempts:    p.attempts,
		MaxAttempts: p.max,
		LastError:   p.lastErr,
	}
}
