package resilience

import (
	"errors"
	"time"
)

// ErrRetriesExhausted wraps the last failure once a policy gives up.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Phase is the state of a retry sequence
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseBackoff
	PhaseDone
	PhaseFatal
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseBackoff:
		return "backoff"
	case PhaseDone:
		return "done"
	case PhaseFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds how often a failing operation is restarted. The first
// attempt is free; MaxRetries more are allowed, each preceded by Backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Start begins a new retry sequence under this policy
func (p RetryPolicy) Start() *Attempts {
	return &Attempts{policy: p}
}

// Attempts tracks one retry sequence. It is not safe for concurrent use;
// the supervisor drives it from a single goroutine.
type Attempts struct {
	policy   RetryPolicy
	phase    Phase
	attempt  int
	failures int
	lastErr  error
}

// Begin marks the start of an attempt and returns its 1-based number
func (a *Attempts) Begin() int {
	a.attempt++
	a.phase = PhaseRunning
	return a.attempt
}

// Succeeded ends the sequence cleanly
func (a *Attempts) Succeeded() {
	a.phase = PhaseDone
}

// Failed records a failure. It returns the delay before the next attempt and
// whether one is allowed; once the budget is spent the sequence is fatal.
func (a *Attempts) Failed(err error) (time.Duration, bool) {
	a.failures++
	a.lastErr = err
	if a.failures > a.policy.MaxRetries {
		a.phase = PhaseFatal
		return 0, false
	}
	a.phase = PhaseBackoff
	return a.policy.Backoff, true
}

// Phase returns the current phase
func (a *Attempts) Phase() Phase { return a.phase }

// Failures returns how many attempts have failed so far
func (a *Attempts) Failures() int { return a.failures }

// Err returns the last failure, wrapped with ErrRetriesExhausted once fatal
func (a *Attempts) Err() error {
	if a.lastErr == nil {
		return nil
	}
	if a.phase == PhaseFatal {
		return errors.Join(ErrRetriesExhausted, a.lastErr)
	}
	return a.lastErr
}
