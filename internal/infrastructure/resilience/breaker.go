package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing again
	Cooldown time.Duration
	// HalfOpenProbes is the number of trial calls admitted while half-open
	HalfOpenProbes int
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from, to State)
}

// Breaker trips after repeated failures of one upstream, such as a remote
// module origin, and rejects calls until a cooldown has passed.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	inFlight  int
	openUntil time.Time
}

// New creates a circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.HalfOpenProbes <= 0 {
		settings.HalfOpenProbes = 1
	}
	return &Breaker{name: name, settings: settings, now: time.Now}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// Do runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.HalfOpenProbes {
			return ErrTooManyRequests
		}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight--
	state := b.current()

	if success {
		b.failures = 0
		if state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
		b.openUntil = b.now().Add(b.settings.Cooldown)
		b.transition(StateOpen)
	}
}

// current must be called with mu held
func (b *Breaker) current() State {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// transition must be called with mu held
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// BreakerSet lazily creates one breaker per key, e.g. per remote host.
type BreakerSet struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates a set whose breakers share settings
func NewBreakerSet(settings Settings) *BreakerSet {
	return &BreakerSet{settings: settings, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for key, creating it on first use
func (s *BreakerSet) For(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = New(key, s.settings)
		s.breakers[key] = b
	}
	return b
}
