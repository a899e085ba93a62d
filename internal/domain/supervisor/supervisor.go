// Package supervisor keeps the long-lived main execution context running,
// restarting it after a crash with a bounded number of retries.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/execution"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"go.uber.org/zap"
)

// CrashTitle heads the notification shown before a fatal exit
const CrashTitle = "JavaScript runtime crashed unexpectedly"

var (
	// ErrNotRunning is returned by Send between attempts or after shutdown
	ErrNotRunning = errors.New("main context is not running")
	// ErrAlreadyStarted is returned by a second Run
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// Notifier shows operator-visible messages
type Notifier interface {
	ShowNotification(variant bridge.Variant, title, message string)
}

// FatalHook is invoked once retries are exhausted, after the operator has
// been notified
type FatalHook func(err error)

// Supervisor drives the main context through initialize, run and restart
type Supervisor struct {
	env       *execution.Environment
	specifier string
	policy    resilience.RetryPolicy
	notifier  Notifier
	fatal     FatalHook
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu        sync.Mutex
	started   bool                           // Protected by mu
	closed    bool                           // Protected by mu
	inbound   *bridge.Queue[json.RawMessage] // Protected by mu
	contextID id.ContextID                   // Protected by mu
	phase     resilience.Phase               // Protected by mu
	restarts  int                            // Protected by mu
}

// New creates a supervisor for the main module at specifier
func New(env *execution.Environment, specifier string, policy resilience.RetryPolicy, notifier Notifier, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		env:       env,
		specifier: specifier,
		policy:    policy,
		notifier:  notifier,
		logger:    logger.Component("supervisor"),
	}
}

// WithMetrics adds metrics tracking to the supervisor
func (s *Supervisor) WithMetrics(metrics *monitoring.Metrics) *Supervisor {
	s.metrics = metrics
	return s
}

// OnFatal sets the hook run when the main context cannot be kept alive
func (s *Supervisor) OnFatal(hook FatalHook) *Supervisor {
	s.fatal = hook
	return s
}

// Run supervises the main context until it completes cleanly, ctx is
// cancelled or the retry budget is spent. Only the last case returns an
// error.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	attempts := s.policy.Start()
	for {
		attempt := attempts.Begin()
		err := s.runOnce(ctx, attempt)
		if ctx.Err() != nil || s.isClosed() {
			s.setPhase(resilience.PhaseDone)
			s.logger.Info("main context shut down")
			return nil
		}
		if err == nil {
			attempts.Succeeded()
			s.setPhase(attempts.Phase())
			s.logger.Info("main context completed")
			return nil
		}

		delay, retry := attempts.Failed(err)
		s.setPhase(attempts.Phase())
		if !retry {
			return s.escalate(attempts)
		}

		s.metrics.SupervisorRestarted()
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		s.logger.Warn("main context crashed, restarting",
			zap.Int("attempt", attempt),
			zap.Int("failures", attempts.Failures()),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.setPhase(resilience.PhaseDone)
			return nil
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, attempt int) error {
	inbound := bridge.NewQueue[json.RawMessage]()
	rt := execution.New(s.env, execution.Options{
		Kind:      execution.KindMain,
		Specifier: s.specifier,
		Inbound:   inbound,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		inbound.Discard()
		return nil
	}
	s.inbound = inbound
	s.contextID = rt.ID()
	s.phase = resilience.PhaseRunning
	s.mu.Unlock()

	s.logger.Info("main context starting",
		zap.Int("attempt", attempt),
		zap.String("context_id", rt.ID().String()),
		zap.String("specifier", s.specifier),
	)

	_, err := rt.Run(ctx)

	s.mu.Lock()
	s.inbound = nil
	s.contextID = ""
	s.mu.Unlock()
	inbound.Discard()

	return err
}

func (s *Supervisor) escalate(attempts *resilience.Attempts) error {
	err := attempts.Err()
	s.logger.Error("main context exhausted its restarts",
		zap.Int("failures", attempts.Failures()),
		zap.Error(err),
	)

	if s.notifier != nil {
		s.notifier.ShowNotification(bridge.VariantError, CrashTitle,
			fmt.Sprintf("The script runtime failed %d times and cannot be restarted: %v", attempts.Failures(), err))
	}
	if s.fatal != nil {
		s.fatal(err)
	}
	return err
}

// Send queues a host event for the main context's host.onEvent handler
func (s *Supervisor) Send(payload json.RawMessage) error {
	s.mu.Lock()
	inbound := s.inbound
	s.mu.Unlock()

	if inbound == nil {
		return ErrNotRunning
	}
	if err := inbound.Push(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	return nil
}

// Close closes the inbound queue, which the main context takes as a
// request to shut down cleanly. Run returns once it has.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.inbound != nil {
		s.inbound.Close()
	}
}

// ContextID returns the id of the live main context, empty between attempts
func (s *Supervisor) ContextID() id.ContextID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextID
}

// Phase returns where the supervisor is in its retry sequence
func (s *Supervisor) Phase() resilience.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Restarts returns how often the main context has been restarted
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Supervisor) setPhase(p resilience.Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
