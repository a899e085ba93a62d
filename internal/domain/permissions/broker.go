package permissions

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"go.uber.org/zap"
)

// DefaultMaxPromptBytes is the message ceiling used when none is configured
const DefaultMaxPromptBytes = 10 * 1024

// channel is the rendezvous between one execution context and the operator
type channel struct {
	ctxID     id.ContextID
	observer  Observer
	responses chan Decision
	closed    chan struct{}
	closeOnce sync.Once

	// serial admits one outstanding prompt per context
	serial sync.Mutex

	current id.PromptID // Protected by Broker.mu
}

func (c *channel) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Broker routes permission prompts from execution contexts to the operator
// and answers back. Contexts are keyed by the id issued when they were
// created.
type Broker struct {
	maxPromptBytes int
	notifier       Notifier
	logger         *logging.Logger
	metrics        *monitoring.Metrics

	mu       sync.Mutex
	channels map[id.ContextID]*channel    // Protected by mu
	pending  map[id.PromptID]id.ContextID // Protected by mu
}

// NewBroker creates a broker. maxPromptBytes <= 0 selects the default.
func NewBroker(maxPromptBytes int, notifier Notifier, logger *logging.Logger) *Broker {
	if maxPromptBytes <= 0 {
		maxPromptBytes = DefaultMaxPromptBytes
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broker{
		maxPromptBytes: maxPromptBytes,
		notifier:       notifier,
		logger:         logger.Component("permissions"),
		channels:       make(map[id.ContextID]*channel),
		pending:        make(map[id.PromptID]id.ContextID),
	}
}

// WithMetrics adds metrics tracking to the broker
func (b *Broker) WithMetrics(metrics *monitoring.Metrics) *Broker {
	b.metrics = metrics
	return b
}

// SetupChannel registers a fresh channel for ctxID. A second call for a
// registered context is a no-op.
func (b *Broker) SetupChannel(ctxID id.ContextID, observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[ctxID]; ok {
		return
	}
	b.channels[ctxID] = &channel{
		ctxID:     ctxID,
		observer:  observer,
		responses: make(chan Decision, 1),
		closed:    make(chan struct{}),
	}
}

// CleanupChannel removes the channel of ctxID. A prompt blocked on it
// returns Deny. Cleaning up an unknown context is a no-op.
func (b *Broker) CleanupChannel(ctxID id.ContextID) {
	b.mu.Lock()
	ch, ok := b.channels[ctxID]
	if ok {
		delete(b.channels, ctxID)
		if ch.current != "" {
			delete(b.pending, ch.current)
			ch.current = ""
		}
	}
	b.mu.Unlock()

	if ok {
		ch.close()
	}
}

// HasChannel reports whether ctxID has a registered channel
func (b *Broker) HasChannel(ctxID id.ContextID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[ctxID]
	return ok
}

// Prompt asks the operator to decide on req and blocks until they answer
// or the channel goes away. Oversized messages are denied without
// reaching the operator. Every failure path returns Deny.
func (b *Broker) Prompt(ctxID id.ContextID, req Prompt) Decision {
	log := b.logger.With(zap.String("context_id", ctxID.String()), zap.String("capability", req.Capability))

	if len(req.Message) > b.maxPromptBytes {
		b.metrics.PromptOversize()
		log.Warn("permission prompt exceeds size ceiling, denying",
			zap.Int("bytes", len(req.Message)),
			zap.Int("limit", b.maxPromptBytes),
		)
		if b.notifier != nil {
			b.notifier.SecurityWarning(ctxID, oversizeMessage(req, b.maxPromptBytes))
		}
		return Deny
	}

	b.mu.Lock()
	ch, ok := b.channels[ctxID]
	b.mu.Unlock()
	if !ok {
		log.Warn("permission prompt from context without channel, denying")
		return Deny
	}

	ch.serial.Lock()
	defer ch.serial.Unlock()

	prompt := req
	prompt.ID = id.NewPromptID()

	b.mu.Lock()
	if _, live := b.channels[ctxID]; !live {
		b.mu.Unlock()
		return Deny
	}
	// Drop a stale answer left by a response that raced the previous prompt
	select {
	case <-ch.responses:
	default:
	}
	ch.current = prompt.ID
	b.pending[prompt.ID] = ctxID
	b.mu.Unlock()

	b.metrics.PromptRaised(prompt.Capability)
	log.Info("permission prompt raised", zap.String("prompt_id", prompt.ID.String()))
	if ch.observer != nil {
		ch.observer.PromptRaised(prompt)
	}
	if b.notifier != nil {
		b.notifier.PermissionPrompt(ctxID, prompt)
	}

	decision := Deny
	select {
	case decision = <-ch.responses:
	case <-ch.closed:
		log.Info("permission channel closed while waiting, denying", zap.String("prompt_id", prompt.ID.String()))
	}
	if prompt.Unary && decision == AllowAll {
		decision = Allow
	}

	b.mu.Lock()
	delete(b.pending, prompt.ID)
	if ch.current == prompt.ID {
		ch.current = ""
	}
	b.mu.Unlock()

	b.metrics.PromptAnswered(decision.String())
	if ch.observer != nil {
		ch.observer.PromptAnswered(prompt, decision)
	}
	return decision
}

// Respond delivers decision to the prompt identified by ref, which is
// either a prompt correlation id or the context id that raised it. A
// response nobody is waiting for is logged and dropped. It reports whether
// the decision was delivered.
func (b *Broker) Respond(ref string, decision Decision) bool {
	b.mu.Lock()
	ch, promptID := b.lookup(ref)
	delivered := false
	if ch != nil {
		select {
		case ch.responses <- decision:
			delivered = true
			delete(b.pending, promptID)
			ch.current = ""
		default:
		}
	}
	b.mu.Unlock()

	if !delivered {
		b.metrics.LateResponse()
		b.logger.Warn("late permission response dropped",
			zap.String("ref", ref),
			zap.String("decision", decision.String()),
		)
		return false
	}

	b.logger.Debug("permission response delivered",
		zap.String("prompt_id", promptID.String()),
		zap.String("decision", decision.String()),
	)
	return true
}

// lookup finds the channel with an outstanding prompt for ref. Caller
// holds b.mu.
func (b *Broker) lookup(ref string) (*channel, id.PromptID) {
	if ctxID, ok := b.pending[id.PromptID(ref)]; ok {
		if ch, ok := b.channels[ctxID]; ok && ch.current == id.PromptID(ref) {
			return ch, ch.current
		}
		return nil, ""
	}
	if ch, ok := b.channels[id.ContextID(ref)]; ok && ch.current != "" {
		return ch, ch.current
	}
	return nil, ""
}

// Outstanding returns the prompt ctxID is currently blocked on
func (b *Broker) Outstanding(ctxID id.ContextID) (id.PromptID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[ctxID]
	if !ok || ch.current == "" {
		return "", false
	}
	return ch.current, true
}

func oversizeMessage(req Prompt, limit int) string {
	return fmt.Sprintf("A script requested %q with a prompt larger than %d bytes. The request was denied automatically.",
		req.Capability, limit)
}

// NewRecord builds the history entry for an answered prompt
func NewRecord(prompt Prompt, decision Decision) Record {
	return Record{Prompt: prompt, Decision: decision, AnsweredAt: time.Now()}
}
