package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub is the script->host side of the bridge. Producers publish into one
// unbounded queue; a dispatcher fans each notification out to every
// subscriber's own queue, preserving production order.
type Hub struct {
	queue   *Queue[Notification]
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu   sync.RWMutex
	subs map[string]*Queue[Notification] // Protected by mu

	done chan struct{}
}

// NewHub creates a hub and starts its dispatcher
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Hub{
		queue:  NewQueue[Notification](),
		logger: logger.Component("bridge"),
		subs:   make(map[string]*Queue[Notification]),
		done:   make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// WithMetrics adds metrics tracking to the hub
func (h *Hub) WithMetrics(metrics *monitoring.Metrics) *Hub {
	h.metrics = metrics
	return h
}

// Publish enqueues n for every subscriber. It never blocks.
func (h *Hub) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	if err := h.queue.Push(n); err != nil {
		h.logger.Debug("notification dropped after close", zap.String("type", string(n.Type)))
	}
}

// Subscribe registers a new subscriber. The returned channel is closed once
// cancel is called or the hub closes.
func (h *Hub) Subscribe() (string, <-chan Notification, func()) {
	subID := uuid.New().String()
	q := NewQueue[Notification]()

	h.mu.Lock()
	h.subs[subID] = q
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, subID)
		h.mu.Unlock()
		q.Close()
	}
	return subID, q.Out(), cancel
}

// Subscribers returns the number of live subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops accepting notifications, delivers what was queued and closes
// every subscriber
func (h *Hub) Close() {
	h.queue.Close()
	<-h.done
}

func (h *Hub) dispatch() {
	defer close(h.done)

	for n := range h.queue.Out() {
		h.metrics.EventDelivered("outbound")

		h.mu.RLock()
		for _, q := range h.subs {
			// A subscriber cancelling concurrently simply misses n
			_ = q.Push(n)
		}
		h.mu.RUnlock()
	}

	h.mu.Lock()
	for subID, q := range h.subs {
		q.Close()
		delete(h.subs, subID)
	}
	h.mu.Unlock()
}

// PermissionPrompt publishes a permission-prompt notification
func (h *Hub) PermissionPrompt(ctxID id.ContextID, prompt permissions.Prompt) {
	h.Publish(Notification{
		Type: KindPermissionPrompt,
		Payload: PermissionPromptPayload{
			Correlation: prompt.ID,
			ThreadRef:   ctxID,
			Prompt:      prompt,
		},
	})
}

// SecurityWarning publishes a warning show-notification
func (h *Hub) SecurityWarning(ctxID id.ContextID, message string) {
	h.logger.Warn("security warning", zap.String("context_id", ctxID.String()), zap.String("message", message))
	h.ShowNotification(VariantWarning, "Permission request blocked", message)
}

// ShowNotification publishes an operator-visible message
func (h *Hub) ShowNotification(variant Variant, title, message string) {
	h.Publish(Notification{
		Type:    KindShowNotification,
		Payload: ShowNotificationPayload{Variant: variant, Title: title, Message: message},
	})
}

// RuntimeEvent publishes a script-emitted event
func (h *Hub) RuntimeEvent(ctxID id.ContextID, taskID string, data json.RawMessage) {
	h.Publish(Notification{
		Type: KindRuntimeEvent,
		Payload: RuntimeEventPayload{
			EventID: id.NewEventID(),
			Context: ctxID,
			TaskID:  taskID,
			Data:    data,
		},
	})
}
