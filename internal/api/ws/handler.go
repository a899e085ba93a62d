package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/utils"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // The host shell connects from a local origin
	},
}

// Subscriber is the notification source a connection streams from
type Subscriber interface {
	Subscribe() (string, <-chan bridge.Notification, func())
}

// TaskEvents delivers host events to tasks
type TaskEvents interface {
	SendEvent(taskID string, payload json.RawMessage) error
}

// MainEvents delivers host events to the main context
type MainEvents interface {
	Send(payload json.RawMessage) error
}

// Responder answers permission prompts
type Responder interface {
	Respond(ref string, decision permissions.Decision) bool
}

// Handler manages WebSocket connections
type Handler struct {
	hub       Subscriber
	tasks     TaskEvents
	main      MainEvents
	responder Responder
	validator *utils.JSONSizeValidator
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler. main may be nil.
func NewHandler(hub Subscriber, tasks TaskEvents, main MainEvents, responder Responder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		hub:       hub,
		tasks:     tasks,
		main:      main,
		responder: responder,
		validator: utils.DefaultJSONValidator(),
		logger:    logger.Component("ws"),
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection upgrades the request and streams notifications until the
// client goes away
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID, notifications, unsubscribe := h.hub.Subscribe()
	log := h.logger.With(zap.String("client_id", clientID))

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	s := &session{
		conn:    conn,
		replies: make(chan interface{}, sendBuffer),
		done:    make(chan struct{}),
		logger:  log,
		metrics: h.metrics,
	}
	s.reply(map[string]interface{}{
		"type":      "system",
		"message":   "connected",
		"client_id": clientID,
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(notifications)
		// Unblocks the reader when the stream ends first
		conn.Close()
	}()

	h.readLoop(s)

	close(s.done)
	unsubscribe()
	<-writerDone
	log.Debug("websocket closed")
}

func (h *Handler) readLoop(s *session) {
	s.conn.SetReadLimit(utils.MaxJSONSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg types.WSMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			s.sendError("", "invalid message")
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)
		h.dispatch(s, msg)
	}
}

func (h *Handler) dispatch(s *session, msg types.WSMessage) {
	switch msg.Type {
	case "event":
		h.handleEvent(s, msg)
	case "permission":
		h.handlePermission(s, msg)
	case "ping":
		s.reply(map[string]interface{}{"type": "pong", "timestamp": time.Now().Unix()})
	default:
		s.sendError(msg.Type, "unknown message type")
	}
}

func (h *Handler) handleEvent(s *session, msg types.WSMessage) {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if err := h.validator.ValidateSize(payload); err != nil {
		s.sendError(msg.Type, err.Error())
		return
	}

	var err error
	switch {
	case msg.TaskID != "":
		err = h.tasks.SendEvent(msg.TaskID, payload)
	case h.main != nil:
		err = h.main.Send(payload)
	default:
		err = errors.New("main context disabled")
	}
	if err != nil {
		s.sendError(msg.Type, err.Error())
		return
	}
	s.reply(map[string]interface{}{"type": "event_ack", "task_id": msg.TaskID})
}

func (h *Handler) handlePermission(s *session, msg types.WSMessage) {
	decision, err := permissions.ParseDecision(msg.Decision)
	if err != nil {
		s.sendError(msg.Type, err.Error())
		return
	}
	if msg.Correlation == "" {
		s.sendError(msg.Type, "correlation is required")
		return
	}
	delivered := h.responder.Respond(msg.Correlation, decision)
	s.reply(map[string]interface{}{
		"type":        "permission_ack",
		"correlation": msg.Correlation,
		"delivered":   delivered,
	})
}
