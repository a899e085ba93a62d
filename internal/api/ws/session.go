package ws

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// session is one connection. Only writeLoop writes to conn.
type session struct {
	conn    *websocket.Conn
	replies chan interface{}
	done    chan struct{}
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// reply queues a direct answer to the client. It drops the reply when the
// client is not draining its buffer.
func (s *session) reply(v interface{}) {
	select {
	case s.replies <- v:
	case <-s.done:
	default:
		s.logger.Warn("websocket reply dropped, client too slow")
	}
}

func (s *session) sendError(msgType, message string) {
	s.reply(map[string]interface{}{
		"type":      "error",
		"request":   msgType,
		"message":   message,
		"timestamp": time.Now().Unix(),
	})
}

func (s *session) writeLoop(notifications <-chan bridge.Notification) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := s.write(n); err != nil {
				return
			}
			s.metrics.RecordWSMessage("out", string(n.Type))

		case v := <-s.replies:
			if err := s.write(v); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

func (s *session) write(v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode websocket message", zap.Error(err))
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
