package http

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/supervisor"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/tasks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusFor maps a domain error onto an HTTP status
func StatusFor(err error) int {
	var modErr *modules.Error
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrTaskAlreadyRunning), errors.Is(err, bridge.ErrQueueClosed):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrEmptyTaskID), errors.Is(err, permissions.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.As(err, &modErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
