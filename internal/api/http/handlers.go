package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/tasks"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MainContext is the supervised main context as seen by the API
type MainContext interface {
	Send(payload json.RawMessage) error
	ContextID() id.ContextID
	Phase() resilience.Phase
	Restarts() int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	tasks   *tasks.Manager
	broker  *permissions.Broker
	virtual *modules.VirtualRegistry
	main    MainContext
	hub     *bridge.Hub
	json    *utils.JSONSizeValidator
	hasher  *utils.Hasher
	logger  *logging.Logger
}

// NewHandlers creates a new handler set. main may be nil when the host runs
// without a main context.
func NewHandlers(
	taskManager *tasks.Manager,
	broker *permissions.Broker,
	virtual *modules.VirtualRegistry,
	main MainContext,
	hub *bridge.Hub,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		tasks:   taskManager,
		broker:  broker,
		virtual: virtual,
		main:    main,
		hub:     hub,
		json:    utils.DefaultJSONValidator(),
		hasher:  utils.DefaultHasher(),
		logger:  logger.Component("api"),
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AgentOS Script Host",
		"version": "0.1.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	mainInfo := gin.H{"enabled": h.main != nil}
	if h.main != nil {
		phase := h.main.Phase()
		mainInfo["context_id"] = h.main.ContextID()
		mainInfo["phase"] = phase.String()
		mainInfo["restarts"] = h.main.Restarts()
		if phase != resilience.PhaseRunning {
			status = "degraded"
		}
	}

	subscribers := 0
	if h.hub != nil {
		subscribers = h.hub.Subscribers()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"main":            mainInfo,
		"tasks":           len(h.tasks.List()),
		"virtual_modules": h.virtual.Len(),
		"subscribers":     subscribers,
	})
}

// ============================================================================
// Tasks
// ============================================================================

// StartTask starts a task run
func (h *Handlers) StartTask(c *gin.Context) {
	var req types.StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateID(req.ID, "id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateCode(req.Code, "code"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.tasks.Start(req.ID, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

// StopTask requests a task to stop without waiting for it
func (h *Handlers) StopTask(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.tasks.Stop(taskID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "id": taskID})
}

// GetTask returns a task snapshot
func (h *Handlers) GetTask(c *gin.Context) {
	snap, err := h.tasks.Query(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListTasks lists every visible task
func (h *Handlers) ListTasks(c *gin.Context) {
	list := h.tasks.List()
	c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
}

// ClearCompleted removes finished tasks
func (h *Handlers) ClearCompleted(c *gin.Context) {
	removed := h.tasks.ClearCompleted()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// SendTaskEvent delivers a host event to a task
func (h *Handlers) SendTaskEvent(c *gin.Context) {
	payload, ok := h.readPayload(c)
	if !ok {
		return
	}
	if err := h.tasks.SendEvent(c.Param("id"), payload); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// ============================================================================
// Permissions
// ============================================================================

// RespondPermission answers the prompt identified by a correlation id or
// the context id that raised it
func (h *Handlers) RespondPermission(c *gin.Context) {
	var req types.PermissionResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	decision, err := permissions.ParseDecision(req.Decision)
	if err != nil {
		h.respondError(c, err)
		return
	}

	correlation := c.Param("correlation")
	delivered := h.broker.Respond(correlation, decision)

	// A late answer is not the caller's error
	c.JSON(http.StatusOK, gin.H{
		"correlation": correlation,
		"decision":    decision,
		"delivered":   delivered,
	})
}

// ============================================================================
// Virtual modules
// ============================================================================

// RegisterVirtualModule stores source under a key
func (h *Handlers) RegisterVirtualModule(c *gin.Context) {
	key := moduleKey(c)
	if err := utils.ValidateModuleKey(key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req types.VirtualModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateCode(req.Code, "code"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.virtual.Register(key, req.Code)
	h.logger.Info("virtual module registered", zap.String("key", key), zap.Int("bytes", len(req.Code)))
	c.JSON(http.StatusOK, h.moduleInfo(key, req.Code))
}

// UnregisterVirtualModule removes one key
func (h *Handlers) UnregisterVirtualModule(c *gin.Context) {
	key := moduleKey(c)
	h.virtual.Unregister(key)
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key})
}

// UnregisterAllVirtualModules empties the registry
func (h *Handlers) UnregisterAllVirtualModules(c *gin.Context) {
	h.virtual.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListVirtualModules lists registered keys with content digests
func (h *Handlers) ListVirtualModules(c *gin.Context) {
	keys := h.virtual.Keys()
	infos := make([]types.VirtualModuleInfo, 0, len(keys))
	for _, key := range keys {
		if code, ok := h.virtual.Get(key); ok {
			infos = append(infos, h.moduleInfo(key, code))
		}
	}
	c.JSON(http.StatusOK, gin.H{"modules": infos, "count": len(infos)})
}

// ResolveSpecifier resolves a specifier against an optional referrer
func (h *Handlers) ResolveSpecifier(c *gin.Context) {
	resolved, err := modules.Resolve(c.Query("specifier"), c.Query("referrer"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"specifier": resolved})
}

// moduleKey reads a key that may itself contain slashes
func moduleKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func (h *Handlers) moduleInfo(key, code string) types.VirtualModuleInfo {
	return types.VirtualModuleInfo{
		Key:       key,
		Specifier: modules.VirtualSpecifier(key),
		Bytes:     len(code),
		SHA256:    h.hasher.HashString(code),
	}
}

// ============================================================================
// Main context events
// ============================================================================

// SendMainEvent delivers a host event to the main context
func (h *Handlers) SendMainEvent(c *gin.Context) {
	if h.main == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "main context disabled"})
		return
	}
	payload, ok := h.readPayload(c)
	if !ok {
		return
	}
	if err := h.main.Send(payload); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// readPayload reads the request body as a JSON event payload
func (h *Handlers) readPayload(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return nil, false
	}
	if err := h.json.ValidateJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return body, true
}
