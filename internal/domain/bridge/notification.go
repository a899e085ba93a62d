package bridge

import (
	"encoding/json"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
)

// Kind names a host-observable notification
type Kind string

const (
	KindTaskStateChanged Kind = "task-state-changed"
	KindPermissionPrompt Kind = "permission-prompt"
	KindRuntimeEvent     Kind = "runtime-event"
	KindShowNotification Kind = "show-notification"
)

// Variant is the severity of a show-notification
type Variant string

const (
	VariantInfo    Variant = "info"
	VariantWarning Variant = "warning"
	VariantError   Variant = "error"
)

// Notification is one message pushed to the host
type Notification struct {
	Type    Kind        `json:"type"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// PermissionPromptPayload pairs a prompt with the context waiting on it
type PermissionPromptPayload struct {
	Correlation id.PromptID        `json:"correlation"`
	ThreadRef   id.ContextID       `json:"thread_ref"`
	Prompt      permissions.Prompt `json:"prompt"`
}

// RuntimeEventPayload carries a script-emitted event
type RuntimeEventPayload struct {
	EventID id.EventID      `json:"event_id"`
	Context id.ContextID    `json:"context_id"`
	TaskID  string          `json:"task_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// ShowNotificationPayload is an operator-visible message
type ShowNotificationPayload struct {
	Variant Variant `json:"variant"`
	Title   string  `json:"title"`
	Message string  `json:"message"`
}

// Publisher accepts notifications without blocking
type Publisher interface {
	Publish(n Notification)
}
