package types

import "encoding/json"

// StartTaskRequest starts a task run
type StartTaskRequest struct {
	ID   string `json:"id" binding:"required"`
	Code string `json:"code"`
}

// PermissionResponse answers a permission prompt
type PermissionResponse struct {
	Decision string `json:"decision" binding:"required"`
}

// VirtualModuleRequest registers virtual module source
type VirtualModuleRequest struct {
	Code string `json:"code"`
}

// VirtualModuleInfo describes a registered virtual module
type VirtualModuleInfo struct {
	Key       string `json:"key"`
	Specifier string `json:"specifier"`
	Bytes     int    `json:"bytes"`
	SHA256    string `json:"sha256"`
}

// WSMessage is a client->server websocket message
type WSMessage struct {
	Type        string          `json:"type"`
	TaskID      string          `json:"task_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Correlation string          `json:"correlation,omitempty"`
	Decision    string          `json:"decision,omitempty"`
}
