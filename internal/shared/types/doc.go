// Package types provides the wire types of the script host API.
//
// Request Types:
//   - StartTaskRequest: task id and code for POST /tasks
//   - PermissionResponse: operator decision for a prompt
//   - VirtualModuleRequest, VirtualModuleInfo: virtual module registry
//   - WSMessage: client->server WebSocket messages
package types
