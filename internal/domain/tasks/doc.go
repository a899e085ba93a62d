// Package tasks owns the host-visible lifecycle of script tasks.
//
// Each task runs in its own execution context on a dedicated goroutine.
// State moves along
//
//	running -> (waiting_for_permission -> running)* -> completed | error | stopping -> stopped
//
// and every transition is published as a task-state-changed notification,
// in order per task.
package tasks
