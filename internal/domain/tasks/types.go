package tasks

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadyRunning = errors.New("task already running")
	ErrEmptyTaskID        = errors.New("task id is required")
)

// State represents task lifecycle states
type State string

const (
	StateRunning              State = "running"
	StateWaitingForPermission State = "waiting_for_permission"
	StateCompleted            State = "completed"
	StateError                State = "error"
	StateStopping             State = "stopping"
	StateStopped              State = "stopped"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateStopped:
		return true
	default:
		return false
	}
}

// Snapshot is the observable state of one task run
type Snapshot struct {
	ID          string               `json:"id"`
	State       State                `json:"state"`
	Error       string               `json:"error,omitempty"`
	ReturnValue json.RawMessage      `json:"return_value,omitempty"`
	Prompt      *permissions.Prompt  `json:"prompt,omitempty"`
	History     []permissions.Record `json:"history"`
	ContextID   id.ContextID         `json:"context_id"`
	// Seq increases with every transition of this run
	Seq        uint64     `json:"seq"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Snapshot) clone() Snapshot {
	out := *s
	out.History = append([]permissions.Record(nil), s.History...)
	if s.Prompt != nil {
		p := *s.Prompt
		out.Prompt = &p
	}
	return out
}
