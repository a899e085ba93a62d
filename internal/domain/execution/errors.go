package execution

import (
	"errors"
	"strings"
)

var (
	// ErrStopped is returned by Run when the context was cancelled
	ErrStopped = errors.New("execution context stopped")
	// ErrUnsettled is returned when the default export promise can no
	// longer settle because no work is left
	ErrUnsettled = errors.New("default export promise never settled")
)

// ScriptError is an uncaught script exception with its stack mapped back
// to original source positions
type ScriptError struct {
	Message string
	Stack   []string
}

func (e *ScriptError) Error() string {
	if len(e.Stack) == 0 {
		return e.Message
	}
	return e.Message + "\n    at " + strings.Join(e.Stack, "\n    at ")
}

// InitError wraps a failure to bring a context up
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return "initialize execution context: " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
