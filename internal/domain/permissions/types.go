package permissions

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
)

// ErrInvalidDecision is returned when parsing an unknown decision string
var ErrInvalidDecision = errors.New("invalid permission decision")

// Decision is the operator's answer to a prompt
type Decision int

const (
	// Deny refuses the call. It is the zero value so every failure path
	// fails closed.
	Deny Decision = iota
	// Allow grants this one call
	Allow
	// AllowAll grants the capability for the rest of the context's life
	AllowAll
)

// String returns the wire form of the decision
func (d Decision) String() string {
	switch d {
	case Allow:
		return "Allow"
	case AllowAll:
		return "AllowAll"
	default:
		return "Deny"
	}
}

// Granted reports whether the call may proceed
func (d Decision) Granted() bool {
	return d == Allow || d == AllowAll
}

// ParseDecision parses the wire form of a decision
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "Allow":
		return Allow, nil
	case "Deny":
		return Deny, nil
	case "AllowAll":
		return AllowAll, nil
	default:
		return Deny, fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Decision) UnmarshalText(text []byte) error {
	parsed, err := ParseDecision(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Prompt is one capability request awaiting an operator decision
type Prompt struct {
	ID         id.PromptID `json:"id"`
	Message    string      `json:"message"`
	Capability string      `json:"capability"`
	API        string      `json:"api,omitempty"`
	// Unary prompts are a single yes/no; others may also answer AllowAll
	Unary bool     `json:"unary"`
	Stack []string `json:"stack,omitempty"`
}

// Record is one answered prompt in a task's permission history
type Record struct {
	Prompt     Prompt    `json:"prompt"`
	Decision   Decision  `json:"decision"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Observer follows the prompts raised by one execution context
type Observer interface {
	PromptRaised(prompt Prompt)
	PromptAnswered(prompt Prompt, decision Decision)
}

// Notifier delivers prompts and warnings to the operator
type Notifier interface {
	PermissionPrompt(ctxID id.ContextID, prompt Prompt)
	SecurityWarning(ctxID id.ContextID, message string)
}
