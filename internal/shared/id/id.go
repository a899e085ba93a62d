// Package id provides centralized ID generation for the script host.
//
// Identifiers are prefixed ULIDs:
//   - Lexicographic sortability: prompts and contexts order by creation time
//   - Prefixed types: ctx_*, prm_*, evt_* are readable in logs
//   - Type safety: separate types keep a context id from being passed where a
//     prompt correlation id is expected
//
// Execution contexts are keyed by a ContextID issued at creation time. Every
// call into the permission broker carries it, so routing never depends on
// which OS thread a context happens to run on.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// ContextID identifies one execution context for its whole lifetime
type ContextID string

// PromptID correlates a permission prompt with its response
type PromptID string

// EventID identifies a host or runtime event
type EventID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	ContextPrefix = "ctx"
	PromptPrefix  = "prm"
	EventPrefix   = "evt"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// entropy, so ids minted within the same millisecond still sort.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for tests that need deterministic ids.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewContextID generates a new execution context ID
func NewContextID() ContextID {
	return ContextID(Default().GenerateWithPrefix(ContextPrefix))
}

// NewPromptID generates a new permission prompt correlation ID
func NewPromptID() PromptID {
	return PromptID(Default().GenerateWithPrefix(PromptPrefix))
}

// NewEventID generates a new event ID
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

func (id ContextID) String() string { return string(id) }
func (id PromptID) String() string  { return string(id) }
func (id EventID) String() string   { return string(id) }

// ============================================================================
// Validation
// ============================================================================

// HasPrefix reports whether s is a well-formed id of the given prefix
func HasPrefix(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	return IsValid(rest)
}

// IsValid checks if a string is a valid ULID
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed or bare id
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
