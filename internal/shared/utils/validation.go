package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Size limits (in bytes)
const (
	MaxJSONSize  = 1 * 1024 * 1024 // 1MB - maximum event payload size
	MaxCodeSize  = 4 * 1024 * 1024 // 4MB - task or virtual module source
	MaxIDLength  = 128
	MaxKeyLength = 256
)

// Regular expressions for validation
var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// ModuleKeyPattern additionally allows dots and slashes so virtual
	// modules can carry path-like keys such as "lib/util.ts"
	ModuleKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)
)

// JSONSizeValidator validates JSON size limits
type JSONSizeValidator struct {
	maxSize int
}

// NewJSONSizeValidator creates a new validator with the specified max size
func NewJSONSizeValidator(maxSize int) *JSONSizeValidator {
	return &JSONSizeValidator{maxSize: maxSize}
}

// DefaultJSONValidator returns a validator with the default 1MB limit
func DefaultJSONValidator() *JSONSizeValidator {
	return NewJSONSizeValidator(MaxJSONSize)
}

// ValidateSize checks if the data size is within limits
func (v *JSONSizeValidator) ValidateSize(data []byte) error {
	size := len(data)
	if size > v.maxSize {
		return fmt.Errorf("JSON size %d bytes exceeds maximum %d bytes", size, v.maxSize)
	}
	return nil
}

// ValidateJSON validates both size and JSON structure
func (v *JSONSizeValidator) ValidateJSON(data []byte) error {
	// Check size first (faster than parsing)
	if err := v.ValidateSize(data); err != nil {
		return err
	}
	if len(data) == 0 || !sonic.Valid(data) {
		return fmt.Errorf("invalid JSON")
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Check for null bytes (security issue)
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateModuleKey validates a virtual module key
func ValidateModuleKey(key string) error {
	if err := ValidateString(key, "key", 1, MaxKeyLength, true); err != nil {
		return err
	}
	if !ModuleKeyPattern.MatchString(key) {
		return fmt.Errorf("key contains invalid characters (only alphanumeric, dots, slashes, hyphens, and underscores allowed)")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	return nil
}

// ValidateCode validates script source submitted by the host
func ValidateCode(code, fieldName string) error {
	if len(code) > MaxCodeSize {
		return fmt.Errorf("%s size %d bytes exceeds maximum %d bytes", fieldName, len(code), MaxCodeSize)
	}
	if !utf8.ValidString(code) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}
	return nil
}
