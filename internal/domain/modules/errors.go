package modules

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a module pipeline failure
type ErrorKind int

const (
	// ResolutionError is a malformed or unsupported specifier
	ResolutionError ErrorKind = iota
	// LoadError is a missing module, I/O failure or transport failure
	LoadError
	// TranspileError is a syntax or parse failure in module source
	TranspileError
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case ResolutionError:
		return "resolution error"
	case LoadError:
		return "load error"
	case TranspileError:
		return "transpile error"
	default:
		return "module error"
	}
}

var (
	ErrModuleNotFound       = errors.New("module not found")
	ErrUnknownExtension     = errors.New("unknown extension")
	ErrUnsupportedScheme    = errors.New("unsupported scheme")
	ErrRelativeFromInternal = errors.New("relative import from an internal module")
	ErrBareSpecifier        = errors.New("bare specifier")
	ErrEmptySpecifier       = errors.New("empty specifier")
	ErrRemoteStatus         = errors.New("remote responded with error status")
)

// Error is a typed module failure carrying the specifier it concerns
type Error struct {
	Kind      ErrorKind
	Specifier string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Specifier, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, specifier string, err error) *Error {
	return &Error{Kind: kind, Specifier: specifier, Err: err}
}

// IsKind reports whether err is a module error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == kind
}
