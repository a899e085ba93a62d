package execution

import (
	"fmt"
	"path/filepath"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Capability names a class of sensitive host operation
type Capability string

const (
	CapRead  Capability = "read"
	CapWrite Capability = "write"
	CapEnv   Capability = "env"
	CapNet   Capability = "net"
)

var allCapabilities = []Capability{CapRead, CapWrite, CapEnv, CapNet}

// PermissionDeniedName is the name of errors thrown on a denied call
const PermissionDeniedName = "PermissionDenied"

// check blocks until the call may proceed or throws PermissionDenied into
// the script. It must only be called from inside a script call.
func (r *Runtime) check(c Capability, api, resource string) {
	if r.grants[c] || r.preGranted(c, resource) {
		return
	}

	decision := r.env.Broker.Prompt(r.id, permissions.Prompt{
		Message:    fmt.Sprintf("%s access to %q", describe(c), resource),
		Capability: string(c),
		API:        api,
		Unary:      c == CapEnv,
		Stack:      r.captureStack(),
	})

	switch decision {
	case permissions.AllowAll:
		r.grants[c] = true
	case permissions.Allow:
	default:
		r.logger.Info("permission denied", zap.String("capability", string(c)), zap.String("api", api))
		r.throwPermissionDenied(fmt.Sprintf("Requires %s access to %q", c, resource))
	}
}

func (r *Runtime) preGranted(c Capability, resource string) bool {
	if c != CapRead {
		return false
	}
	for _, pattern := range r.env.AllowRead {
		if ok, err := doublestar.PathMatch(pattern, filepath.Clean(resource)); err == nil && ok {
			return true
		}
	}
	return false
}

func (r *Runtime) throwPermissionDenied(message string) {
	obj, err := r.vm.New(r.vm.Get("Error"), r.vm.ToValue(message))
	if err != nil {
		panic(r.vm.NewTypeError("%s", message))
	}
	_ = obj.Set("name", PermissionDeniedName)
	panic(obj)
}

func describe(c Capability) string {
	switch c {
	case CapRead:
		return "Read"
	case CapWrite:
		return "Write"
	case CapEnv:
		return "Environment"
	case CapNet:
		return "Network"
	default:
		return string(c)
	}
}

// throwTypeError raises a TypeError inside the script
func (r *Runtime) throwTypeError(format string, args ...interface{}) {
	panic(r.vm.NewTypeError(fmt.Sprintf(format, args...)))
}
