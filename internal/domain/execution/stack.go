package execution

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// wrapperLines is how many lines the module wrapper adds above module code
const wrapperLines = 1

// stackLocation matches "file:line:col" optionally followed by goja's "(pc)"
var stackLocation = regexp.MustCompile(`([^\s()]+):(\d+):(\d+)(?:\(\d+\))?`)

// mapPosition rewrites a generated position of a compiled module to its
// original source position
func (r *Runtime) mapPosition(src string, line, col int) (string, int, int) {
	if !r.compiled[src] {
		return src, line, col
	}
	line -= wrapperLines
	if pos, ok := r.loader.SourceMaps().Lookup(src, line, col); ok {
		return pos.Source, pos.Line, pos.Column
	}
	return src, line, col
}

func (r *Runtime) formatFrame(f goja.StackFrame) string {
	name := f.FuncName()
	pos := f.Position()
	if pos.Filename == "" {
		return name + " (native)"
	}

	src, line, col := r.mapPosition(pos.Filename, pos.Line, pos.Column)
	loc := fmt.Sprintf("%s:%d:%d", src, line, col)
	if name == "" || name == "<anonymous>" {
		return loc
	}
	return name + " (" + loc + ")"
}

func (r *Runtime) mapFrames(frames []goja.StackFrame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, r.formatFrame(f))
	}
	return out
}

// captureStack snapshots the current script call stack, innermost first
func (r *Runtime) captureStack() []string {
	frames := r.vm.CaptureCallStack(0, nil)
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.SrcName() == "<native>" {
			continue
		}
		out = append(out, r.formatFrame(f))
	}
	return out
}

// rewriteStackText maps every location in a textual stack trace
func (r *Runtime) rewriteStackText(text string) string {
	return stackLocation.ReplaceAllStringFunc(text, func(m string) string {
		parts := stackLocation.FindStringSubmatch(m)
		line, _ := strconv.Atoi(parts[2])
		col, _ := strconv.Atoi(parts[3])
		src, line, col := r.mapPosition(parts[1], line, col)
		return fmt.Sprintf("%s:%d:%d", src, line, col)
	})
}

func (r *Runtime) scriptError(ex *goja.Exception) *ScriptError {
	message := "uncaught exception"
	if v := ex.Value(); v != nil {
		message = v.String()
	}
	return &ScriptError{Message: message, Stack: r.mapFrames(ex.Stack())}
}

// exceptionFromValue builds a ScriptError from a thrown or rejected value
// that is no longer attached to a goja exception
func (r *Runtime) exceptionFromValue(v goja.Value) error {
	if v == nil || goja.IsUndefined(v) {
		return &ScriptError{Message: "Uncaught (in promise) undefined"}
	}

	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			lines := strings.Split(strings.TrimRight(stack.String(), "\n"), "\n")
			frames := make([]string, 0, len(lines))
			for _, l := range lines[1:] {
				l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "at "))
				if l != "" {
					frames = append(frames, r.rewriteStackText(l))
				}
			}
			return &ScriptError{Message: "Uncaught (in promise) " + v.String(), Stack: frames}
		}
	}
	return &ScriptError{Message: "Uncaught (in promise) " + v.String()}
}
