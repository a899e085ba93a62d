package execution

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/dop251/goja"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// installGlobals wires the host object, console, timers and Worker into
// the VM
func (r *Runtime) installGlobals() error {
	vm := r.vm
	r.host = vm.NewObject()

	hostProps := map[string]interface{}{
		"contextId":                   r.id.String(),
		"taskId":                      r.opts.TaskID,
		"kind":                        r.opts.Kind.String(),
		"readTextFile":                r.readTextFile,
		"writeTextFile":               r.writeTextFile,
		"env":                         r.envVar,
		"fetch":                       r.fetch,
		"emit":                        r.emit,
		"registerVirtualModule":       r.registerVirtualModule,
		"unregisterVirtualModule":     r.unregisterVirtualModule,
		"unregisterAllVirtualModules": r.unregisterAllVirtualModules,
	}

	var errs []error
	for name, v := range hostProps {
		errs = append(errs, r.host.Set(name, v))
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		errs = append(errs, console.Set(level, r.consoleFunc(level)))
	}

	globals := map[string]interface{}{
		"host":          r.host,
		"console":       console,
		"setTimeout":    func(call goja.FunctionCall) goja.Value { return r.setTimer(call, false) },
		"setInterval":   func(call goja.FunctionCall) goja.Value { return r.setTimer(call, true) },
		"clearTimeout":  r.clearTimer,
		"clearInterval": r.clearTimer,
		"Worker":        r.newWorker,
		"self":          vm.GlobalObject(),
	}
	if r.opts.Kind == KindWorker {
		globals["postMessage"] = r.emit
	}
	for name, v := range globals {
		errs = append(errs, vm.Set(name, v))
	}

	return errors.Join(errs...)
}

func (r *Runtime) readTextFile(call goja.FunctionCall) goja.Value {
	path := r.absPath(call.Argument(0))
	r.check(CapRead, "host.readTextFile", path)

	data, err := os.ReadFile(path)
	if err != nil {
		r.throw(err)
	}
	if mt := mimetype.Detect(data); !isText(mt) {
		r.throwTypeError("%s is not a text file (%s)", path, mt.String())
	}
	return r.vm.ToValue(string(data))
}

func (r *Runtime) writeTextFile(call goja.FunctionCall) goja.Value {
	path := r.absPath(call.Argument(0))
	r.check(CapWrite, "host.writeTextFile", path)

	if err := os.WriteFile(path, []byte(call.Argument(1).String()), 0o644); err != nil {
		r.throw(err)
	}
	return goja.Undefined()
}

func (r *Runtime) envVar(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	r.check(CapEnv, "host.env", name)

	if v, ok := os.LookupEnv(name); ok {
		return r.vm.ToValue(v)
	}
	return goja.Undefined()
}

// fetch checks the net capability on the loop thread, then performs the
// request off-thread and settles the returned promise as loop work
func (r *Runtime) fetch(call goja.FunctionCall) goja.Value {
	req := &modules.FetchRequest{URL: call.Argument(0).String()}
	if init := call.Argument(1); !goja.IsUndefined(init) && !goja.IsNull(init) {
		opts := init.ToObject(r.vm)
		if v := opts.Get("method"); v != nil && !goja.IsUndefined(v) {
			req.Method = strings.ToUpper(v.String())
		}
		if v := opts.Get("body"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			req.Body = v.String()
		}
		if v := opts.Get("headers"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			req.Headers = make(map[string]string)
			h := v.ToObject(r.vm)
			for _, k := range h.Keys() {
				req.Headers[k] = h.Get(k).String()
			}
		}
	}

	r.check(CapNet, "host.fetch", req.URL)

	promise, resolve, reject := r.vm.NewPromise()
	fetcher := r.env.Fetcher
	if fetcher == nil {
		_ = reject(r.vm.NewGoError(errors.New("network access is not configured")))
		return r.vm.ToValue(promise)
	}

	r.pending++
	ctx := r.ctx
	go func() {
		resp, err := fetcher.Do(ctx, req)
		r.enqueue(func() error {
			r.pending--
			if err != nil {
				return reject(r.vm.NewGoError(err))
			}
			return resolve(resp)
		})
	}()
	return r.vm.ToValue(promise)
}

// emit sends a payload to the host, or to the parent for workers
func (r *Runtime) emit(call goja.FunctionCall) goja.Value {
	text, err := r.stringify(call.Argument(0))
	if err != nil {
		r.throw(err)
	}
	if text == "" {
		text = "null"
	}
	data := json.RawMessage(text)

	switch {
	case r.opts.OnEmit != nil:
		r.opts.OnEmit(data)
	case r.env.Events != nil:
		r.env.Events.RuntimeEvent(r.id, r.opts.TaskID, data)
	}
	return goja.Undefined()
}

func (r *Runtime) registerVirtualModule(key, code string) {
	r.env.Virtual.Register(key, code)
}

func (r *Runtime) unregisterVirtualModule(key string) {
	r.env.Virtual.Unregister(key)
}

func (r *Runtime) unregisterAllVirtualModules() {
	r.env.Virtual.Clear()
}

func (r *Runtime) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	logger := r.logger.Component("console")
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, r.formatArg(arg))
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			logger.Error(msg)
		case "warn":
			logger.Warn(msg)
		case "debug":
			logger.Debug(msg)
		default:
			logger.Info(msg, zap.String("level", level))
		}
		return goja.Undefined()
	}
}

func (r *Runtime) formatArg(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return v.String()
	}
	if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		return r.rewriteStackText(stack.String())
	}
	if text, err := r.stringify(obj); err == nil && text != "" {
		return text
	}
	return v.String()
}

func (r *Runtime) absPath(v goja.Value) string {
	p := v.String()
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (r *Runtime) eventHandler() goja.Callable {
	if r.opts.Kind == KindWorker {
		if fn, ok := goja.AssertFunction(r.vm.Get("onmessage")); ok {
			return fn
		}
	}
	if fn, ok := goja.AssertFunction(r.host.Get("onEvent")); ok {
		return fn
	}
	return nil
}

func (r *Runtime) hasMessageHandler() bool {
	return r.eventHandler() != nil
}

// messageEvent wraps data the way worker message handlers receive it
func (r *Runtime) messageEvent(data goja.Value) goja.Value {
	ev := r.vm.NewObject()
	_ = ev.Set("data", data)
	return ev
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
