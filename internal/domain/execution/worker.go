package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// worker is the parent-side handle of a child context
type worker struct {
	parent  *Runtime
	child   *Runtime
	obj     *goja.Object
	inbound *bridge.Queue[json.RawMessage]
	cancel  context.CancelFunc
	once    sync.Once
}

// newWorker backs `new Worker(specifier)`. The child runs on its own
// goroutine and keeps the parent alive until it exits.
func (r *Runtime) newWorker(call goja.ConstructorCall) *goja.Object {
	specifier, err := r.loader.Resolve(call.Argument(0).String(), r.currentModule())
	if err != nil {
		r.throw(err)
	}

	w := &worker{
		parent:  r,
		obj:     call.This,
		inbound: bridge.NewQueue[json.RawMessage](),
	}
	w.child = New(r.env, Options{
		Kind:      KindWorker,
		TaskID:    r.opts.TaskID,
		Specifier: specifier,
		Observer:  r.opts.Observer,
		Inbound:   w.inbound,
		OnEmit: func(data json.RawMessage) {
			r.enqueue(func() error { return w.dispatchMessage(data) })
		},
	})

	_ = w.obj.Set("postMessage", w.postMessage)
	_ = w.obj.Set("terminate", func() { w.terminate() })

	ctx, cancel := context.WithCancel(r.ctx)
	w.cancel = cancel
	r.workers[w] = struct{}{}
	r.pending++
	r.workerWG.Add(1)

	r.logger.Debug("worker started",
		zap.String("worker_id", w.child.ID().String()),
		zap.String("specifier", specifier))

	go func() {
		defer r.workerWG.Done()
		_, err := w.child.Run(ctx)
		r.enqueue(func() error { return w.exited(err) })
	}()

	return nil
}

func (w *worker) postMessage(call goja.FunctionCall) goja.Value {
	text, err := w.parent.stringify(call.Argument(0))
	if err != nil {
		w.parent.throw(err)
	}
	if text == "" {
		text = "null"
	}
	if err := w.inbound.Push(json.RawMessage(text)); err != nil {
		w.parent.logger.Debug("message to terminated worker dropped")
	}
	return goja.Undefined()
}

// terminate closes the worker's inbound queue and cancels it. Idempotent.
func (w *worker) terminate() {
	w.once.Do(func() {
		w.inbound.Close()
		w.cancel()
	})
}

// exited runs on the parent loop once the child's Run returned. A child
// failure is handed to the worker's onerror handler, or fails the parent
// when there is none.
func (w *worker) exited(err error) error {
	r := w.parent
	if _, ok := r.workers[w]; !ok {
		return nil
	}
	delete(r.workers, w)
	r.pending--
	w.terminate()

	if err == nil || errors.Is(err, ErrStopped) {
		return nil
	}

	r.logger.Warn("worker failed", zap.String("worker_id", w.child.ID().String()), zap.Error(err))

	handler, ok := goja.AssertFunction(w.obj.Get("onerror"))
	if !ok {
		return err
	}
	ev := r.vm.NewObject()
	_ = ev.Set("message", err.Error())
	_ = ev.Set("error", r.vm.NewGoError(err))
	_, callErr := handler(w.obj, ev)
	return callErr
}

// dispatchMessage delivers a payload the child posted to the worker's
// onmessage handler
func (w *worker) dispatchMessage(data json.RawMessage) error {
	r := w.parent
	handler, ok := goja.AssertFunction(w.obj.Get("onmessage"))
	if !ok {
		return nil
	}
	value, err := r.parseJSON(string(data))
	if err != nil {
		return err
	}
	r.env.Metrics.EventDelivered("worker")
	_, err = handler(w.obj, r.messageEvent(value))
	return err
}

// currentModule returns the innermost loaded module on the call stack, the
// referrer for relative specifiers resolved at run time
func (r *Runtime) currentModule() string {
	for _, f := range r.vm.CaptureCallStack(0, nil) {
		if _, ok := r.modules[f.SrcName()]; ok {
			return f.SrcName()
		}
	}
	return ""
}
