package execution

import (
	"time"

	"github.com/dop251/goja"
)

// minInterval keeps a zero-delay interval from starving the loop
const minInterval = time.Millisecond

type timer struct {
	t        *time.Timer
	fn       goja.Callable
	args     []goja.Value
	interval time.Duration
	repeat   bool
}

func (t *timer) stop() {
	t.t.Stop()
}

// setTimer backs setTimeout and setInterval. Each armed timer counts as
// pending work until it fires for the last time or is cleared.
func (r *Runtime) setTimer(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		r.throwTypeError("timer callback must be a function")
	}

	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < minInterval {
		delay = minInterval
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.nextTimer++
	tid := r.nextTimer
	t := &timer{fn: fn, args: args, interval: delay, repeat: repeat}
	t.t = time.AfterFunc(delay, func() {
		r.enqueue(func() error { return r.fireTimer(tid) })
	})
	r.timers[tid] = t
	r.pending++

	return r.vm.ToValue(tid)
}

func (r *Runtime) fireTimer(tid int64) error {
	t, ok := r.timers[tid]
	if !ok {
		// cleared after the callback was already queued
		return nil
	}

	if t.repeat {
		t.t.Reset(t.interval)
	} else {
		delete(r.timers, tid)
		r.pending--
	}

	_, err := t.fn(goja.Undefined(), t.args...)
	return err
}

func (r *Runtime) clearTimer(call goja.FunctionCall) goja.Value {
	tid := call.Argument(0).ToInteger()
	if t, ok := r.timers[tid]; ok {
		t.stop()
		delete(r.timers, tid)
		r.pending--
	}
	return goja.Undefined()
}
