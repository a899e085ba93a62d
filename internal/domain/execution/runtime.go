package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Kind distinguishes the long-lived main context from tasks and workers
type Kind int

const (
	KindMain Kind = iota
	KindTask
	KindWorker
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindTask:
		return "task"
	case KindWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// EventSink receives script-emitted events bound for the host
type EventSink interface {
	RuntimeEvent(ctxID id.ContextID, taskID string, data json.RawMessage)
}

// Environment holds what every context of one host session shares
type Environment struct {
	Virtual *modules.VirtualRegistry
	Fetcher modules.Fetcher
	Broker  *permissions.Broker
	Events  EventSink
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// AllowRead lists doublestar globs readable without a prompt
	AllowRead    []string
	MaxCallStack int
}

// Options configures one context
type Options struct {
	Kind      Kind
	TaskID    string
	Specifier string
	Observer  permissions.Observer
	// Inbound carries host events to host.onEvent (or onmessage in a
	// worker). Closing it shuts down main and worker contexts.
	Inbound *bridge.Queue[json.RawMessage]
	// OnEmit replaces the event sink, used by workers to reach their parent
	OnEmit func(data json.RawMessage)
}

// Result is what a finished context produced
type Result struct {
	// Value is the JSON form of the main module's default export, nil when
	// it is undefined
	Value json.RawMessage
}

type job func() error

// Runtime is one execution context. All fields below vm are owned by the
// goroutine inside Run.
type Runtime struct {
	env    *Environment
	opts   Options
	id     id.ContextID
	loader *modules.Loader
	logger *logging.Logger

	vm         *goja.Runtime
	ctx        context.Context
	jobs       *bridge.Queue[job]
	pending    int
	modules    map[string]*goja.Object
	compiled   map[string]bool
	grants     map[Capability]bool
	rejections map[*goja.Promise]struct{}
	result     goja.Value
	host       *goja.Object
	timers     map[int64]*timer
	nextTimer  int64
	workers    map[*worker]struct{}
	workerWG   sync.WaitGroup
}

// New prepares a context. Nothing runs until Run is called.
func New(env *Environment, opts Options) *Runtime {
	logger := env.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ctxID := id.NewContextID()
	return &Runtime{
		env:    env,
		opts:   opts,
		id:     ctxID,
		loader: modules.NewLoader(env.Virtual, env.Fetcher, logger).WithMetrics(env.Metrics),
		logger: logger.Component("execution").With(
			zap.String("context_id", ctxID.String()),
			zap.String("kind", opts.Kind.String()),
			zap.String("task_id", opts.TaskID),
		),
	}
}

// ID returns the context's correlation id
func (r *Runtime) ID() id.ContextID {
	return r.id
}

// Run evaluates the main module and drives the loop until no work is left,
// the inbound queue closes (main and worker contexts) or ctx is cancelled.
// The calling goroutine is locked to its OS thread for the duration.
func (r *Runtime) Run(ctx context.Context) (*Result, error) {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.ctx = ctx

	r.env.Broker.SetupChannel(r.id, r.opts.Observer)
	defer r.env.Broker.CleanupChannel(r.id)
	r.env.Metrics.ContextOpened()
	defer r.env.Metrics.ContextClosed()

	r.jobs = bridge.NewQueue[job]()
	defer r.shutdown()

	if err := r.init(); err != nil {
		r.logger.Error("context initialization failed", zap.Error(err))
		return nil, &InitError{Err: err}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ErrStopped)
		case <-done:
		}
	}()

	r.logger.Debug("context started", zap.String("specifier", r.opts.Specifier))

	if err := r.evaluateMain(); err != nil {
		return nil, r.classify(err)
	}
	if err := r.loop(ctx); err != nil {
		return nil, r.classify(err)
	}
	return r.collectResult()
}

func (r *Runtime) init() error {
	r.vm = goja.New()
	r.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if r.env.MaxCallStack > 0 {
		r.vm.SetMaxCallStackSize(r.env.MaxCallStack)
	}

	r.modules = make(map[string]*goja.Object)
	r.compiled = make(map[string]bool)
	r.grants = make(map[Capability]bool)
	r.rejections = make(map[*goja.Promise]struct{})
	r.timers = make(map[int64]*timer)
	r.workers = make(map[*worker]struct{})

	// The main context is trusted with every capability
	if r.opts.Kind == KindMain {
		for _, c := range allCapabilities {
			r.grants[c] = true
		}
	}

	r.vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			r.rejections[p] = struct{}{}
		case goja.PromiseRejectionHandle:
			delete(r.rejections, p)
		}
	})

	return r.installGlobals()
}

func (r *Runtime) evaluateMain() error {
	specifier, err := r.loader.Resolve(r.opts.Specifier, "")
	if err != nil {
		return err
	}
	exports, err := r.loadModule(specifier)
	if err != nil {
		return err
	}

	if obj, ok := exports.(*goja.Object); ok && r.opts.Kind == KindTask {
		r.result = obj.Get("default")
	}
	return r.checkRejections()
}

// loop races internal work against inbound host events
func (r *Runtime) loop(ctx context.Context) error {
	var inbound <-chan json.RawMessage
	if r.opts.Inbound != nil {
		inbound = r.opts.Inbound.Out()
	}

	for {
		if !r.alive(inbound != nil) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrStopped

		case j := <-r.jobs.Out():
			if err := j(); err != nil {
				return err
			}

		case payload, ok := <-inbound:
			if !ok {
				if r.opts.Kind != KindTask {
					r.logger.Debug("inbound queue closed, shutting down")
					return nil
				}
				inbound = nil
				continue
			}
			r.env.Metrics.EventDelivered("inbound")
			if err := r.deliverEvent(payload); err != nil {
				return err
			}
		}

		if err := r.checkRejections(); err != nil {
			return err
		}
	}
}

// alive reports whether the loop still has a reason to wait
func (r *Runtime) alive(inboundOpen bool) bool {
	if r.pending > 0 {
		return true
	}
	switch r.opts.Kind {
	case KindMain:
		return inboundOpen
	default:
		// tasks and workers wait for host events only while a handler is installed
		return inboundOpen && r.hasMessageHandler()
	}
}

// enqueue schedules fn on the loop. Safe from any goroutine; work arriving
// after the loop exited is dropped.
func (r *Runtime) enqueue(fn job) {
	_ = r.jobs.Push(fn)
}

func (r *Runtime) checkRejections() error {
	for p := range r.rejections {
		delete(r.rejections, p)
		return r.exceptionFromValue(p.Result())
	}
	return nil
}

func (r *Runtime) resultPromise() *goja.Promise {
	if r.result == nil {
		return nil
	}
	p, _ := r.result.Export().(*goja.Promise)
	return p
}

func (r *Runtime) collectResult() (*Result, error) {
	value := r.result
	if p := r.resultPromise(); p != nil {
		switch p.State() {
		case goja.PromiseStatePending:
			return nil, ErrUnsettled
		case goja.PromiseStateRejected:
			return nil, r.exceptionFromValue(p.Result())
		}
		value = p.Result()
	}

	if value == nil || goja.IsUndefined(value) {
		return &Result{}, nil
	}
	text, err := r.stringify(value)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return &Result{}, nil
	}
	return &Result{Value: json.RawMessage(text)}, nil
}

// classify turns a loop failure into ErrStopped when it was caused by
// cancellation, and maps script exceptions to ScriptError
func (r *Runtime) classify(err error) error {
	if r.ctx.Err() != nil {
		return ErrStopped
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return ErrStopped
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return r.scriptError(ex)
	}
	return err
}

func (r *Runtime) shutdown() {
	for tid, t := range r.timers {
		t.stop()
		delete(r.timers, tid)
	}
	for w := range r.workers {
		w.terminate()
	}
	r.workerWG.Wait()
	r.jobs.Discard()
	r.logger.Debug("context finished")
}

func (r *Runtime) deliverEvent(payload json.RawMessage) error {
	handler := r.eventHandler()
	if handler == nil {
		r.logger.Debug("host event dropped, no handler installed")
		return nil
	}

	value, err := r.parseJSON(string(payload))
	if err != nil {
		return fmt.Errorf("decode host event: %w", err)
	}
	if r.opts.Kind == KindWorker {
		value = r.messageEvent(value)
	}
	_, err = handler(goja.Undefined(), value)
	return err
}
