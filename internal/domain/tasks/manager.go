package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/execution"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// task is one run. Its snapshot is protected by Manager.mu.
type task struct {
	snap    Snapshot
	cancel  context.CancelFunc
	inbound *bridge.Queue[json.RawMessage]
	done    chan struct{}
	// prompts outstanding across the task and its workers, oldest first
	prompts []permissions.Prompt
}

// showOldestPromptLocked points the snapshot at the oldest outstanding
// prompt. Caller holds Manager.mu.
func (t *task) showOldestPromptLocked() {
	if len(t.prompts) == 0 {
		t.snap.Prompt = nil
		return
	}
	p := t.prompts[0]
	t.snap.Prompt = &p
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Manager orchestrates task lifecycle
type Manager struct {
	env       *execution.Environment
	stageDir  string
	publisher bridge.Publisher
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu    sync.RWMutex
	tasks map[string]*task // Protected by mu

	wg sync.WaitGroup
}

// NewManager creates a task manager. Task code is staged under stageDir,
// or the OS temp dir when empty.
func NewManager(env *execution.Environment, stageDir string, publisher bridge.Publisher, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		env:       env,
		stageDir:  stageDir,
		publisher: publisher,
		logger:    logger.Component("tasks"),
		tasks:     make(map[string]*task),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Start runs code as task taskID on its own execution context. A finished
// run with the same id is replaced.
func (m *Manager) Start(taskID, code string) (Snapshot, error) {
	if taskID == "" {
		return Snapshot{}, ErrEmptyTaskID
	}

	path, err := m.stage(code)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stage task %s: %w", taskID, err)
	}
	specifier, err := modules.FileSpecifier(path)
	if err != nil {
		m.removeStaged(path)
		return Snapshot{}, fmt.Errorf("stage task %s: %w", taskID, err)
	}

	snap, err := m.launch(taskID, specifier, path)
	if err != nil {
		m.removeStaged(path)
		return Snapshot{}, err
	}
	return snap, nil
}

// launch registers and starts a run of the staged module unless a live run
// holds taskID
func (m *Manager) launch(taskID, specifier, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tasks[taskID]; ok && !existing.finished() && !existing.snap.State.Terminal() {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, taskID)
	}

	t := &task{
		inbound: bridge.NewQueue[json.RawMessage](),
		done:    make(chan struct{}),
	}
	rt := execution.New(m.env, execution.Options{
		Kind:      execution.KindTask,
		TaskID:    taskID,
		Specifier: specifier,
		Observer:  &observer{m: m, t: t},
		Inbound:   t.inbound,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.snap = Snapshot{
		ID:        taskID,
		State:     StateRunning,
		History:   []permissions.Record{},
		ContextID: rt.ID(),
		StartedAt: time.Now(),
	}
	m.tasks[taskID] = t
	m.publishLocked(t)
	m.metrics.TaskStarted()

	m.logger.Info("task started",
		zap.String("task_id", taskID),
		zap.String("context_id", rt.ID().String()),
	)

	m.wg.Add(1)
	go m.run(ctx, t, rt, path)

	return t.snap.clone(), nil
}

func (m *Manager) run(ctx context.Context, t *task, rt *execution.Runtime, path string) {
	defer m.wg.Done()
	defer close(t.done)
	defer t.cancel()
	defer m.removeStaged(path)

	res, err := rt.Run(ctx)
	t.inbound.Discard()
	m.finish(t, res, err)
}

// finish records the outcome of a run. A stopped run always passes through
// stopping.
func (m *Manager) finish(t *task, res *execution.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	log := m.logger.With(zap.String("task_id", t.snap.ID))

	switch {
	case t.snap.State == StateStopping || errors.Is(err, execution.ErrStopped):
		if t.snap.State != StateStopping {
			t.snap.State = StateStopping
			t.snap.Prompt = nil
			m.publishLocked(t)
		}
		t.snap.State = StateStopped
		log.Info("task stopped")
	case err != nil:
		t.snap.State = StateError
		t.snap.Error = err.Error()
		log.Warn("task failed", zap.Error(err))
	default:
		t.snap.State = StateCompleted
		if res != nil {
			t.snap.ReturnValue = res.Value
		}
		log.Info("task completed")
	}

	t.prompts = nil
	t.snap.Prompt = nil
	t.snap.FinishedAt = &now
	m.publishLocked(t)
	m.metrics.TaskFinished(string(t.snap.State))
}

// Stop cancels a running task. It returns without waiting for the context
// to wind down; the task reaches stopped once it has. Unknown and finished
// tasks are a no-op.
func (m *Manager) Stop(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.finished() || t.snap.State.Terminal() || t.snap.State == StateStopping {
		return nil
	}

	t.snap.State = StateStopping
	m.publishLocked(t)
	t.cancel()

	m.logger.Info("task stopping", zap.String("task_id", taskID))
	return nil
}

// Query returns the current snapshot of taskID
func (m *Manager) Query(taskID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.snap.clone(), nil
}

// List returns snapshots of every visible task, oldest first
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.snap.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ClearCompleted removes every terminal task and returns how many went
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for taskID, t := range m.tasks {
		if t.snap.State.Terminal() {
			delete(m.tasks, taskID)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("cleared completed tasks", zap.Int("count", removed))
	}
	return removed
}

// SendEvent queues a host event for the task's host.onEvent handler
func (m *Manager) SendEvent(taskID string, payload json.RawMessage) error {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := t.inbound.Push(payload); err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	return nil
}

// Shutdown stops every running task and waits for them to finish or ctx to
// expire
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for taskID := range m.tasks {
		ids = append(ids, taskID)
	}
	m.mu.RUnlock()

	for _, taskID := range ids {
		_ = m.Stop(taskID)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stage writes code to a fresh temp file the loader can read as TypeScript
func (m *Manager) stage(code string) (string, error) {
	f, err := os.CreateTemp(m.stageDir, "task-*.ts")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (m *Manager) removeStaged(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to remove staged task file", zap.String("path", path), zap.Error(err))
	}
}

// publishLocked bumps seq and publishes the snapshot. Caller holds m.mu,
// which keeps notifications of one task in transition order.
func (m *Manager) publishLocked(t *task) {
	t.snap.Seq++
	if m.tasks[t.snap.ID] != t || m.publisher == nil {
		return
	}
	m.publisher.Publish(bridge.Notification{
		Type:    bridge.KindTaskStateChanged,
		Payload: t.snap.clone(),
	})
}
