package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/execution"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type sink struct {
	events chan json.RawMessage
}

func (s *sink) RuntimeEvent(_ id.ContextID, _ string, data json.RawMessage) {
	s.events <- data
}

// journal records notifications and fatal calls in the order they happen
type journal struct {
	mu      sync.Mutex
	entries []string
	titles  []string
}

func (j *journal) ShowNotification(variant bridge.Variant, title, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, "notify:"+string(variant))
	j.titles = append(j.titles, title)
}

func (j *journal) fatal(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, "fatal")
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func newEnv() (*execution.Environment, *sink) {
	s := &sink{events: make(chan json.RawMessage, 16)}
	return &execution.Environment{
		Virtual: modules.NewVirtualRegistry(),
		Broker:  permissions.NewBroker(0, nil, nil),
		Events:  s,
	}, s
}

func nextEvent(t *testing.T, s *sink) string {
	t.Helper()
	select {
	case raw := <-s.events:
		var v string
		require.NoError(t, json.Unmarshal(raw, &v))
		return v
	case <-time.After(waitFor):
		t.Fatal("no event emitted")
		return ""
	}
}

func TestCleanShutdownOnClose(t *testing.T) {
	env, events := newEnv()
	env.Virtual.Register("main", `host.onEvent = (e: string) => host.emit("echo:" + e);
host.emit("up");`)

	sup := New(env, modules.VirtualSpecifier("main"), resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}, nil, nil)
	assert.ErrorIs(t, sup.Send(json.RawMessage(`"early"`)), ErrNotRunning)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	assert.Equal(t, "up", nextEvent(t, events))
	assert.NotEmpty(t, sup.ContextID())
	assert.Equal(t, resilience.PhaseRunning, sup.Phase())

	require.NoError(t, sup.Send(json.RawMessage(`"a"`)))
	require.NoError(t, sup.Send(json.RawMessage(`"b"`)))
	assert.Equal(t, "echo:a", nextEvent(t, events))
	assert.Equal(t, "echo:b", nextEvent(t, events))

	sup.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, 0, sup.Restarts())
	assert.Equal(t, resilience.PhaseDone, sup.Phase())
	assert.ErrorIs(t, sup.Send(json.RawMessage(`"late"`)), ErrNotRunning)
}

func TestRestartAfterCrash(t *testing.T) {
	env, events := newEnv()
	env.Virtual.Register("main", `let booted = false;
try {
  require("agentos:virtual/crashed-once");
  booted = true;
} catch {}
if (!booted) {
  host.registerVirtualModule("crashed-once", "export default 1;");
  throw new Error("first boot fails");
}
host.onEvent = () => {};
host.emit("up");`)

	metrics := monitoring.NewMetrics()
	sup := New(env, modules.VirtualSpecifier("main"), resilience.RetryPolicy{MaxRetries: 3, Backoff: 10 * time.Millisecond}, nil, nil).
		WithMetrics(metrics)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	assert.Equal(t, "up", nextEvent(t, events))
	assert.Equal(t, 1, sup.Restarts())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SupervisorRestarts))

	sup.Close()
	require.NoError(t, <-done)
}

func TestFatalAfterRetriesExhausted(t *testing.T) {
	env, _ := newEnv()
	env.Virtual.Register("main", `throw new Error("always broken");`)

	j := &journal{}
	sup := New(env, modules.VirtualSpecifier("main"), resilience.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, j, nil).
		OnFatal(j.fatal)

	err := sup.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "always broken")

	assert.Equal(t, 2, sup.Restarts())
	assert.Equal(t, resilience.PhaseFatal, sup.Phase())
	assert.Equal(t, []string{"notify:error", "fatal"}, j.snapshot(), "operator is told before the fatal hook runs")
	assert.Equal(t, []string{CrashTitle}, j.titles)
}

func TestInitFailureCountsAsCrash(t *testing.T) {
	env, _ := newEnv()

	j := &journal{}
	sup := New(env, "agentos:virtual/missing", resilience.RetryPolicy{MaxRetries: 0, Backoff: time.Millisecond}, j, nil).
		OnFatal(j.fatal)

	err := sup.Run(context.Background())
	assert.ErrorIs(t, err, modules.ErrModuleNotFound)
	assert.Equal(t, []string{"notify:error", "fatal"}, j.snapshot())
}

func TestCancelStopsWithoutError(t *testing.T) {
	env, events := newEnv()
	env.Virtual.Register("main", `host.emit("up");`)

	sup := New(env, modules.VirtualSpecifier("main"), resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	assert.Equal(t, "up", nextEvent(t, events))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("supervisor ignored cancellation")
	}
	assert.ErrorIs(t, sup.Run(context.Background()), ErrAlreadyStarted)
}

func TestCancelDuringBackoff(t *testing.T) {
	env, _ := newEnv()
	env.Virtual.Register("main", `throw new Error("broken");`)

	j := &journal{}
	sup := New(env, modules.VirtualSpecifier("main"), resilience.RetryPolicy{MaxRetries: 5, Backoff: time.Hour}, j, nil).
		OnFatal(j.fatal)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.Phase() == resilience.PhaseBackoff }, waitFor, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Empty(t, j.snapshot())
}
