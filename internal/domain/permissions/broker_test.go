package permissions

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	prompts  []Prompt
	warnings []string
	raised   chan Prompt
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{raised: make(chan Prompt, 8)}
}

func (n *recordingNotifier) PermissionPrompt(ctxID id.ContextID, prompt Prompt) {
	n.mu.Lock()
	n.prompts = append(n.prompts, prompt)
	n.mu.Unlock()
	n.raised <- prompt
}

func (n *recordingNotifier) SecurityWarning(ctxID id.ContextID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, message)
}

type recordingObserver struct {
	mu       sync.Mutex
	events   []string
	answered []Decision
}

func (o *recordingObserver) PromptRaised(prompt Prompt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "raised")
}

func (o *recordingObserver) PromptAnswered(prompt Prompt, decision Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "answered")
	o.answered = append(o.answered, decision)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func promptAsync(b *Broker, ctxID id.ContextID, req Prompt) <-chan Decision {
	out := make(chan Decision, 1)
	go func() { out <- b.Prompt(ctxID, req) }()
	return out
}

func waitDecision(t *testing.T, ch <-chan Decision) Decision {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not return")
		return Deny
	}
}

func waitRaised(t *testing.T, n *recordingNotifier) Prompt {
	t.Helper()
	select {
	case p := <-n.raised:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never reached the operator")
		return Prompt{}
	}
}

func TestPromptRespondByCorrelation(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, logging.NewNop())
	ctxID := id.NewContextID()
	obs := &recordingObserver{}
	b.SetupChannel(ctxID, obs)

	result := promptAsync(b, ctxID, Prompt{Message: "read /etc/hosts", Capability: "read", API: "host.readTextFile"})
	p := waitRaised(t, notifier)
	assert.True(t, id.HasPrefix(p.ID.String(), id.PromptPrefix))

	outstanding, ok := b.Outstanding(ctxID)
	require.True(t, ok)
	assert.Equal(t, p.ID, outstanding)

	assert.True(t, b.Respond(p.ID.String(), Allow))
	assert.Equal(t, Allow, waitDecision(t, result))
	assert.Equal(t, []string{"raised", "answered"}, obs.snapshot())

	_, ok = b.Outstanding(ctxID)
	assert.False(t, ok)
}

func TestRespondByContextID(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, nil)
	ctxID := id.NewContextID()
	b.SetupChannel(ctxID, nil)

	result := promptAsync(b, ctxID, Prompt{Message: "env HOME", Capability: "env"})
	waitRaised(t, notifier)

	assert.True(t, b.Respond(ctxID.String(), AllowAll))
	assert.Equal(t, AllowAll, waitDecision(t, result))
}

func TestUnaryPromptNarrowsAllowAll(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, nil)
	ctxID := id.NewContextID()
	b.SetupChannel(ctxID, nil)

	result := promptAsync(b, ctxID, Prompt{Message: "net", Capability: "net", Unary: true})
	p := waitRaised(t, notifier)
	b.Respond(p.ID.String(), AllowAll)
	assert.Equal(t, Allow, waitDecision(t, result))
}

func TestOversizePromptDeniedWithoutReachingOperator(t *testing.T) {
	notifier := newRecordingNotifier()
	metrics := monitoring.NewMetrics()
	b := NewBroker(16, notifier, nil).WithMetrics(metrics)
	ctxID := id.NewContextID()
	obs := &recordingObserver{}
	b.SetupChannel(ctxID, obs)

	d := b.Prompt(ctxID, Prompt{Message: strings.Repeat("x", 17), Capability: "read"})
	assert.Equal(t, Deny, d)
	assert.Empty(t, obs.snapshot())

	notifier.mu.Lock()
	assert.Empty(t, notifier.prompts)
	require.Len(t, notifier.warnings, 1)
	assert.Contains(t, notifier.warnings[0], "read")
	notifier.mu.Unlock()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PromptsOversize))
	_, ok := b.Outstanding(ctxID)
	assert.False(t, ok)
}

func TestPromptWithoutChannelDenies(t *testing.T) {
	b := NewBroker(0, newRecordingNotifier(), nil)
	assert.Equal(t, Deny, b.Prompt(id.NewContextID(), Prompt{Message: "x", Capability: "read"}))
}

func TestCleanupFailsClosed(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, nil)
	ctxID := id.NewContextID()
	b.SetupChannel(ctxID, nil)

	result := promptAsync(b, ctxID, Prompt{Message: "write", Capability: "write"})
	p := waitRaised(t, notifier)

	b.CleanupChannel(ctxID)
	assert.Equal(t, Deny, waitDecision(t, result))
	assert.False(t, b.HasChannel(ctxID))

	assert.False(t, b.Respond(p.ID.String(), Allow))
}

func TestSetupAndCleanupAreIdempotent(t *testing.T) {
	b := NewBroker(0, nil, nil)
	ctxID := id.NewContextID()

	b.SetupChannel(ctxID, nil)
	b.SetupChannel(ctxID, nil)
	assert.True(t, b.HasChannel(ctxID))

	b.CleanupChannel(ctxID)
	assert.NotPanics(t, func() { b.CleanupChannel(ctxID) })
	assert.False(t, b.HasChannel(ctxID))
}

func TestLateResponseIsNoOp(t *testing.T) {
	metrics := monitoring.NewMetrics()
	b := NewBroker(0, nil, nil).WithMetrics(metrics)
	ctxID := id.NewContextID()
	b.SetupChannel(ctxID, nil)

	assert.False(t, b.Respond("prm_unknown", Allow))
	assert.False(t, b.Respond(ctxID.String(), Allow))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LateResponses))
}

func TestDoubleResponseDeliversOnce(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, nil)
	ctxID := id.NewContextID()
	b.SetupChannel(ctxID, nil)

	result := promptAsync(b, ctxID, Prompt{Message: "x", Capability: "read"})
	p := waitRaised(t, notifier)

	assert.True(t, b.Respond(p.ID.String(), Deny))
	assert.False(t, b.Respond(p.ID.String(), Allow))
	assert.Equal(t, Deny, waitDecision(t, result))
}

func TestSecondPromptWaitsForFirst(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, nil)
	ctxID := id.NewContextID()
	b.SetupChannel(ctxID, nil)

	first := promptAsync(b, ctxID, Prompt{Message: "one", Capability: "read"})
	p1 := waitRaised(t, notifier)
	second := promptAsync(b, ctxID, Prompt{Message: "two", Capability: "write"})

	select {
	case p := <-notifier.raised:
		t.Fatalf("second prompt %s raised while first outstanding", p.Message)
	case <-time.After(50 * time.Millisecond):
	}

	b.Respond(p1.ID.String(), Allow)
	assert.Equal(t, Allow, waitDecision(t, first))

	p2 := waitRaised(t, notifier)
	assert.Equal(t, "two", p2.Message)
	b.Respond(p2.ID.String(), Deny)
	assert.Equal(t, Deny, waitDecision(t, second))
}

func TestConcurrentContextsDoNotInterfere(t *testing.T) {
	notifier := newRecordingNotifier()
	b := NewBroker(0, notifier, nil)
	a, c := id.NewContextID(), id.NewContextID()
	b.SetupChannel(a, nil)
	b.SetupChannel(c, nil)

	ra := promptAsync(b, a, Prompt{Message: "a", Capability: "read"})
	rc := promptAsync(b, c, Prompt{Message: "c", Capability: "read"})
	byMsg := map[string]Prompt{}
	for i := 0; i < 2; i++ {
		p := waitRaised(t, notifier)
		byMsg[p.Message] = p
	}

	b.Respond(byMsg["c"].ID.String(), Deny)
	b.Respond(byMsg["a"].ID.String(), Allow)
	assert.Equal(t, Allow, waitDecision(t, ra))
	assert.Equal(t, Deny, waitDecision(t, rc))
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"Allow", "Deny", "AllowAll"} {
		d, err := ParseDecision(s)
		require.NoError(t, err)
		assert.Equal(t, s, d.String())
	}

	_, err := ParseDecision("allow")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	var d Decision
	assert.Error(t, d.UnmarshalText([]byte("Maybe")))
	require.NoError(t, d.UnmarshalText([]byte("AllowAll")))
	assert.True(t, d.Granted())
	assert.False(t, Deny.Granted())
}
