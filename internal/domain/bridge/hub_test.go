package bridge

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/shared/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
		return Notification{}
	}
}

func TestHubFansOutInOrder(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	_, a, cancelA := h.Subscribe()
	defer cancelA()
	_, b, cancelB := h.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, h.Subscribers())

	for i := 0; i < 50; i++ {
		h.ShowNotification(VariantInfo, fmt.Sprintf("n%d", i), "")
	}

	for _, ch := range []<-chan Notification{a, b} {
		for i := 0; i < 50; i++ {
			n := receive(t, ch)
			payload := n.Payload.(ShowNotificationPayload)
			assert.Equal(t, fmt.Sprintf("n%d", i), payload.Title)
			assert.False(t, n.At.IsZero())
		}
	}
}

func TestHubTypedEmitters(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	_, ch, cancel := h.Subscribe()
	defer cancel()

	ctxID := id.NewContextID()
	prompt := permissions.Prompt{ID: id.NewPromptID(), Message: "read", Capability: "read"}

	h.PermissionPrompt(ctxID, prompt)
	h.SecurityWarning(ctxID, "too big")
	h.RuntimeEvent(ctxID, "t1", json.RawMessage(`{"x":1}`))

	n := receive(t, ch)
	assert.Equal(t, KindPermissionPrompt, n.Type)
	pp := n.Payload.(PermissionPromptPayload)
	assert.Equal(t, prompt.ID, pp.Correlation)
	assert.Equal(t, ctxID, pp.ThreadRef)

	n = receive(t, ch)
	assert.Equal(t, KindShowNotification, n.Type)
	assert.Equal(t, VariantWarning, n.Payload.(ShowNotificationPayload).Variant)

	n = receive(t, ch)
	assert.Equal(t, KindRuntimeEvent, n.Type)
	ev := n.Payload.(RuntimeEventPayload)
	assert.Equal(t, "t1", ev.TaskID)
	assert.JSONEq(t, `{"x":1}`, string(ev.Data))

	encoded, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"type":"runtime-event"`)
}

func TestHubCancelAndClose(t *testing.T) {
	h := NewHub(nil)
	_, ch, cancel := h.Subscribe()
	cancel()
	assert.Equal(t, 0, h.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	_, ch2, _ := h.Subscribe()
	h.Close()
	_, open = <-ch2
	assert.False(t, open)

	assert.NotPanics(t, func() { h.Publish(Notification{Type: KindRuntimeEvent}) })
}
