package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/config"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T, mutate func(*config.Config)) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg := config.Default()
	cfg.Runtime.StageDir = t.TempDir()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)

	return "http://" + ln.Addr().String(), cancel, done
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// fetch is getJSON for polling conditions, which must not fail the test
func fetch(url string) map[string]interface{} {
	resp, err := http.Get(url)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if json.NewDecoder(resp.Body).Decode(&body) != nil {
		return nil
	}
	return body
}

func mainPhase(base string) interface{} {
	main, _ := fetch(base + "/health")["main"].(map[string]interface{})
	return main["phase"]
}

func TestServeRunsTasksAndShutsDown(t *testing.T) {
	base, cancel, done := startServer(t, nil)

	require.Eventually(t, func() bool { return mainPhase(base) == "running" }, waitFor, 10*time.Millisecond)

	resp, err := http.Post(base+"/tasks", "application/json", strings.NewReader(`{"id":"sum","code":"export default [1, 2, 3].reduce((a, b) => a + b, 0);"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.Eventually(t, func() bool {
		return fetch(base + "/tasks/sum")["state"] == "completed"
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, float64(6), getJSON(t, base+"/tasks/sum")["return_value"])

	metrics, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	assert.Contains(t, string(body), "scripthost_tasks_started_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestStreamCarriesMainContextEvents(t *testing.T) {
	base, _, _ := startServer(t, nil)
	require.Eventually(t, func() bool { return mainPhase(base) == "running" }, waitFor, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","payload":{"type":"ping","data":7}}`)))

	deadline := time.Now().Add(waitFor)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg struct {
			Type    string `json:"type"`
			Payload struct {
				Data json.RawMessage `json:"data"`
			} `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "runtime-event" && strings.Contains(string(msg.Payload.Data), "pong") {
			assert.JSONEq(t, `{"type":"pong","echo":7}`, string(msg.Payload.Data))
			return
		}
	}
}

func TestMainContextDisabled(t *testing.T) {
	base, _, _ := startServer(t, func(cfg *config.Config) { cfg.Runtime.MainModule = "" })

	main := getJSON(t, base+"/health")["main"].(map[string]interface{})
	assert.Equal(t, false, main["enabled"])

	resp, err := http.Post(base+"/events", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFatalMainContextStopsServe(t *testing.T) {
	_, _, done := startServer(t, func(cfg *config.Config) {
		cfg.Runtime.MainModule = "agentos:virtual/never-registered"
		cfg.Runtime.MaxRetries = 1
		cfg.Runtime.RetryBackoff = time.Millisecond
	})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "main context")
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("fatal main context did not stop the server")
	}
}
