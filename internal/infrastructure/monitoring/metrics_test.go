package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.TaskStarted()
	a.TaskStarted()
	b.TaskStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.TasksStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.TasksStarted))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskStarted()
		m.PromptRaised("read")
		m.ModuleLoaded("file", errors.New("boom"))
		m.ObserveTranspile(time.Millisecond)
		m.SupervisorRestarted()
	})
}

func TestModuleLoadedLabelsResult(t *testing.T) {
	m := NewMetrics()
	m.ModuleLoaded("virtual", nil)
	m.ModuleLoaded("virtual", errors.New("missing"))
	m.ModuleLoaded("virtual", errors.New("missing"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModuleLoads.WithLabelValues("virtual", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModuleLoads.WithLabelValues("virtual", "error")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/tasks/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/tasks/:id", "204")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "scripthost_http_requests_total"))
}
