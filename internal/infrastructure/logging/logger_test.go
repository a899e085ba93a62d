package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewBuildsBothModes(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), DevelopmentConfig()} {
		l, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, l.Logger)
	}
}

func TestComponentAndWithCarryFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := &Logger{Logger: zap.New(core)}

	base.Component("tasks").With(zap.String("task_id", "t1")).Info("task started")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "tasks", entries[0].LoggerName)
	assert.Equal(t, "t1", entries[0].ContextMap()["task_id"])
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Info("ignored")
	assert.NotNil(t, l.Component("x"))
}
