package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyAllowsMaxRetriesThenFatal(t *testing.T) {
	attempts := RetryPolicy{MaxRetries: 2, Backoff: 10 * time.Millisecond}.Start()
	assert.Equal(t, PhaseIdle, attempts.Phase())

	for i := 1; i <= 2; i++ {
		assert.Equal(t, i, attempts.Begin())
		delay, ok := attempts.Failed(errUpstream)
		assert.True(t, ok, "attempt %d should be retried", i)
		assert.Equal(t, 10*time.Millisecond, delay)
		assert.Equal(t, PhaseBackoff, attempts.Phase())
	}

	attempts.Begin()
	_, ok := attempts.Failed(errUpstream)
	assert.False(t, ok)
	assert.Equal(t, PhaseFatal, attempts.Phase())
	assert.Equal(t, 3, attempts.Failures())
	assert.True(t, errors.Is(attempts.Err(), ErrRetriesExhausted))
	assert.True(t, errors.Is(attempts.Err(), errUpstream))
}

func TestRetryPolicySuccessEndsSequence(t *testing.T) {
	attempts := RetryPolicy{MaxRetries: 1}.Start()

	attempts.Begin()
	attempts.Failed(errUpstream)
	attempts.Begin()
	attempts.Succeeded()

	assert.Equal(t, PhaseDone, attempts.Phase())
	assert.Equal(t, 1, attempts.Failures())
	assert.False(t, errors.Is(attempts.Err(), ErrRetriesExhausted))
}

func TestRetryPolicyZeroRetries(t *testing.T) {
	attempts := RetryPolicy{}.Start()
	attempts.Begin()
	_, ok := attempts.Failed(errUpstream)
	assert.False(t, ok)
	assert.Equal(t, PhaseFatal, attempts.Phase())
}

func TestPhaseStrings(t *testing.T) {
	assert.Equal(t, "backoff", PhaseBackoff.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
