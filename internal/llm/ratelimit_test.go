package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimitFromErrorRetrySeconds(t *testing.T) {
	info := ParseRateLimitFromError("rate limit exceeded, retry in 300 seconds")
	require.NotNil(t, info)
	assert.InDelta(t, 300*time.Second, info.TimeUntilReset(), float64(2*time.Second))
}

func TestParseRateLimitFromErrorEmpty(t *testing.T) {
	assert.Nil(t, ParseRateLimitFromError(""))
}

func TestParseRateLimitFromErrorNotRateLimit(t *testing.T) {
	assert.Nil(t, ParseRateLimitFromError("some other error"))
}

func TestWaiterShouldWait(t *testing.T) {
	w := NewWaiter(1*time.Hour, 15*time.Minute, 30*time.Second, nil)

	within := &RateLimitInfo{ResetAt: time.Now().Add(30 * time.Minute)}
	assert.True(t, w.ShouldWait(within))

	tooLong := &RateLimitInfo{ResetAt: time.Now().Add(2 * time.Hour)}
	assert.False(t, w.ShouldWait(tooLong))

	assert.False(t, w.ShouldWait(nil))
}

type countdownCapture struct {
	calls []time.Duration
}

func (c *countdownCapture) LogRateLimitCountdown(remaining, _ time.Duration) {
	c.calls = append(c.calls, remaining)
}

func TestWaiterWaitForResetExpired(t *testing.T) {
	logger := &countdownCapture{}
	w := NewWaiter(1*time.Hour, 15*time.Minute, 10*time.Millisecond, logger)
	info := &RateLimitInfo{ResetAt: time.Now().Add(-time.Minute)}

	start := time.Now()
	err := w.WaitForReset(context.Background(), info)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestClassifyCLIError(t *testing.T) {
	var notFound *CLINotFoundError
	err := classifyCLIError("exec: \"claude\": not found", "")
	assert.ErrorAs(t, err, &notFound)

	var auth *AuthenticationError
	err = classifyCLIError("unauthorized: invalid api key", "")
	assert.ErrorAs(t, err, &auth)

	var rl *RateLimitError
	err = classifyCLIError("", "rate limit exceeded, retry in 5 seconds")
	assert.ErrorAs(t, err, &rl)

	var generic *CLIError
	err = classifyCLIError("exit status 1", "segfault")
	assert.ErrorAs(t, err, &generic)
}
