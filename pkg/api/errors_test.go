package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorProbesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	transport := fmt.Errorf("calling model: %w", NewTransportError(errors.New("connection refused")))
	require.True(t, IsTransportError(transport))
	require.False(t, IsConfigError(transport))

	apiErr := fmt.Errorf("calling model: %w", NewAPIError(429, "rate limited"))
	got, ok := IsAPIError(apiErr)
	require.True(t, ok)
	require.Equal(t, 429, got.StatusCode)
	require.Equal(t, "rate limited", got.Body)
	require.False(t, IsTransportError(apiErr))

	cfg := NewConfigError("step %q produced no usable context", "draft")
	require.True(t, IsConfigError(cfg))
	require.Equal(t, `step "draft" produced no usable context`, cfg.Error())
}

func TestEvalResultFailureReason(t *testing.T) {
	t.Parallel()

	var nilResult *EvalResult
	require.Equal(t, "evaluation produced no result", nilResult.FailureReason())
	require.Equal(t, "Rule 'regex' failed", (&EvalResult{Reason: "Rule 'regex' failed"}).FailureReason())
	require.Equal(t, "evaluator panic: boom", (&EvalResult{Error: "evaluator panic: boom"}).FailureReason())
	require.Equal(t, "evaluation failed without a reason", (&EvalResult{}).FailureReason())
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, RunPending.Terminal())
	require.False(t, RunRunning.Terminal())
	require.True(t, RunCompleted.Terminal())
	require.True(t, RunFailed.Terminal())
}
