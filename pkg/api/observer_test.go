package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingObserver records how many events it received in total.
type countingObserver struct {
	NoopObserver
	events int
}

func (c *countingObserver) OnRunStart(ctx context.Context, run *Run)     { c.events++ }
func (c *countingObserver) OnRunCompleted(ctx context.Context, run *Run) { c.events++ }
func (c *countingObserver) OnRunFailed(ctx context.Context, run *Run, reason string) {
	c.events++
}

func TestCompositeObserverFansOut(t *testing.T) {
	t.Parallel()

	a := &countingObserver{}
	b := &countingObserver{}
	obs := NewCompositeObserver(a, nil, b)

	ctx := context.Background()
	run := &Run{ID: "r1", WorkflowID: "wf1"}
	obs.OnRunStart(ctx, run)
	obs.OnRunFailed(ctx, run, "boom")

	require.Equal(t, 2, a.events, "first observer should see both events")
	require.Equal(t, 2, b.events, "second observer should see both events")
}

func TestCompositeObserverCollapses(t *testing.T) {
	t.Parallel()

	require.IsType(t, NoopObserver{}, NewCompositeObserver(), "no observers collapses to noop")
	require.IsType(t, NoopObserver{}, NewCompositeObserver(nil, nil), "nil observers collapse to noop")

	single := &countingObserver{}
	require.Same(t, single, NewCompositeObserver(single), "single observer is returned as-is")
}

func TestBasicMetricsSnapshot(t *testing.T) {
	t.Parallel()

	m := &BasicMetrics{}
	ctx := context.Background()
	run := &Run{ID: "r1"}
	step := &Step{Name: "draft"}

	m.OnRunStart(ctx, run)
	m.OnRunStart(ctx, run)
	m.OnStepAttempt(ctx, run, step, 1)
	m.OnStepAttempt(ctx, run, step, 2)
	m.OnModelCall(ctx, run, &ModelCallLog{TotalTokens: 15, CostUSD: 0.0002})
	m.OnModelCall(ctx, run, &ModelCallLog{TotalTokens: 10, CostUSD: 0.0001})
	m.OnRunCompleted(ctx, run)
	m.OnRunFailed(ctx, run, "boom")

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.RunsStarted)
	require.Equal(t, int64(1), snap.RunsCompleted)
	require.Equal(t, int64(1), snap.RunsFailed)
	require.Equal(t, int64(0), snap.ActiveRuns)
	require.Equal(t, int64(2), snap.StepAttempts)
	require.Equal(t, int64(2), snap.ModelCalls)
	require.Equal(t, int64(25), snap.TotalTokens)
	require.InDelta(t, 0.0003, snap.CostUSD, 1e-9)
}

func TestLoggingObserverEmitsStructuredRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)

	ctx := context.Background()
	run := &Run{ID: "r1", WorkflowID: "wf1"}
	obs.OnRunStart(ctx, run)
	obs.OnStepCompleted(ctx, run, &Step{Name: "draft", Position: 0}, false, 3, 50*time.Millisecond)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2, "expected one record per event")

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.Equal(t, "run_start", first["msg"])
	require.Equal(t, "r1", first["run_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	require.Equal(t, "step_completed", second["msg"])
	require.Equal(t, "ERROR", second["level"], "failed steps log at error level")
	require.Equal(t, false, second["passed"])
}
