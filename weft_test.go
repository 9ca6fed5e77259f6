package weft

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// echoClient answers every generation request with the same fixed text.
type echoClient struct {
	text string
}

func (c *echoClient) Generate(ctx context.Context, messages []Message, model string, maxTokens int, temperature float64) (*Result, error) {
	return &Result{
		Text:         c.text,
		InputTokens:  8,
		OutputTokens: 4,
		CostUSD:      0.00005,
		Latency:      time.Millisecond,
	}, nil
}

// TestInMemoryEngineEndToEnd drives a workflow from the public API: build,
// persist, create a run, execute, inspect.
func TestInMemoryEngineEndToEnd(t *testing.T) {
	t.Parallel()

	metrics := &BasicMetrics{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	observer := NewCompositeObserver(NewLoggingObserver(logger), metrics)

	eng, store := NewInMemoryEngineWithObserver(&echoClient{text: "report: all good"}, observer)
	ctx := context.Background()

	wf, err := New("daily-report").
		Step("draft", "Draft the report. {{context}}",
			WithContextMode(ContextFull),
			WithRule(RuleContains, "report"),
		).
		Step("check", "Check this report:\n{{context}}",
			WithContextMode(ContextFull),
			WithRule(RuleContains, "good"),
		).
		Create(ctx, store.Workflows)
	require.NoError(t, err)

	run := &Run{
		ID:         "run-1",
		WorkflowID: wf.ID,
		Status:     RunPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Runs.CreateRun(ctx, run))

	done, err := eng.ExecuteRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, done.Status)

	stepRuns, err := store.Runs.ListStepRuns(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stepRuns, 2)
	require.Equal(t, "report: all good", stepRuns[0].ExtractedContext)

	snap := metrics.Snapshot()
	require.Equal(t, int64(1), snap.RunsCompleted)
	require.Equal(t, int64(2), snap.ModelCalls)
}

// TestSQLiteEngineEndToEnd exercises the SQLite-backed constructor against
// an in-memory database.
func TestSQLiteEngineEndToEnd(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	eng, store, err := NewSQLiteEngine(db, &echoClient{text: "42"})
	require.NoError(t, err)
	ctx := context.Background()

	wf, err := New("answer").
		Step("only", "Answer. {{context}}",
			WithContextMode(ContextFull),
			WithRule(RuleContains, "42"),
		).
		Create(ctx, store.Workflows)
	require.NoError(t, err)

	run := &Run{ID: "run-1", WorkflowID: wf.ID, Status: RunPending, CreatedAt: time.Now()}
	require.NoError(t, store.Runs.CreateRun(ctx, run))

	done, err := eng.ExecuteRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, done.Status)

	// The terminal state round-trips through the database.
	got, err := eng.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}
