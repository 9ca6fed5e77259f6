package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunStart is called once when a pending run transitions to running,
	// before the first step executes.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when a run reaches RunCompleted.
	OnRunCompleted(ctx context.Context, run *Run)

	// OnRunFailed is called when a run reaches RunFailed.
	OnRunFailed(ctx context.Context, run *Run, reason string)

	// OnStepAttempt is called before each attempt of a step.
	// attempt is 1-based and counts retries.
	OnStepAttempt(ctx context.Context, run *Run, step *Step, attempt int)

	// OnStepCompleted is called after a step finishes all of its attempts,
	// for both passes and failures.
	OnStepCompleted(ctx context.Context, run *Run, step *Step, passed bool, attempts int, duration time.Duration)

	// OnModelCall is called after a remote model call has been logged,
	// including calls whose attempt later fails evaluation.
	OnModelCall(ctx context.Context, run *Run, log *ModelCallLog)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)                 {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run)             {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, reason string) {}
func (NoopObserver) OnStepAttempt(ctx context.Context, run *Run, step *Step, attempt int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, run *Run, step *Step, passed bool, attempts int, d time.Duration) {
}
func (NoopObserver) OnModelCall(ctx context.Context, run *Run, log *ModelCallLog) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, reason string) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, reason)
	}
}

func (c *CompositeObserver) OnStepAttempt(ctx context.Context, run *Run, step *Step, attempt int) {
	for _, o := range c.observers {
		o.OnStepAttempt(ctx, run, step, attempt)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run *Run, step *Step, passed bool, attempts int, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, step, passed, attempts, d)
	}
}

func (c *CompositeObserver) OnModelCall(ctx context.Context, run *Run, log *ModelCallLog) {
	for _, o := range c.observers {
		o.OnModelCall(ctx, run, log)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step / model-call
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("run_id", run.ID),
		slog.String("workflow_id", run.WorkflowID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("run_id", run.ID),
		slog.String("workflow_id", run.WorkflowID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, reason string) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("run_id", run.ID),
		slog.String("workflow_id", run.WorkflowID),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnStepAttempt(ctx context.Context, run *Run, step *Step, attempt int) {
	o.Logger.DebugContext(ctx, "step_attempt",
		slog.String("run_id", run.ID),
		slog.String("step", step.Name),
		slog.Int("position", step.Position),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run *Run, step *Step, passed bool, attempts int, d time.Duration) {
	level := slog.LevelInfo
	if !passed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("run_id", run.ID),
		slog.String("step", step.Name),
		slog.Int("position", step.Position),
		slog.Bool("passed", passed),
		slog.Int("attempts", attempts),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnModelCall(ctx context.Context, run *Run, log *ModelCallLog) {
	o.Logger.DebugContext(ctx, "model_call",
		slog.String("run_id", run.ID),
		slog.String("step_run_id", log.StepRunID),
		slog.String("kind", string(log.Kind)),
		slog.String("model", log.Model),
		slog.Int("input_tokens", log.InputTokens),
		slog.Int("output_tokens", log.OutputTokens),
		slog.Float64("cost_usd", log.CostUSD),
		slog.Int64("latency_ms", log.LatencyMS),
	)
}

// BasicMetrics collects simple counters for runs, attempts and model calls.
// It implements Observer and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	stepAttempts  atomic.Int64
	modelCalls    atomic.Int64
	totalTokens   atomic.Int64
	costMicroUSD  atomic.Int64 // atomics hold integers, so cost is kept in micro-USD
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	ActiveRuns    int64
	StepAttempts  int64
	ModelCalls    int64
	TotalTokens   int64
	CostUSD       float64
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, reason string) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepAttempt(ctx context.Context, run *Run, step *Step, attempt int) {
	m.stepAttempts.Add(1)
}

func (m *BasicMetrics) OnModelCall(ctx context.Context, run *Run, log *ModelCallLog) {
	m.modelCalls.Add(1)
	m.totalTokens.Add(int64(log.TotalTokens))
	m.costMicroUSD.Add(int64(log.CostUSD * 1e6))
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()

	return BasicMetricsSnapshot{
		RunsStarted:   started,
		RunsCompleted: completed,
		RunsFailed:    failed,
		ActiveRuns:    started - completed - failed,
		StepAttempts:  m.stepAttempts.Load(),
		ModelCalls:    m.modelCalls.Load(),
		TotalTokens:   m.totalTokens.Load(),
		CostUSD:       float64(m.costMicroUSD.Load()) / 1e6,
	}
}
