// Package engine drives workflow runs: it walks a run's steps in position
// order, calls the model, evaluates each attempt, and persists every state
// transition as it happens.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haikala/weft/internal/evaluate"
	"github.com/haikala/weft/internal/extract"
	"github.com/haikala/weft/internal/persistence"
	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// engineImpl is a simple, synchronous, in-process engine implementation.
type engineImpl struct {
	workflows persistence.WorkflowStore
	runs      persistence.RunStore
	client    llm.Client
	evaluator *evaluate.Evaluator
	extractor *extract.Extractor
	observer  api.Observer
	ids       func() string
	now       func() time.Time
}

// Config describes how to construct an engine.
type Config struct {
	Store    persistence.Persistence
	Client   llm.Client
	Observer api.Observer

	// IDs generates identifiers for step runs and model call logs.
	// Defaults to random UUIDs.
	IDs func() string
}

// New creates an Engine from the given configuration.
func New(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = func() string { return uuid.New().String() }
	}
	return &engineImpl{
		workflows: cfg.Store.Workflows,
		runs:      cfg.Store.Runs,
		client:    cfg.Client,
		evaluator: evaluate.New(cfg.Client),
		extractor: extract.New(cfg.Client),
		observer:  obs,
		ids:       ids,
		now:       time.Now,
	}
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	return e.runs.GetRun(ctx, id)
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	return e.runs.ListRuns(ctx, opts)
}

// ExecuteRun drives a pending run to a terminal state. Calling it on a run
// that already left pending returns the run unchanged.
func (e *engineImpl) ExecuteRun(ctx context.Context, runID string) (*api.Run, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != api.RunPending {
		return run, nil
	}

	wf, err := e.workflows.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return e.failRun(ctx, run, fmt.Sprintf("workflow not found: %s", run.WorkflowID))
		}
		return nil, err
	}

	started := e.now()
	run.Status = api.RunRunning
	run.StartedAt = &started
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	e.observer.OnRunStart(ctx, run)

	return e.executeSteps(ctx, run, wf.Steps)
}

func (e *engineImpl) executeSteps(ctx context.Context, run *api.Run, steps []api.Step) (*api.Run, error) {
	accumulated := ""

	for i := range steps {
		step := &steps[i]

		select {
		case <-ctx.Done():
			return e.failRun(ctx, run, ctx.Err().Error())
		default:
		}

		extracted, failReason, err := e.executeStep(ctx, run, step, accumulated)
		if err != nil {
			// A store fault must not leave the run non-terminal.
			_, _ = e.failRun(ctx, run, err.Error())
			return nil, err
		}
		if failReason != "" {
			return e.failRun(ctx, run, failReason)
		}
		accumulated = extracted
	}

	completed := e.now()
	run.Status = api.RunCompleted
	run.CompletedAt = &completed
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		_, _ = e.failRun(ctx, run, err.Error())
		return nil, err
	}
	e.observer.OnRunCompleted(ctx, run)
	return run, nil
}

// executeStep runs one step across all of its attempts. It returns the
// extracted context on success, a non-empty run failure reason if the step
// failed terminally, and an error only for store faults.
func (e *engineImpl) executeStep(ctx context.Context, run *api.Run, step *api.Step, accumulated string) (string, string, error) {
	stepStart := e.now()
	stepRun := &api.StepRun{
		ID:            e.ids(),
		RunID:         run.ID,
		StepID:        step.ID,
		Position:      step.Position,
		Status:        api.StepRunning,
		AttemptNumber: 1,
		InputContext:  accumulated,
		StartedAt:     &stepStart,
		CreatedAt:     stepStart,
	}
	if err := e.runs.CreateStepRun(ctx, stepRun); err != nil {
		return "", "", err
	}

	feedback := ""
	lastReason := ""
	attempts := step.RetryLimit + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		stepRun.AttemptNumber = attempt
		if attempt > 1 {
			if err := e.runs.UpdateStepRun(ctx, stepRun); err != nil {
				return "", "", err
			}
		}
		e.observer.OnStepAttempt(ctx, run, step, attempt)

		res, err := e.executeAttempt(ctx, run, stepRun, step, accumulated, feedback, attempt)
		if err != nil {
			// Every attempt fault, configuration errors included, consumes
			// an attempt and feeds the next retry.
			lastReason = err.Error()
			stepRun.Evaluation = &api.EvalResult{Error: lastReason}
			feedback = fmt.Sprintf("Attempt %d failed. Reason: %s", attempt, lastReason)
			continue
		}

		stepRun.Output = res.output
		stepRun.Evaluation = res.eval

		if !res.passed {
			lastReason = res.eval.FailureReason()
			feedback = fmt.Sprintf("Attempt %d failed. Reason: %s", attempt, lastReason)
			continue
		}

		completed := e.now()
		stepRun.Status = api.StepCompleted
		stepRun.ExtractedContext = res.extracted
		stepRun.CompletedAt = &completed
		if err := e.runs.UpdateStepRun(ctx, stepRun); err != nil {
			return "", "", err
		}
		e.observer.OnStepCompleted(ctx, run, step, true, attempt, completed.Sub(stepStart))
		return res.extracted, "", nil
	}

	if err := e.finishStepFailed(ctx, run, step, stepRun, stepStart, attempts, stepRun.Evaluation, lastReason); err != nil {
		return "", "", err
	}
	return "", fmt.Sprintf(
		"step %q failed after %d retries: %s", step.Name, step.RetryLimit, lastReason), nil
}

// finishStepFailed persists a step run's terminal failed state and emits
// the step-completed event. The caller turns the failure into a run
// failure.
func (e *engineImpl) finishStepFailed(
	ctx context.Context,
	run *api.Run,
	step *api.Step,
	stepRun *api.StepRun,
	stepStart time.Time,
	attempts int,
	eval *api.EvalResult,
	reason string,
) error {
	completed := e.now()
	stepRun.Status = api.StepFailed
	stepRun.Evaluation = eval
	stepRun.FailureReason = reason
	stepRun.CompletedAt = &completed
	if err := e.runs.UpdateStepRun(ctx, stepRun); err != nil {
		return err
	}
	e.observer.OnStepCompleted(ctx, run, step, false, attempts, completed.Sub(stepStart))
	return nil
}

// failRun moves the run to failed and records the reason.
func (e *engineImpl) failRun(ctx context.Context, run *api.Run, reason string) (*api.Run, error) {
	completed := e.now()
	run.Status = api.RunFailed
	run.FailureReason = reason
	run.CompletedAt = &completed
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	e.observer.OnRunFailed(ctx, run, reason)
	return run, nil
}
