// Package persistence defines the storage contracts the engine and HTTP
// layer depend on, with in-memory, SQLite, Postgres and Redis
// implementations.
package persistence

import (
	"context"
	"errors"

	"github.com/haikala/weft/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepNotFound is returned when a workflow step does not exist.
	ErrStepNotFound = errors.New("step not found")

	// ErrRunNotFound is returned when a run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrStepRunNotFound is returned when a step run does not exist.
	ErrStepRunNotFound = errors.New("step run not found")
)

// WorkflowStore handles storage of workflow definitions and their steps.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *api.Workflow) error
	// GetWorkflow returns the workflow with its steps in ascending
	// position order.
	GetWorkflow(ctx context.Context, id string) (*api.Workflow, error)
	// ListWorkflows returns all workflows without their steps.
	ListWorkflows(ctx context.Context) ([]*api.Workflow, error)
	// UpdateWorkflow updates name and description.
	UpdateWorkflow(ctx context.Context, wf *api.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	CreateStep(ctx context.Context, step *api.Step) error
	UpdateStep(ctx context.Context, step *api.Step) error
	DeleteStep(ctx context.Context, id string) error
}

// RunStore handles storage of runs, step runs and model-call logs.
//
// ModelCallLog rows are append-only; there is deliberately no update
// operation for them.
type RunStore interface {
	CreateRun(ctx context.Context, run *api.Run) error
	GetRun(ctx context.Context, id string) (*api.Run, error)
	UpdateRun(ctx context.Context, run *api.Run) error
	ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error)

	CreateStepRun(ctx context.Context, sr *api.StepRun) error
	UpdateStepRun(ctx context.Context, sr *api.StepRun) error
	// ListStepRuns returns a run's step runs in ascending position order.
	ListStepRuns(ctx context.Context, runID string) ([]*api.StepRun, error)

	AppendModelCall(ctx context.Context, log *api.ModelCallLog) error
	// ListModelCalls returns a step run's call logs in creation order.
	ListModelCalls(ctx context.Context, stepRunID string) ([]*api.ModelCallLog, error)
}

// Persistence bundles the stores the engine needs. Implementations may be
// a single object implementing both interfaces.
type Persistence struct {
	Workflows WorkflowStore
	Runs      RunStore
}
