package api

import (
	"context"
	"time"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final. A run that reached a
// terminal status is never re-entered.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus represents the lifecycle state of a single step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ContextMode selects how a step's output is reduced before being passed
// to the next step.
type ContextMode string

const (
	// ContextFull forwards the raw output unchanged.
	ContextFull ContextMode = "full"
	// ContextCodeOnly forwards the concatenated contents of fenced code blocks.
	ContextCodeOnly ContextMode = "code_only"
	// ContextJSONOnly forwards the first balanced span that parses as JSON.
	ContextJSONOnly ContextMode = "json_only"
	// ContextSummary forwards a short model-generated summary of the output.
	ContextSummary ContextMode = "summary"
)

// RuleKind identifies a deterministic completion rule. The set is closed;
// an unrecognized kind evaluates to a structured rule failure, never a crash.
type RuleKind string

const (
	RuleContains         RuleKind = "contains"
	RuleRegex            RuleKind = "regex"
	RuleJSONValid        RuleKind = "json_valid"
	RuleCodeBlockPresent RuleKind = "code_block_present"
)

// CallKind tags a model call as the first attempt of a step or a retry.
type CallKind string

const (
	CallMain  CallKind = "main"
	CallRetry CallKind = "retry"
)

// Workflow is a named, ordered collection of steps. Runs snapshot the step
// list as it exists when they start; editing a workflow never affects a run
// already in flight.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Step is one unit of work in a workflow: a prompt template bound to a
// model, a completion rule, and a context-forwarding mode.
//
// The executor substitutes the previous step's extracted context for every
// {{context}} token in PromptTemplate (the empty string for the first
// step); other {{...}} text is sent to the model verbatim.
type Step struct {
	ID             string      `json:"id"`
	WorkflowID     string      `json:"workflow_id"`
	Position       int         `json:"position"`
	Name           string      `json:"name"`
	PromptTemplate string      `json:"prompt_template"`
	Model          string      `json:"model"`
	MaxTokens      int         `json:"max_tokens"`
	Temperature    float64     `json:"temperature"`
	RetryLimit     int         `json:"retry_limit"`
	ContextMode    ContextMode `json:"context_mode"`
	RuleKind       RuleKind    `json:"rule_type"`
	RuleValue      string      `json:"rule_value,omitempty"`
	JudgeEnabled   bool        `json:"llm_judge_enabled"`
	JudgePrompt    string      `json:"llm_judge_prompt,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Run is one execution of a workflow. It is created pending, moved to
// running by the engine, and always finishes completed or failed.
type Run struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflow_id"`
	Status        RunStatus  `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StepRun records one step's execution within a run, across all of its
// retry attempts. It is created immediately before the first attempt and
// finalized before the next step's StepRun begins; at most one StepRun per
// run is non-terminal at any time.
type StepRun struct {
	ID               string      `json:"id"`
	RunID            string      `json:"run_id"`
	StepID           string      `json:"step_id"`
	Position         int         `json:"position"`
	Status           StepStatus  `json:"status"`
	AttemptNumber    int         `json:"attempt_number"`
	InputContext     string      `json:"input_context,omitempty"`
	Output           string      `json:"output,omitempty"`
	ExtractedContext string      `json:"extracted_context,omitempty"`
	Evaluation       *EvalResult `json:"evaluation_result,omitempty"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// ModelCallLog is an append-only record of one remote model call made
// during a step-run attempt. Logs are written before evaluation, so they
// exist even for attempts that fail.
type ModelCallLog struct {
	ID            string    `json:"id"`
	StepRunID     string    `json:"step_run_id"`
	Kind          CallKind  `json:"call_type"`
	AttemptNumber int       `json:"attempt_number"`
	Prompt        string    `json:"prompt"`
	Response      string    `json:"response"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	CostUSD       float64   `json:"cost_usd"`
	Model         string    `json:"model"`
	LatencyMS     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// EvalDetails breaks an evaluation down into its rule and judge phases.
// Judge fields are nil when the judge did not run.
type EvalDetails struct {
	RulePassed  *bool   `json:"rule_passed"`
	RuleReason  *string `json:"rule_reason"`
	JudgePassed *bool   `json:"llm_judge_passed"`
	JudgeReason *string `json:"llm_judge_reason"`
}

// EvalResult is the structured outcome of a completion evaluation.
//
// On the normal path Passed/Reason/Details are populated and Error is
// empty. If evaluation itself faults, only Error is set.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Reason  string       `json:"reason,omitempty"`
	Details *EvalDetails `json:"details,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// FailureReason returns the reason a caller should surface for a failed
// evaluation: the evaluator's reason if present, the internal error if the
// evaluator faulted, and a generic fallback otherwise.
func (r *EvalResult) FailureReason() string {
	if r == nil {
		return "evaluation produced no result"
	}
	if r.Reason != "" {
		return r.Reason
	}
	if r.Error != "" {
		return r.Error
	}
	return "evaluation failed without a reason"
}

// RunListOptions filters ListRuns. Zero values mean "no filter".
type RunListOptions struct {
	WorkflowID string
	Status     RunStatus
}

// Engine executes workflow runs.
//
// ExecuteRun drives one pending run synchronously to a terminal state:
// steps strictly in position order, one non-terminal StepRun at a time,
// every mutation persisted as it happens. A run that is not pending is
// returned unchanged, so double-starts are harmless. Callers wanting
// background execution invoke it on their own goroutine, one per run.
type Engine interface {
	ExecuteRun(ctx context.Context, runID string) (*Run, error)

	// GetRun looks up a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*Run, error)
}
