package weft

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// WorkflowBuilder provides a fluent API for defining pipelines:
//
//	wf := weft.New("summarize-and-review").
//	    Step("summarize", "Summarize: {{context}}",
//	        weft.WithRule(weft.RuleRegex, "."),
//	    ).
//	    Step("review", "Review this summary:\n{{context}}",
//	        weft.WithRule(weft.RuleContains, "verdict"),
//	    ).
//	    Build()
type WorkflowBuilder struct {
	wf api.Workflow
}

// StepOption overrides a default on a step being built.
type StepOption func(*api.Step)

// New creates a new workflow builder with the given name.
func New(name string) *WorkflowBuilder {
	if name == "" {
		panic("weft: workflow name must not be empty")
	}
	return &WorkflowBuilder{
		wf: api.Workflow{
			ID:   uuid.New().String(),
			Name: name,
		},
	}
}

// Describe sets the workflow description.
func (b *WorkflowBuilder) Describe(description string) *WorkflowBuilder {
	b.wf.Description = description
	return b
}

// Step appends a step with the given prompt template. Position is assigned
// from the order of Step calls; unset fields get the package defaults
// (model kimi-k2p5, 4096 max tokens, temperature 0.7, retry limit 3,
// summary context mode).
func (b *WorkflowBuilder) Step(name, promptTemplate string, opts ...StepOption) *WorkflowBuilder {
	if name == "" {
		panic("weft: step name must not be empty")
	}
	if promptTemplate == "" {
		panic(fmt.Sprintf("weft: step %q has empty prompt template", name))
	}

	step := api.Step{
		ID:             uuid.New().String(),
		WorkflowID:     b.wf.ID,
		Position:       len(b.wf.Steps) + 1,
		Name:           name,
		PromptTemplate: promptTemplate,
		Model:          llm.DefaultPriceModel,
		MaxTokens:      4096,
		Temperature:    0.7,
		RetryLimit:     3,
		ContextMode:    api.ContextSummary,
	}
	for _, opt := range opts {
		opt(&step)
	}
	if step.RuleKind == "" {
		panic(fmt.Sprintf("weft: step %q has no completion rule; use WithRule", name))
	}
	b.wf.Steps = append(b.wf.Steps, step)
	return b
}

// Build returns the workflow with creation timestamps set.
func (b *WorkflowBuilder) Build() *Workflow {
	wf := b.wf
	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	for i := range wf.Steps {
		wf.Steps[i].CreatedAt = now
		wf.Steps[i].UpdatedAt = now
	}
	return &wf
}

// Create builds the workflow and persists it through store.
func (b *WorkflowBuilder) Create(ctx context.Context, store WorkflowStore) (*Workflow, error) {
	wf := b.Build()
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// WithModel sets the model used for the step's generation calls.
func WithModel(model string) StepOption {
	return func(s *api.Step) { s.Model = model }
}

// WithMaxTokens sets the generation token cap.
func WithMaxTokens(n int) StepOption {
	return func(s *api.Step) { s.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) StepOption {
	return func(s *api.Step) { s.Temperature = t }
}

// WithRetryLimit sets how many retries follow a failed first attempt.
func WithRetryLimit(n int) StepOption {
	return func(s *api.Step) { s.RetryLimit = n }
}

// WithContextMode sets how the step's output is reduced before being
// forwarded to the next step.
func WithContextMode(mode ContextMode) StepOption {
	return func(s *api.Step) { s.ContextMode = mode }
}

// WithRule sets the step's completion rule.
func WithRule(kind RuleKind, value string) StepOption {
	return func(s *api.Step) {
		s.RuleKind = kind
		s.RuleValue = value
	}
}

// WithJudge enables the model judge for the step. prompt may be empty to
// use the built-in judge prompt.
func WithJudge(prompt string) StepOption {
	return func(s *api.Step) {
		s.JudgeEnabled = true
		s.JudgePrompt = prompt
	}
}
