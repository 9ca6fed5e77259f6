package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// contextPlaceholder is the substitution point for the previous step's
// extracted context. Other {{...}} tokens in a template are plain text.
const contextPlaceholder = "{{context}}"

const retryFeedbackTemplate = "Previous attempt failed. Feedback: %s\n" +
	"Please address the above and try again. Your revised response:"

// attemptResult is the outcome of one step attempt: the raw model output
// and the context extracted from it for the next step.
type attemptResult struct {
	output    string
	extracted string
	eval      *api.EvalResult
	passed    bool
}

// executeAttempt performs one attempt of a step: prompt assembly, the model
// call, the call log write, evaluation, and context extraction. feedback is
// empty for the first attempt and carries the previous failure reason on
// retries.
func (e *engineImpl) executeAttempt(
	ctx context.Context,
	run *api.Run,
	stepRun *api.StepRun,
	step *api.Step,
	accumulated string,
	feedback string,
	attempt int,
) (*attemptResult, error) {
	prompt, err := renderPrompt(step.PromptTemplate, accumulated)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{}
	if feedback != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: fmt.Sprintf(retryFeedbackTemplate, feedback),
		})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	result, err := e.client.Generate(ctx, messages, step.Model, step.MaxTokens, step.Temperature)
	if err != nil {
		return nil, err
	}

	kind := api.CallMain
	if feedback != "" {
		kind = api.CallRetry
	}

	// The call log is written before evaluation so a record exists even if
	// the attempt is rejected.
	log, err := e.logModelCall(ctx, stepRun, step, kind, attempt, messages, result)
	if err != nil {
		return nil, err
	}
	e.observer.OnModelCall(ctx, run, log)

	passed, eval := e.evaluator.Evaluate(ctx, result.Text, step)

	// Extraction runs on every attempt, passed or not; an extraction fault
	// fails the attempt even when the rule was satisfied.
	extracted, err := e.extractor.Extract(ctx, result.Text, step.ContextMode, step.Model)
	if err != nil {
		return nil, err
	}
	if step.ContextMode != api.ContextFull && strings.TrimSpace(extracted) == "" {
		// Fall back to the raw output rather than starving the next step.
		extracted = strings.TrimSpace(result.Text)
	}
	if strings.TrimSpace(extracted) == "" {
		return nil, api.NewConfigError(
			"step %q produced no usable context for mode %q", step.Name, step.ContextMode)
	}

	return &attemptResult{
		output:    result.Text,
		extracted: extracted,
		eval:      eval,
		passed:    passed,
	}, nil
}

// renderPrompt substitutes the accumulated context into the template.
// Other {{...}} tokens are ordinary prompt text and pass through to the
// model; only the {{context}} placeholder itself may not survive
// substitution (it can re-enter through the substituted context).
func renderPrompt(template, accumulated string) (string, error) {
	prompt := strings.ReplaceAll(template, contextPlaceholder, accumulated)
	if strings.Contains(prompt, contextPlaceholder) {
		return "", api.NewConfigError("context placeholder %s was not replaced", contextPlaceholder)
	}
	return prompt, nil
}

func (e *engineImpl) logModelCall(
	ctx context.Context,
	stepRun *api.StepRun,
	step *api.Step,
	kind api.CallKind,
	attempt int,
	messages []llm.Message,
	result *llm.Result,
) (*api.ModelCallLog, error) {
	promptJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	log := &api.ModelCallLog{
		ID:            e.ids(),
		StepRunID:     stepRun.ID,
		Kind:          kind,
		AttemptNumber: attempt,
		Prompt:        string(promptJSON),
		Response:      result.Text,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		TotalTokens:   result.TotalTokens(),
		CostUSD:       result.CostUSD,
		Model:         step.Model,
		LatencyMS:     result.Latency.Milliseconds(),
		CreatedAt:     e.now(),
	}
	if err := e.runs.AppendModelCall(ctx, log); err != nil {
		return nil, err
	}
	return log, nil
}
