// Package evaluate decides whether a step's output satisfies its completion
// criterion: a deterministic rule check, optionally followed by a
// model-judged check.
//
// Rule and judge failures are ordinary results that drive the retry loop,
// never errors. Evaluation itself is hardened: an internal fault is caught
// at this boundary and reported as a failed result carrying only the error
// detail.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// judgeMaxTokens bounds the judge's completion.
const judgeMaxTokens = 512

const defaultJudgePrompt = "Evaluate if the following output meets the expected quality and completeness. " +
	`Respond ONLY in JSON: {"pass": true/false, "reason": "..."}`

// Rule applies one deterministic completion rule to output and returns
// whether it passed plus a human-readable reason.
//
// The rule set is closed; an unknown kind fails with an explicit reason
// rather than crashing.
func Rule(kind api.RuleKind, value, output string) (bool, string) {
	var passed bool

	switch kind {
	case api.RuleContains:
		passed = value != "" && output != "" && strings.Contains(output, value)
	case api.RuleRegex:
		passed = regexMatches(value, output)
	case api.RuleJSONValid:
		passed = output != "" && json.Valid([]byte(output))
	case api.RuleCodeBlockPresent:
		passed = strings.Contains(output, "```")
	default:
		return false, fmt.Sprintf("Unknown rule type: %s", kind)
	}

	verdict := "failed"
	if passed {
		verdict = "passed"
	}
	return passed, fmt.Sprintf("Rule '%s' %s", kind, verdict)
}

// regexMatches searches output with pattern in multi-line mode. An empty
// or invalid pattern fails the rule rather than erroring.
func regexMatches(pattern, output string) bool {
	if pattern == "" || output == "" {
		return false
	}
	re, err := regexp.Compile("(?s)" + pattern)
	if err != nil {
		return false
	}
	return re.MatchString(output)
}

// judgeVerdict is the JSON object the judge is instructed to return.
type judgeVerdict struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
}

// Evaluator runs the full completion evaluation for a step.
type Evaluator struct {
	client llm.Client
}

// New creates an Evaluator. client is only used when a step enables the
// model judge.
func New(client llm.Client) *Evaluator {
	return &Evaluator{client: client}
}

// Evaluate checks output against step's rule and, if the rule passes and
// the judge is enabled, against the model judge. The order is fixed and
// short-circuits: empty output fails immediately, a rule failure skips the
// judge.
//
// Evaluate never returns an error; an internal fault yields a failed
// result whose Error field carries the detail, distinct from a normal
// rule/judge failure.
func (e *Evaluator) Evaluate(ctx context.Context, output string, step *api.Step) (passed bool, result *api.EvalResult) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			result = &api.EvalResult{Error: fmt.Sprintf("evaluator panic: %v", r)}
		}
	}()

	if strings.TrimSpace(output) == "" {
		return false, &api.EvalResult{
			Reason:  "model output was empty",
			Details: &api.EvalDetails{},
		}
	}

	details := &api.EvalDetails{}

	rulePassed, ruleReason := Rule(step.RuleKind, step.RuleValue, output)
	details.RulePassed = &rulePassed
	details.RuleReason = &ruleReason

	if !rulePassed {
		return false, &api.EvalResult{Reason: ruleReason, Details: details}
	}

	if step.JudgeEnabled {
		judgePassed, judgeReason, err := e.judge(ctx, output, step.JudgePrompt, step.Model)
		if err != nil {
			return false, &api.EvalResult{Error: err.Error()}
		}
		details.JudgePassed = &judgePassed
		details.JudgeReason = &judgeReason

		if !judgePassed {
			return false, &api.EvalResult{Reason: judgeReason, Details: details}
		}
	}

	return true, &api.EvalResult{Passed: true, Details: details}
}

// judge asks the model for a pass/fail verdict on output. If the response
// is not parseable JSON it falls back to a loose heuristic: pass iff the
// substring "true" appears anywhere in the response, with the raw trimmed
// response as the reason. The heuristic is kept as-is from the original
// behavior and is a known weak point; reasoning text containing "true" can
// be misread as a pass.
func (e *Evaluator) judge(ctx context.Context, output, judgePrompt, model string) (bool, string, error) {
	if e.client == nil {
		return false, "", fmt.Errorf("model judge requires a model client")
	}

	prompt := judgePrompt
	if prompt == "" {
		prompt = defaultJudgePrompt
	}

	messages := []llm.Message{{
		Role:    "user",
		Content: prompt + "\n\n---\nOutput:\n" + output,
	}}

	res, err := e.client.Generate(ctx, messages, model, judgeMaxTokens, 0.7)
	if err != nil {
		return false, "", fmt.Errorf("judge call: %w", err)
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(res.Text), &verdict); err == nil {
		reason := verdict.Reason
		if reason == "" {
			reason = "No reason provided"
		}
		return verdict.Pass, reason, nil
	}

	pass := strings.Contains(strings.ToLower(res.Text), "true")
	return pass, strings.TrimSpace(res.Text), nil
}
