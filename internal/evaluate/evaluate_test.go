package evaluate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// stubClient returns a scripted judge response or error.
type stubClient struct {
	text  string
	err   error
	calls int
}

func (s *stubClient) Generate(ctx context.Context, messages []llm.Message, model string, maxTokens int, temperature float64) (*llm.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{Text: s.text}, nil
}

func TestRule_Contains(t *testing.T) {
	t.Parallel()

	passed, _ := Rule(api.RuleContains, "pass", "this should pass")
	require.True(t, passed)

	passed, reason := Rule(api.RuleContains, "pass", "nope")
	require.False(t, passed)
	require.Equal(t, "Rule 'contains' failed", reason)

	// An empty expectation never passes.
	passed, _ = Rule(api.RuleContains, "", "anything")
	require.False(t, passed)
}

func TestRule_Regex(t *testing.T) {
	t.Parallel()

	passed, _ := Rule(api.RuleRegex, `^#+ .*Title`, "intro\n## The Title\nbody")
	require.False(t, passed, "pattern is unanchored search, not line-anchored match")

	passed, _ = Rule(api.RuleRegex, `## The (.*)Title`, "intro\n## The Title\nbody")
	require.True(t, passed)

	// The pattern spans lines: . matches newlines.
	passed, _ = Rule(api.RuleRegex, `intro.*body`, "intro\n## The Title\nbody")
	require.True(t, passed)

	// An invalid pattern fails the rule instead of erroring.
	passed, _ = Rule(api.RuleRegex, `([`, "anything")
	require.False(t, passed)
}

func TestRule_JSONValid(t *testing.T) {
	t.Parallel()

	passed, _ := Rule(api.RuleJSONValid, "", `{"a":1}`)
	require.True(t, passed)

	passed, _ = Rule(api.RuleJSONValid, "", "not json")
	require.False(t, passed)
}

func TestRule_CodeBlockPresent(t *testing.T) {
	t.Parallel()

	passed, _ := Rule(api.RuleCodeBlockPresent, "", "```go\nx\n```")
	require.True(t, passed)

	passed, _ = Rule(api.RuleCodeBlockPresent, "", "no fences")
	require.False(t, passed)
}

func TestRule_UnknownKind(t *testing.T) {
	t.Parallel()

	passed, reason := Rule(api.RuleKind("sentiment"), "", "whatever")
	require.False(t, passed)
	require.Equal(t, "Unknown rule type: sentiment", reason)
}

func TestEvaluate_EmptyOutputFailsBeforeRule(t *testing.T) {
	t.Parallel()

	stub := &stubClient{}
	ev := New(stub)

	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "x", JudgeEnabled: true}

	passed, res := ev.Evaluate(context.Background(), "   \n  ", step)
	require.False(t, passed)
	require.Equal(t, "model output was empty", res.Reason)
	require.Nil(t, res.Details.RulePassed, "rule must not run for empty output")
	require.Zero(t, stub.calls, "judge must not run for empty output")
}

func TestEvaluate_RuleFailureSkipsJudge(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: `{"pass": true, "reason": "fine"}`}
	ev := New(stub)

	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "needle", JudgeEnabled: true}

	passed, res := ev.Evaluate(context.Background(), "haystack without it", step)
	require.False(t, passed)
	require.Equal(t, "Rule 'contains' failed", res.Reason)
	require.NotNil(t, res.Details.RulePassed)
	require.False(t, *res.Details.RulePassed)
	require.Nil(t, res.Details.JudgePassed)
	require.Zero(t, stub.calls, "judge must not be invoked when the rule fails")
}

func TestEvaluate_RulePassJudgeDisabled(t *testing.T) {
	t.Parallel()

	ev := New(nil)
	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "ok"}

	passed, res := ev.Evaluate(context.Background(), "all ok here", step)
	require.True(t, passed)
	require.True(t, res.Passed)
	require.Empty(t, res.Reason)
	require.True(t, *res.Details.RulePassed)
	require.Nil(t, res.Details.JudgePassed)
}

func TestEvaluate_JudgeRejects(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: `{"pass": false, "reason": "too shallow"}`}
	ev := New(stub)

	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "ok", JudgeEnabled: true}

	passed, res := ev.Evaluate(context.Background(), "all ok here", step)
	require.False(t, passed)
	require.Equal(t, "too shallow", res.Reason)
	require.True(t, *res.Details.RulePassed)
	require.False(t, *res.Details.JudgePassed)
	require.Equal(t, 1, stub.calls)
}

func TestEvaluate_JudgeAccepts(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: `{"pass": true, "reason": "solid"}`}
	ev := New(stub)

	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "ok", JudgeEnabled: true}

	passed, res := ev.Evaluate(context.Background(), "all ok here", step)
	require.True(t, passed)
	require.True(t, *res.Details.JudgePassed)
	require.Equal(t, "solid", *res.Details.JudgeReason)
}

// A judge response that is not JSON falls back to the substring heuristic.
func TestEvaluate_JudgeHeuristicFallback(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: "Yes, this is TRUE to the brief.\n"}
	ev := New(stub)

	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "ok", JudgeEnabled: true}

	passed, res := ev.Evaluate(context.Background(), "all ok here", step)
	require.True(t, passed)
	require.Equal(t, "Yes, this is TRUE to the brief.", *res.Details.JudgeReason)

	stub2 := &stubClient{text: "Definitely not acceptable."}
	ev2 := New(stub2)
	passed, res = ev2.Evaluate(context.Background(), "all ok here", step)
	require.False(t, passed)
	require.Equal(t, "Definitely not acceptable.", res.Reason)
}

func TestEvaluate_JudgeCallErrorBecomesErrorResult(t *testing.T) {
	t.Parallel()

	stub := &stubClient{err: errors.New("connection reset")}
	ev := New(stub)

	step := &api.Step{RuleKind: api.RuleContains, RuleValue: "ok", JudgeEnabled: true}

	passed, res := ev.Evaluate(context.Background(), "all ok here", step)
	require.False(t, passed)
	require.Empty(t, res.Reason)
	require.Contains(t, res.Error, "connection reset")
	require.Nil(t, res.Details, "a crashed evaluation reports only the error")
}
