package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haikala/weft/pkg/api"
)

// The conformance helpers below exercise the store interfaces against any
// backend; each backend test file wires them up with its own setup.

func sampleWorkflow(id string, created time.Time) *api.Workflow {
	return &api.Workflow{
		ID:          id,
		Name:        "pipeline-" + id,
		Description: "two-step generation pipeline",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func sampleStep(id, workflowID string, position int, created time.Time) *api.Step {
	return &api.Step{
		ID:             id,
		WorkflowID:     workflowID,
		Position:       position,
		Name:           "step-" + id,
		PromptTemplate: "Write about {{context}}",
		Model:          "kimi-k2p5",
		MaxTokens:      4096,
		Temperature:    0.7,
		RetryLimit:     3,
		ContextMode:    api.ContextFull,
		RuleKind:       api.RuleContains,
		RuleValue:      "done",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func testWorkflowStore(t *testing.T, store WorkflowStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	wf := sampleWorkflow("wf-1", now)
	wf.Steps = []api.Step{
		*sampleStep("st-2", "wf-1", 2, now),
		*sampleStep("st-1", "wf-1", 1, now),
	}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	got, err := store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got.Name != wf.Name || got.Description != wf.Description {
		t.Fatalf("workflow round-trip mismatch: got %+v", got)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got.Steps))
	}
	if got.Steps[0].ID != "st-1" || got.Steps[1].ID != "st-2" {
		t.Fatalf("steps not ordered by position: %q, %q", got.Steps[0].ID, got.Steps[1].ID)
	}
	if got.Steps[0].Temperature != 0.7 || got.Steps[0].MaxTokens != 4096 {
		t.Fatalf("step generation params mismatch: %+v", got.Steps[0])
	}

	// Older workflow should list after the newer one.
	older := sampleWorkflow("wf-0", now.Add(-time.Hour))
	if err := store.CreateWorkflow(ctx, older); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	all, err := store.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 workflows, got %d", len(all))
	}
	if all[0].ID != "wf-1" || all[1].ID != "wf-0" {
		t.Fatalf("workflows not ordered newest first: %q, %q", all[0].ID, all[1].ID)
	}

	wf.Name = "renamed"
	wf.UpdatedAt = now.Add(time.Minute)
	if err := store.UpdateWorkflow(ctx, wf); err != nil {
		t.Fatalf("UpdateWorkflow failed: %v", err)
	}
	got, err = store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("expected renamed workflow, got %q", got.Name)
	}

	step := sampleStep("st-3", "wf-1", 3, now)
	step.RuleKind = api.RuleJSONValid
	step.JudgeEnabled = true
	step.JudgePrompt = "Is the JSON complete?"
	if err := store.CreateStep(ctx, step); err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}
	step.Name = "adjusted"
	if err := store.UpdateStep(ctx, step); err != nil {
		t.Fatalf("UpdateStep failed: %v", err)
	}
	got, err = store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got.Steps))
	}
	last := got.Steps[2]
	if last.Name != "adjusted" || !last.JudgeEnabled || last.JudgePrompt != "Is the JSON complete?" {
		t.Fatalf("updated step mismatch: %+v", last)
	}

	if err := store.DeleteStep(ctx, "st-3"); err != nil {
		t.Fatalf("DeleteStep failed: %v", err)
	}
	if err := store.DeleteStep(ctx, "st-3"); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}

	if err := store.DeleteWorkflow(ctx, "wf-0"); err != nil {
		t.Fatalf("DeleteWorkflow failed: %v", err)
	}
	if _, err := store.GetWorkflow(ctx, "wf-0"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
	if err := store.UpdateWorkflow(ctx, sampleWorkflow("missing", now)); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func testRunStore(t *testing.T, store RunStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	run := &api.Run{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     api.RunPending,
		CreatedAt:  now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != api.RunPending || got.StartedAt != nil {
		t.Fatalf("initial run mismatch: %+v", got)
	}

	started := now.Add(time.Second)
	run.Status = api.RunRunning
	run.StartedAt = &started
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != api.RunRunning {
		t.Fatalf("expected running, got %q", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("expected StartedAt %v, got %v", started, got.StartedAt)
	}

	other := &api.Run{
		ID:         "run-2",
		WorkflowID: "wf-2",
		Status:     api.RunCompleted,
		CreatedAt:  now.Add(time.Minute),
	}
	if err := store.CreateRun(ctx, other); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, api.RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Fatalf("runs not ordered newest first: %q", runs[0].ID)
	}

	runs, err = store.ListRuns(ctx, api.RunListOptions{WorkflowID: "wf-1"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("workflow filter mismatch: %+v", runs)
	}

	runs, err = store.ListRuns(ctx, api.RunListOptions{Status: api.RunCompleted})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("status filter mismatch: %+v", runs)
	}

	passed := false
	ruleReason := "Rule 'contains' failed"
	sr := &api.StepRun{
		ID:            "sr-1",
		RunID:         "run-1",
		StepID:        "st-1",
		Position:      1,
		Status:        api.StepRunning,
		AttemptNumber: 1,
		InputContext:  "seed",
		CreatedAt:     now,
	}
	if err := store.CreateStepRun(ctx, sr); err != nil {
		t.Fatalf("CreateStepRun failed: %v", err)
	}

	completed := now.Add(2 * time.Second)
	sr.Status = api.StepFailed
	sr.AttemptNumber = 2
	sr.Output = "partial output"
	sr.FailureReason = ruleReason
	sr.CompletedAt = &completed
	sr.Evaluation = &api.EvalResult{
		Passed: false,
		Reason: ruleReason,
		Details: &api.EvalDetails{
			RulePassed: &passed,
			RuleReason: &ruleReason,
		},
	}
	if err := store.UpdateStepRun(ctx, sr); err != nil {
		t.Fatalf("UpdateStepRun failed: %v", err)
	}

	later := &api.StepRun{
		ID:        "sr-2",
		RunID:     "run-1",
		StepID:    "st-2",
		Position:  2,
		Status:    api.StepPending,
		CreatedAt: now,
	}
	if err := store.CreateStepRun(ctx, later); err != nil {
		t.Fatalf("CreateStepRun failed: %v", err)
	}

	stepRuns, err := store.ListStepRuns(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListStepRuns failed: %v", err)
	}
	if len(stepRuns) != 2 {
		t.Fatalf("expected 2 step runs, got %d", len(stepRuns))
	}
	if stepRuns[0].ID != "sr-1" || stepRuns[1].ID != "sr-2" {
		t.Fatalf("step runs not ordered by position: %q, %q", stepRuns[0].ID, stepRuns[1].ID)
	}
	ev := stepRuns[0].Evaluation
	if ev == nil || ev.Passed || ev.Reason != ruleReason {
		t.Fatalf("evaluation round-trip mismatch: %+v", ev)
	}
	if ev.Details == nil || ev.Details.RulePassed == nil || *ev.Details.RulePassed {
		t.Fatalf("rule detail round-trip mismatch: %+v", ev.Details)
	}
	if ev.Details.JudgePassed != nil {
		t.Fatalf("expected no judge detail, got %+v", ev.Details)
	}

	for i, kind := range []api.CallKind{api.CallMain, api.CallRetry} {
		call := &api.ModelCallLog{
			ID:            "call-" + string(rune('1'+i)),
			StepRunID:     "sr-1",
			Kind:          kind,
			AttemptNumber: i + 1,
			Prompt:        "[]",
			Response:      "partial output",
			InputTokens:   10,
			OutputTokens:  20,
			TotalTokens:   30,
			CostUSD:       0.000027,
			Model:         "kimi-k2p5",
			LatencyMS:     42,
			CreatedAt:     now.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendModelCall(ctx, call); err != nil {
			t.Fatalf("AppendModelCall failed: %v", err)
		}
	}
	calls, err := store.ListModelCalls(ctx, "sr-1")
	if err != nil {
		t.Fatalf("ListModelCalls failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(calls))
	}
	if calls[0].Kind != api.CallMain || calls[1].Kind != api.CallRetry {
		t.Fatalf("model calls out of order: %q, %q", calls[0].Kind, calls[1].Kind)
	}
	if calls[0].TotalTokens != 30 || calls[0].CostUSD != 0.000027 {
		t.Fatalf("model call round-trip mismatch: %+v", calls[0])
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.UpdateStepRun(ctx, &api.StepRun{ID: "missing"}); !errors.Is(err, ErrStepRunNotFound) {
		t.Fatalf("expected ErrStepRunNotFound, got %v", err)
	}
}
