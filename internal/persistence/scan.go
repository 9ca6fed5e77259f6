package persistence

import (
	"database/sql"
	"strings"

	"github.com/haikala/weft/pkg/api"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*api.Workflow, error) {
	var wf api.Workflow
	var created, updated string
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if wf.CreatedAt, err = parseTextTime(created); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = parseTextTime(updated); err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanStep(row rowScanner) (*api.Step, error) {
	var step api.Step
	var mode, kind string
	var created, updated string
	err := row.Scan(
		&step.ID, &step.WorkflowID, &step.Position, &step.Name, &step.PromptTemplate,
		&step.Model, &step.MaxTokens, &step.Temperature, &step.RetryLimit, &mode,
		&kind, &step.RuleValue, &step.JudgeEnabled, &step.JudgePrompt,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	step.ContextMode = api.ContextMode(mode)
	step.RuleKind = api.RuleKind(kind)
	if step.CreatedAt, err = parseTextTime(created); err != nil {
		return nil, err
	}
	if step.UpdatedAt, err = parseTextTime(updated); err != nil {
		return nil, err
	}
	return &step, nil
}

func scanRun(row rowScanner) (*api.Run, error) {
	var run api.Run
	var status, created string
	var started, completed sql.NullString
	err := row.Scan(
		&run.ID, &run.WorkflowID, &status, &run.FailureReason,
		&started, &completed, &created,
	)
	if err != nil {
		return nil, err
	}
	run.Status = api.RunStatus(status)
	if run.StartedAt, err = parseTextTimePtr(started); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseTextTimePtr(completed); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTextTime(created); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanStepRun(row rowScanner) (*api.StepRun, error) {
	var sr api.StepRun
	var status, created string
	var eval, started, completed sql.NullString
	err := row.Scan(
		&sr.ID, &sr.RunID, &sr.StepID, &sr.Position, &status, &sr.AttemptNumber,
		&sr.InputContext, &sr.Output, &sr.ExtractedContext, &eval,
		&sr.FailureReason, &started, &completed, &created,
	)
	if err != nil {
		return nil, err
	}
	sr.Status = api.StepStatus(status)
	if sr.Evaluation, err = decodeEval(eval); err != nil {
		return nil, err
	}
	if sr.StartedAt, err = parseTextTimePtr(started); err != nil {
		return nil, err
	}
	if sr.CompletedAt, err = parseTextTimePtr(completed); err != nil {
		return nil, err
	}
	if sr.CreatedAt, err = parseTextTime(created); err != nil {
		return nil, err
	}
	return &sr, nil
}

func scanModelCall(row rowScanner) (*api.ModelCallLog, error) {
	var log api.ModelCallLog
	var kind, created string
	err := row.Scan(
		&log.ID, &log.StepRunID, &kind, &log.AttemptNumber, &log.Prompt, &log.Response,
		&log.InputTokens, &log.OutputTokens, &log.TotalTokens, &log.CostUSD, &log.Model,
		&log.LatencyMS, &created,
	)
	if err != nil {
		return nil, err
	}
	log.Kind = api.CallKind(kind)
	if log.CreatedAt, err = parseTextTime(created); err != nil {
		return nil, err
	}
	return &log, nil
}

// mapAffected converts a zero-row update or delete into the given
// not-found error.
func mapAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func appendWhere(query string, clauses []string) string {
	if len(clauses) == 0 {
		return query
	}
	return query + " WHERE " + strings.Join(clauses, " AND ")
}
