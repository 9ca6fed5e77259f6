package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/haikala/weft/pkg/api"
)

// SQLiteStore is a WorkflowStore and RunStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Timestamps are stored as RFC 3339 text so rows stay readable with the
// sqlite3 CLI.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var _ WorkflowStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			prompt_template TEXT NOT NULL,
			model TEXT NOT NULL,
			max_tokens INTEGER NOT NULL,
			temperature REAL NOT NULL,
			retry_limit INTEGER NOT NULL,
			context_mode TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			rule_value TEXT NOT NULL DEFAULT '',
			judge_enabled INTEGER NOT NULL DEFAULT 0,
			judge_prompt TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS step_runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempt_number INTEGER NOT NULL DEFAULT 1,
			input_context TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			extracted_context TEXT NOT NULL DEFAULT '',
			evaluation TEXT,
			failure_reason TEXT NOT NULL DEFAULT '',
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS model_calls (
			id TEXT PRIMARY KEY,
			step_run_id TEXT NOT NULL,
			call_type TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			model TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
	)
	return err
}

// Timestamp helpers. Optional times are NULL in the database.

func textTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func textTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return textTime(*t)
}

func parseTextTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTextTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTextTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeEval(res *api.EvalResult) (any, error) {
	if res == nil {
		return nil, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeEval(ns sql.NullString) (*api.EvalResult, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var res api.EvalResult
	if err := json.Unmarshal([]byte(ns.String), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *api.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Description, textTime(wf.CreatedAt), textTime(wf.UpdatedAt),
	)
	if err != nil {
		return err
	}
	for i := range wf.Steps {
		if err := s.CreateStep(ctx, &wf.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM workflows WHERE id = ?`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, position, name, prompt_template, model,
		       max_tokens, temperature, retry_limit, context_mode,
		       rule_type, rule_value, judge_enabled, judge_prompt,
		       created_at, updated_at
		FROM steps WHERE workflow_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, *step)
	}
	return wf, rows.Err()
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]*api.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET name = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		wf.Name, wf.Description, textTime(wf.UpdatedAt), wf.ID,
	)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrWorkflowNotFound)
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM steps WHERE workflow_id = ?`, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrWorkflowNotFound)
}

func (s *SQLiteStore) CreateStep(ctx context.Context, step *api.Step) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (id, workflow_id, position, name, prompt_template,
			model, max_tokens, temperature, retry_limit, context_mode,
			rule_type, rule_value, judge_enabled, judge_prompt,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.WorkflowID, step.Position, step.Name, step.PromptTemplate,
		step.Model, step.MaxTokens, step.Temperature, step.RetryLimit, string(step.ContextMode),
		string(step.RuleKind), step.RuleValue, step.JudgeEnabled, step.JudgePrompt,
		textTime(step.CreatedAt), textTime(step.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, step *api.Step) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET position = ?, name = ?, prompt_template = ?,
			model = ?, max_tokens = ?, temperature = ?, retry_limit = ?,
			context_mode = ?, rule_type = ?, rule_value = ?,
			judge_enabled = ?, judge_prompt = ?, updated_at = ?
		WHERE id = ?`,
		step.Position, step.Name, step.PromptTemplate,
		step.Model, step.MaxTokens, step.Temperature, step.RetryLimit,
		string(step.ContextMode), string(step.RuleKind), step.RuleValue,
		step.JudgeEnabled, step.JudgePrompt, textTime(step.UpdatedAt),
		step.ID,
	)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrStepNotFound)
}

func (s *SQLiteStore) DeleteStep(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM steps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrStepNotFound)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *api.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, failure_reason,
			started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, string(run.Status), run.FailureReason,
		textTimePtr(run.StartedAt), textTimePtr(run.CompletedAt), textTime(run.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, failure_reason, started_at, completed_at, created_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *api.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, failure_reason = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.FailureReason,
		textTimePtr(run.StartedAt), textTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrRunNotFound)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	query := `
		SELECT id, workflow_id, status, failure_reason, started_at, completed_at, created_at
		FROM runs`
	var args []any
	var clauses []string

	if opts.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	query = appendWhere(query, clauses) + " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CreateStepRun(ctx context.Context, sr *api.StepRun) error {
	eval, err := encodeEval(sr.Evaluation)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_runs (id, run_id, step_id, position, status,
			attempt_number, input_context, output, extracted_context,
			evaluation, failure_reason, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RunID, sr.StepID, sr.Position, string(sr.Status),
		sr.AttemptNumber, sr.InputContext, sr.Output, sr.ExtractedContext,
		eval, sr.FailureReason, textTimePtr(sr.StartedAt), textTimePtr(sr.CompletedAt), textTime(sr.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateStepRun(ctx context.Context, sr *api.StepRun) error {
	eval, err := encodeEval(sr.Evaluation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_runs SET status = ?, attempt_number = ?, input_context = ?,
			output = ?, extracted_context = ?, evaluation = ?,
			failure_reason = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(sr.Status), sr.AttemptNumber, sr.InputContext,
		sr.Output, sr.ExtractedContext, eval,
		sr.FailureReason, textTimePtr(sr.StartedAt), textTimePtr(sr.CompletedAt),
		sr.ID,
	)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrStepRunNotFound)
}

func (s *SQLiteStore) ListStepRuns(ctx context.Context, runID string) ([]*api.StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, position, status, attempt_number,
		       input_context, output, extracted_context, evaluation,
		       failure_reason, started_at, completed_at, created_at
		FROM step_runs WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.StepRun
	for rows.Next() {
		sr, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sr)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) AppendModelCall(ctx context.Context, log *api.ModelCallLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_calls (id, step_run_id, call_type, attempt_number,
			prompt, response, input_tokens, output_tokens, total_tokens,
			cost_usd, model, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.StepRunID, string(log.Kind), log.AttemptNumber,
		log.Prompt, log.Response, log.InputTokens, log.OutputTokens, log.TotalTokens,
		log.CostUSD, log.Model, log.LatencyMS, textTime(log.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) ListModelCalls(ctx context.Context, stepRunID string) ([]*api.ModelCallLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_run_id, call_type, attempt_number, prompt, response,
		       input_tokens, output_tokens, total_tokens, cost_usd, model,
		       latency_ms, created_at
		FROM model_calls WHERE step_run_id = ? ORDER BY created_at ASC, attempt_number ASC`, stepRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.ModelCallLog
	for rows.Next() {
		log, err := scanModelCall(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, log)
	}
	return result, rows.Err()
}
