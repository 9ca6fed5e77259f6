package persistence

import (
	"context"
	"database/sql"

	"github.com/haikala/weft/pkg/api"
)

// PostgresStore is a WorkflowStore and RunStore backed by PostgreSQL.
//
// It expects an *sql.DB opened with a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib"). The caller is responsible for
// importing the driver, e.g.:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// Timestamps are stored as RFC 3339 text so row scanning is shared with
// the SQLite store.
type PostgresStore struct {
	db *sql.DB
}

var _ WorkflowStore = (*PostgresStore)(nil)
var _ RunStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
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
			temperature DOUBLE PRECISION NOT NULL,
			retry_limit INTEGER NOT NULL,
			context_mode TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			rule_value TEXT NOT NULL DEFAULT '',
			judge_enabled BOOLEAN NOT NULL DEFAULT FALSE,
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
			cost_usd DOUBLE PRECISION NOT NULL,
			model TEXT NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TEXT NOT NULL
		);`,
	)
	return err
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *api.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
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

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM workflows WHERE id = $1`, id)

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
		FROM steps WHERE workflow_id = $1 ORDER BY position ASC`, id)
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

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*api.Workflow, error) {
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

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET name = $1, description = $2, updated_at = $3
		WHERE id = $4`,
		wf.Name, wf.Description, textTime(wf.UpdatedAt), wf.ID,
	)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrWorkflowNotFound)
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrWorkflowNotFound)
}

func (s *PostgresStore) CreateStep(ctx context.Context, step *api.Step) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (id, workflow_id, position, name, prompt_template,
			model, max_tokens, temperature, retry_limit, context_mode,
			rule_type, rule_value, judge_enabled, judge_prompt,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		step.ID, step.WorkflowID, step.Position, step.Name, step.PromptTemplate,
		step.Model, step.MaxTokens, step.Temperature, step.RetryLimit, string(step.ContextMode),
		string(step.RuleKind), step.RuleValue, step.JudgeEnabled, step.JudgePrompt,
		textTime(step.CreatedAt), textTime(step.UpdatedAt),
	)
	return err
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *api.Step) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET position = $1, name = $2, prompt_template = $3,
			model = $4, max_tokens = $5, temperature = $6, retry_limit = $7,
			context_mode = $8, rule_type = $9, rule_value = $10,
			judge_enabled = $11, judge_prompt = $12, updated_at = $13
		WHERE id = $14`,
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

func (s *PostgresStore) DeleteStep(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM steps WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrStepNotFound)
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *api.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, failure_reason,
			started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.WorkflowID, string(run.Status), run.FailureReason,
		textTimePtr(run.StartedAt), textTimePtr(run.CompletedAt), textTime(run.CreatedAt),
	)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, failure_reason, started_at, completed_at, created_at
		FROM runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *api.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, failure_reason = $2, started_at = $3, completed_at = $4
		WHERE id = $5`,
		string(run.Status), run.FailureReason,
		textTimePtr(run.StartedAt), textTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	return mapAffected(res, ErrRunNotFound)
}

func (s *PostgresStore) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	query := `
		SELECT id, workflow_id, status, failure_reason, started_at, completed_at, created_at
		FROM runs`
	var args []any
	var clauses []string

	if opts.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = $1")
		args = append(args, opts.WorkflowID)
	}
	if opts.Status != "" {
		if len(args) == 0 {
			clauses = append(clauses, "status = $1")
		} else {
			clauses = append(clauses, "status = $2")
		}
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

func (s *PostgresStore) CreateStepRun(ctx context.Context, sr *api.StepRun) error {
	eval, err := encodeEval(sr.Evaluation)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_runs (id, run_id, step_id, position, status,
			attempt_number, input_context, output, extracted_context,
			evaluation, failure_reason, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sr.ID, sr.RunID, sr.StepID, sr.Position, string(sr.Status),
		sr.AttemptNumber, sr.InputContext, sr.Output, sr.ExtractedContext,
		eval, sr.FailureReason, textTimePtr(sr.StartedAt), textTimePtr(sr.CompletedAt), textTime(sr.CreatedAt),
	)
	return err
}

func (s *PostgresStore) UpdateStepRun(ctx context.Context, sr *api.StepRun) error {
	eval, err := encodeEval(sr.Evaluation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_runs SET status = $1, attempt_number = $2, input_context = $3,
			output = $4, extracted_context = $5, evaluation = $6,
			failure_reason = $7, started_at = $8, completed_at = $9
		WHERE id = $10`,
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

func (s *PostgresStore) ListStepRuns(ctx context.Context, runID string) ([]*api.StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, position, status, attempt_number,
		       input_context, output, extracted_context, evaluation,
		       failure_reason, started_at, completed_at, created_at
		FROM step_runs WHERE run_id = $1 ORDER BY position ASC`, runID)
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

func (s *PostgresStore) AppendModelCall(ctx context.Context, log *api.ModelCallLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_calls (id, step_run_id, call_type, attempt_number,
			prompt, response, input_tokens, output_tokens, total_tokens,
			cost_usd, model, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		log.ID, log.StepRunID, string(log.Kind), log.AttemptNumber,
		log.Prompt, log.Response, log.InputTokens, log.OutputTokens, log.TotalTokens,
		log.CostUSD, log.Model, log.LatencyMS, textTime(log.CreatedAt),
	)
	return err
}

func (s *PostgresStore) ListModelCalls(ctx context.Context, stepRunID string) ([]*api.ModelCallLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_run_id, call_type, attempt_number, prompt, response,
		       input_tokens, output_tokens, total_tokens, cost_usd, model,
		       latency_ms, created_at
		FROM model_calls WHERE step_run_id = $1 ORDER BY created_at ASC, attempt_number ASC`, stepRunID)
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
