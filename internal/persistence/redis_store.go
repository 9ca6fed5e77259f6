package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/haikala/weft/pkg/api"
)

// RedisStore is a WorkflowStore and RunStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>wf:<id>                  => JSON workflow (without steps)
//	<prefix>step:<id>                => JSON step
//	<prefix>run:<id>                 => JSON run
//	<prefix>steprun:<id>             => JSON step run
//	<prefix>calls:<steprun>          => LIST of JSON model call logs
//	<prefix>idx:workflows            => SET of workflow IDs
//	<prefix>idx:steps:<workflow>     => SET of step IDs for a workflow
//	<prefix>idx:runs                 => SET of all run IDs
//	<prefix>idx:runs:wf:<workflow>   => SET of run IDs for a workflow
//	<prefix>idx:runs:status:<status> => SET of run IDs for a status
//	<prefix>idx:stepruns:<run>       => SET of step run IDs for a run
//
// The indexes are best-effort; they are always updated on writes, and list
// operations re-filter by payload so stale entries are harmless.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ WorkflowStore = (*RedisStore)(nil)
var _ RunStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyWorkflow(id string) string  { return s.prefix + "wf:" + id }
func (s *RedisStore) keyStep(id string) string      { return s.prefix + "step:" + id }
func (s *RedisStore) keyRun(id string) string       { return s.prefix + "run:" + id }
func (s *RedisStore) keyStepRun(id string) string   { return s.prefix + "steprun:" + id }
func (s *RedisStore) keyCalls(id string) string     { return s.prefix + "calls:" + id }
func (s *RedisStore) keyWorkflowIdx() string        { return s.prefix + "idx:workflows" }
func (s *RedisStore) keyStepIdx(wfID string) string { return s.prefix + "idx:steps:" + wfID }
func (s *RedisStore) keyRunIdx() string             { return s.prefix + "idx:runs" }
func (s *RedisStore) keyRunWorkflowIdx(wfID string) string {
	return s.prefix + "idx:runs:wf:" + wfID
}
func (s *RedisStore) keyRunStatusIdx(status api.RunStatus) string {
	return s.prefix + "idx:runs:status:" + string(status)
}
func (s *RedisStore) keyStepRunIdx(runID string) string {
	return s.prefix + "idx:stepruns:" + runID
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return notFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *RedisStore) CreateWorkflow(ctx context.Context, wf *api.Workflow) error {
	stored := *wf
	stored.Steps = nil
	if err := s.setJSON(ctx, s.keyWorkflow(wf.ID), &stored); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.keyWorkflowIdx(), wf.ID).Err(); err != nil {
		return err
	}
	for i := range wf.Steps {
		if err := s.CreateStep(ctx, &wf.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	var wf api.Workflow
	if err := s.getJSON(ctx, s.keyWorkflow(id), &wf, ErrWorkflowNotFound); err != nil {
		return nil, err
	}
	steps, err := s.workflowSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return &wf, nil
}

func (s *RedisStore) workflowSteps(ctx context.Context, workflowID string) ([]api.Step, error) {
	ids, err := s.client.SMembers(ctx, s.keyStepIdx(workflowID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	var steps []api.Step
	for _, stepID := range ids {
		var step api.Step
		err := s.getJSON(ctx, s.keyStep(stepID), &step, ErrStepNotFound)
		if errors.Is(err, ErrStepNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
	return steps, nil
}

func (s *RedisStore) ListWorkflows(ctx context.Context) ([]*api.Workflow, error) {
	ids, err := s.client.SMembers(ctx, s.keyWorkflowIdx()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	var result []*api.Workflow
	for _, id := range ids {
		var wf api.Workflow
		err := s.getJSON(ctx, s.keyWorkflow(id), &wf, ErrWorkflowNotFound)
		if errors.Is(err, ErrWorkflowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, &wf)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *RedisStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	var existing api.Workflow
	if err := s.getJSON(ctx, s.keyWorkflow(wf.ID), &existing, ErrWorkflowNotFound); err != nil {
		return err
	}
	stored := *wf
	stored.Steps = nil
	return s.setJSON(ctx, s.keyWorkflow(wf.ID), &stored)
}

func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	var existing api.Workflow
	if err := s.getJSON(ctx, s.keyWorkflow(id), &existing, ErrWorkflowNotFound); err != nil {
		return err
	}
	stepIDs, err := s.client.SMembers(ctx, s.keyStepIdx(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, stepID := range stepIDs {
		pipe.Del(ctx, s.keyStep(stepID))
	}
	pipe.Del(ctx, s.keyStepIdx(id))
	pipe.Del(ctx, s.keyWorkflow(id))
	pipe.SRem(ctx, s.keyWorkflowIdx(), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateStep(ctx context.Context, step *api.Step) error {
	if err := s.setJSON(ctx, s.keyStep(step.ID), step); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyStepIdx(step.WorkflowID), step.ID).Err()
}

func (s *RedisStore) UpdateStep(ctx context.Context, step *api.Step) error {
	var existing api.Step
	if err := s.getJSON(ctx, s.keyStep(step.ID), &existing, ErrStepNotFound); err != nil {
		return err
	}
	return s.setJSON(ctx, s.keyStep(step.ID), step)
}

func (s *RedisStore) DeleteStep(ctx context.Context, id string) error {
	var existing api.Step
	if err := s.getJSON(ctx, s.keyStep(id), &existing, ErrStepNotFound); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyStep(id))
	pipe.SRem(ctx, s.keyStepIdx(existing.WorkflowID), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateRun(ctx context.Context, run *api.Run) error {
	if err := s.setJSON(ctx, s.keyRun(run.ID), run); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyRunIdx(), run.ID)
	pipe.SAdd(ctx, s.keyRunWorkflowIdx(run.WorkflowID), run.ID)
	pipe.SAdd(ctx, s.keyRunStatusIdx(run.Status), run.ID)
	_, _ = pipe.Exec(ctx)
	return nil
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	var run api.Run
	if err := s.getJSON(ctx, s.keyRun(id), &run, ErrRunNotFound); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RedisStore) UpdateRun(ctx context.Context, run *api.Run) error {
	var existing api.Run
	if err := s.getJSON(ctx, s.keyRun(run.ID), &existing, ErrRunNotFound); err != nil {
		return err
	}
	if err := s.setJSON(ctx, s.keyRun(run.ID), run); err != nil {
		return err
	}
	// Index updates: we just re-add; stale status entries may remain after
	// a transition, but ListRuns re-filters by payload.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyRunStatusIdx(run.Status), run.ID)
	_, _ = pipe.Exec(ctx)
	return nil
}

func (s *RedisStore) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	var ids []string
	var err error

	switch {
	case opts.WorkflowID != "" && opts.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyRunWorkflowIdx(opts.WorkflowID),
			s.keyRunStatusIdx(opts.Status),
		).Result()
	case opts.WorkflowID != "":
		ids, err = s.client.SMembers(ctx, s.keyRunWorkflowIdx(opts.WorkflowID)).Result()
	case opts.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyRunStatusIdx(opts.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyRunIdx()).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var result []*api.Run
	for _, id := range ids {
		var run api.Run
		err := s.getJSON(ctx, s.keyRun(id), &run, ErrRunNotFound)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		result = append(result, &run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *RedisStore) CreateStepRun(ctx context.Context, sr *api.StepRun) error {
	if err := s.setJSON(ctx, s.keyStepRun(sr.ID), sr); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyStepRunIdx(sr.RunID), sr.ID).Err()
}

func (s *RedisStore) UpdateStepRun(ctx context.Context, sr *api.StepRun) error {
	var existing api.StepRun
	if err := s.getJSON(ctx, s.keyStepRun(sr.ID), &existing, ErrStepRunNotFound); err != nil {
		return err
	}
	return s.setJSON(ctx, s.keyStepRun(sr.ID), sr)
}

func (s *RedisStore) ListStepRuns(ctx context.Context, runID string) ([]*api.StepRun, error) {
	ids, err := s.client.SMembers(ctx, s.keyStepRunIdx(runID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	var result []*api.StepRun
	for _, id := range ids {
		var sr api.StepRun
		err := s.getJSON(ctx, s.keyStepRun(id), &sr, ErrStepRunNotFound)
		if errors.Is(err, ErrStepRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, &sr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

func (s *RedisStore) AppendModelCall(ctx context.Context, log *api.ModelCallLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keyCalls(log.StepRunID), data).Err()
}

func (s *RedisStore) ListModelCalls(ctx context.Context, stepRunID string) ([]*api.ModelCallLog, error) {
	entries, err := s.client.LRange(ctx, s.keyCalls(stepRunID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var result []*api.ModelCallLog
	for _, entry := range entries {
		var log api.ModelCallLog
		if err := json.Unmarshal([]byte(entry), &log); err != nil {
			return nil, err
		}
		result = append(result, &log)
	}
	return result, nil
}
