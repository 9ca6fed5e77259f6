package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/haikala/weft/pkg/api"
)

// InMemoryStore is a goroutine-safe WorkflowStore and RunStore backed by
// maps. It is primarily meant for tests and development.
type InMemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*api.Workflow
	steps      map[string]*api.Step
	runs       map[string]*api.Run
	stepRuns   map[string]*api.StepRun
	modelCalls []*api.ModelCallLog
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[string]*api.Workflow),
		steps:     make(map[string]*api.Step),
		runs:      make(map[string]*api.Run),
		stepRuns:  make(map[string]*api.StepRun),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ WorkflowStore = (*InMemoryStore)(nil)
var _ RunStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateWorkflow(ctx context.Context, wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *wf
	copied.Steps = nil
	s.workflows[wf.ID] = &copied

	for i := range wf.Steps {
		step := wf.Steps[i]
		step.WorkflowID = wf.ID
		s.steps[step.ID] = &step
	}
	return nil
}

func (s *InMemoryStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	copied := *wf
	for _, step := range s.steps {
		if step.WorkflowID == id {
			copied.Steps = append(copied.Steps, *step)
		}
	}
	sort.Slice(copied.Steps, func(i, j int) bool {
		return copied.Steps[i].Position < copied.Steps[j].Position
	})
	return &copied, nil
}

func (s *InMemoryStore) ListWorkflows(ctx context.Context) ([]*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*api.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		copied := *wf
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workflows[wf.ID]
	if !ok {
		return ErrWorkflowNotFound
	}
	existing.Name = wf.Name
	existing.Description = wf.Description
	existing.UpdatedAt = wf.UpdatedAt
	return nil
}

func (s *InMemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	for stepID, step := range s.steps {
		if step.WorkflowID == id {
			delete(s.steps, stepID)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateStep(ctx context.Context, step *api.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[step.WorkflowID]; !ok {
		return ErrWorkflowNotFound
	}
	copied := *step
	s.steps[step.ID] = &copied
	return nil
}

func (s *InMemoryStore) UpdateStep(ctx context.Context, step *api.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[step.ID]; !ok {
		return ErrStepNotFound
	}
	copied := *step
	s.steps[step.ID] = &copied
	return nil
}

func (s *InMemoryStore) DeleteStep(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[id]; !ok {
		return ErrStepNotFound
	}
	delete(s.steps, id)
	return nil
}

func (s *InMemoryStore) CreateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Run
	for _, run := range s.runs {
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		copied := *run
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) CreateStepRun(ctx context.Context, sr *api.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sr
	s.stepRuns[sr.ID] = &copied
	return nil
}

func (s *InMemoryStore) UpdateStepRun(ctx context.Context, sr *api.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stepRuns[sr.ID]; !ok {
		return ErrStepRunNotFound
	}
	copied := *sr
	s.stepRuns[sr.ID] = &copied
	return nil
}

func (s *InMemoryStore) ListStepRuns(ctx context.Context, runID string) ([]*api.StepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.StepRun
	for _, sr := range s.stepRuns {
		if sr.RunID == runID {
			copied := *sr
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Position < result[j].Position
	})
	return result, nil
}

func (s *InMemoryStore) AppendModelCall(ctx context.Context, log *api.ModelCallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *log
	s.modelCalls = append(s.modelCalls, &copied)
	return nil
}

func (s *InMemoryStore) ListModelCalls(ctx context.Context, stepRunID string) ([]*api.ModelCallLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.ModelCallLog
	for _, log := range s.modelCalls {
		if log.StepRunID == stepRunID {
			copied := *log
			result = append(result, &copied)
		}
	}
	return result, nil
}
