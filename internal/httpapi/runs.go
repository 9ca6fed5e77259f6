package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haikala/weft/pkg/api"
)

// runDetail is the GET /runs/:id response: the run plus its step runs.
type runDetail struct {
	Run      *api.Run       `json:"run"`
	StepRuns []*api.StepRun `json:"step_runs"`
}

// StartRun creates a pending run for a workflow and starts executing it in
// the background. It responds immediately with 202 and the pending run;
// callers poll GET /runs/:id for progress.
// (POST /api/v1/workflows/:id/runs)
func (s *Server) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	wf, err := s.store.Workflows.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if len(wf.Steps) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow has no steps")
	}

	run := &api.Run{
		ID:         s.ids(),
		WorkflowID: wf.ID,
		Status:     api.RunPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.Runs.CreateRun(ctx, run); err != nil {
		return httpError(err)
	}

	// The request context dies with the response; the run gets its own.
	go func() {
		if _, err := s.engine.ExecuteRun(context.Background(), run.ID); err != nil {
			s.logger.Error("run execution error",
				"run_id", run.ID,
				"workflow_id", run.WorkflowID,
				"error", err,
			)
		}
	}()

	return c.JSON(http.StatusAccepted, run)
}

// ListRuns returns runs, newest first, optionally filtered by workflow_id
// and status query parameters.
// (GET /api/v1/runs)
func (s *Server) ListRuns(c echo.Context) error {
	opts := api.RunListOptions{
		WorkflowID: c.QueryParam("workflow_id"),
		Status:     api.RunStatus(c.QueryParam("status")),
	}
	runs, err := s.store.Runs.ListRuns(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	if runs == nil {
		runs = []*api.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns a run and its step runs in position order.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	run, err := s.store.Runs.GetRun(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	stepRuns, err := s.store.Runs.ListStepRuns(ctx, run.ID)
	if err != nil {
		return httpError(err)
	}
	if stepRuns == nil {
		stepRuns = []*api.StepRun{}
	}
	return c.JSON(http.StatusOK, runDetail{Run: run, StepRuns: stepRuns})
}

// ListModelCalls returns the model call logs for a step run, oldest first.
// (GET /api/v1/step-runs/:id/calls)
func (s *Server) ListModelCalls(c echo.Context) error {
	calls, err := s.store.Runs.ListModelCalls(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if calls == nil {
		calls = []*api.ModelCallLog{}
	}
	return c.JSON(http.StatusOK, calls)
}
