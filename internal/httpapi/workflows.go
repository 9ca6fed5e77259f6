package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haikala/weft/pkg/api"
)

type workflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type stepRequest struct {
	Name           string   `json:"name"`
	PromptTemplate string   `json:"prompt_template"`
	Model          string   `json:"model"`
	Position       *int     `json:"position"`
	MaxTokens      *int     `json:"max_tokens"`
	Temperature    *float64 `json:"temperature"`
	RetryLimit     *int     `json:"retry_limit"`
	ContextMode    string   `json:"context_mode"`
	RuleType       string   `json:"rule_type"`
	RuleValue      string   `json:"rule_value"`
	JudgeEnabled   bool     `json:"llm_judge_enabled"`
	JudgePrompt    string   `json:"llm_judge_prompt"`
}

// CreateWorkflow creates an empty workflow.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	now := s.now()
	wf := &api.Workflow{
		ID:          s.ids(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Workflows.CreateWorkflow(ctx, wf); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// ListWorkflows returns all workflows, newest first, without steps.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.store.Workflows.ListWorkflows(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if workflows == nil {
		workflows = []*api.Workflow{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns a workflow with its steps in position order.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.store.Workflows.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// UpdateWorkflow updates a workflow's name and description.
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	wf, err := s.store.Workflows.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if req.Name != "" {
		wf.Name = req.Name
	}
	wf.Description = req.Description
	wf.UpdatedAt = s.now()

	if err := s.store.Workflows.UpdateWorkflow(ctx, wf); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow deletes a workflow and its steps.
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.store.Workflows.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateStep appends a step to a workflow, applying defaults for any
// generation parameter the request leaves unset.
// (POST /api/v1/workflows/:id/steps)
func (s *Server) CreateStep(c echo.Context) error {
	ctx := c.Request().Context()

	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.PromptTemplate == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt_template is required")
	}
	if req.RuleType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule_type is required")
	}

	wf, err := s.store.Workflows.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	now := s.now()
	step := &api.Step{
		ID:             s.ids(),
		WorkflowID:     wf.ID,
		Position:       len(wf.Steps) + 1,
		Name:           req.Name,
		PromptTemplate: req.PromptTemplate,
		Model:          s.defaultModel,
		MaxTokens:      defaultMaxTokens,
		Temperature:    defaultTemperature,
		RetryLimit:     defaultRetryLimit,
		ContextMode:    defaultContextMode,
		RuleKind:       api.RuleKind(req.RuleType),
		RuleValue:      req.RuleValue,
		JudgeEnabled:   req.JudgeEnabled,
		JudgePrompt:    req.JudgePrompt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyStepOverrides(step, &req)

	if err := s.store.Workflows.CreateStep(ctx, step); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, step)
}

// UpdateStep updates an existing step in place.
// (PUT /api/v1/workflows/:id/steps/:stepID)
func (s *Server) UpdateStep(c echo.Context) error {
	ctx := c.Request().Context()

	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	wf, err := s.store.Workflows.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	var step *api.Step
	for i := range wf.Steps {
		if wf.Steps[i].ID == c.Param("stepID") {
			step = &wf.Steps[i]
			break
		}
	}
	if step == nil {
		return echo.NewHTTPError(http.StatusNotFound, "step not found")
	}

	if req.Name != "" {
		step.Name = req.Name
	}
	if req.PromptTemplate != "" {
		step.PromptTemplate = req.PromptTemplate
	}
	if req.Model != "" {
		step.Model = req.Model
	}
	if req.RuleType != "" {
		step.RuleKind = api.RuleKind(req.RuleType)
	}
	if req.RuleValue != "" {
		step.RuleValue = req.RuleValue
	}
	step.JudgeEnabled = req.JudgeEnabled
	if req.JudgePrompt != "" {
		step.JudgePrompt = req.JudgePrompt
	}
	applyStepOverrides(step, &req)
	step.UpdatedAt = s.now()

	if err := s.store.Workflows.UpdateStep(ctx, step); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

// DeleteStep removes a step from a workflow.
// (DELETE /api/v1/workflows/:id/steps/:stepID)
func (s *Server) DeleteStep(c echo.Context) error {
	if err := s.store.Workflows.DeleteStep(c.Request().Context(), c.Param("stepID")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// applyStepOverrides copies the optional fields a request actually set.
func applyStepOverrides(step *api.Step, req *stepRequest) {
	if req.Model != "" {
		step.Model = req.Model
	}
	if req.Position != nil {
		step.Position = *req.Position
	}
	if req.MaxTokens != nil {
		step.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		step.Temperature = *req.Temperature
	}
	if req.RetryLimit != nil {
		step.RetryLimit = *req.RetryLimit
	}
	if req.ContextMode != "" {
		step.ContextMode = api.ContextMode(req.ContextMode)
	}
}
