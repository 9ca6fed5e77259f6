// Package httpapi contains the HTTP handlers for the weftd server.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/haikala/weft/internal/persistence"
	"github.com/haikala/weft/pkg/api"
)

// Step defaults applied when a create request leaves a field unset.
const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
	defaultRetryLimit  = 3
	defaultContextMode = api.ContextSummary
)

// Server holds the dependencies for the API server.
type Server struct {
	store        persistence.Persistence
	engine       api.Engine
	logger       *slog.Logger
	defaultModel string

	ids func() string
	now func() time.Time
}

// NewServer creates a new Server. defaultModel is applied to steps created
// without an explicit model. If logger is nil, slog.Default() is used.
func NewServer(store persistence.Persistence, engine api.Engine, defaultModel string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        store,
		engine:       engine,
		logger:       logger,
		defaultModel: defaultModel,
		ids:          func() string { return uuid.New().String() },
		now:          time.Now,
	}
}

// Register mounts all routes under /api/v1.
func (s *Server) Register(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PUT("/workflows/:id", s.UpdateWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)

	g.POST("/workflows/:id/steps", s.CreateStep)
	g.PUT("/workflows/:id/steps/:stepID", s.UpdateStep)
	g.DELETE("/workflows/:id/steps/:stepID", s.DeleteStep)

	g.POST("/workflows/:id/runs", s.StartRun)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.GET("/step-runs/:id/calls", s.ListModelCalls)
}

// httpError maps store sentinel errors to 404 and everything else to 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrWorkflowNotFound),
		errors.Is(err, persistence.ErrStepNotFound),
		errors.Is(err, persistence.ErrRunNotFound),
		errors.Is(err, persistence.ErrStepRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
