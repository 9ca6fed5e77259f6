package weft

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/haikala/weft/internal/engine"
	"github.com/haikala/weft/internal/persistence"
	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine         = api.Engine
	Workflow       = api.Workflow
	Step           = api.Step
	Run            = api.Run
	StepRun        = api.StepRun
	ModelCallLog   = api.ModelCallLog
	EvalResult     = api.EvalResult
	EvalDetails    = api.EvalDetails
	RunStatus      = api.RunStatus
	StepStatus     = api.StepStatus
	ContextMode    = api.ContextMode
	RuleKind       = api.RuleKind
	RunListOptions = api.RunListOptions

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Client     = llm.Client
	Message    = llm.Message
	Result     = llm.Result
	PriceTable = llm.PriceTable
	ModelPrice = llm.ModelPrice

	WorkflowStore = persistence.WorkflowStore
	RunStore      = persistence.RunStore
	Store         = persistence.Persistence
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewHTTPClient        = llm.NewHTTPClient

	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrStepNotFound     = persistence.ErrStepNotFound
	ErrRunNotFound      = persistence.ErrRunNotFound
	ErrStepRunNotFound  = persistence.ErrStepRunNotFound
)

// Re-export enum values for convenience.

const (
	RunPending   = api.RunPending
	RunRunning   = api.RunRunning
	RunCompleted = api.RunCompleted
	RunFailed    = api.RunFailed

	ContextFull     = api.ContextFull
	ContextCodeOnly = api.ContextCodeOnly
	ContextJSONOnly = api.ContextJSONOnly
	ContextSummary  = api.ContextSummary

	RuleContains         = api.RuleContains
	RuleRegex            = api.RuleRegex
	RuleJSONValid        = api.RuleJSONValid
	RuleCodeBlockPresent = api.RuleCodeBlockPresent
)

// Engine constructors
// These wrap the internal packages so external callers never need to
// import them. Each constructor returns the Store alongside the Engine;
// workflows and runs are created through the Store, then executed through
// the Engine.

// NewInMemoryEngine returns an Engine backed entirely by an in-memory
// store.
func NewInMemoryEngine(client Client) (Engine, Store) {
	return NewInMemoryEngineWithObserver(client, nil)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(client Client, obs Observer) (Engine, Store) {
	mem := persistence.NewInMemoryStore()
	store := Store{Workflows: mem, Runs: mem}
	return newEngine(store, client, obs), store
}

// NewSQLiteEngine returns an Engine that persists workflows and runs in a
// SQLite database.
func NewSQLiteEngine(db *sql.DB, client Client) (Engine, Store, error) {
	return NewSQLiteEngineWithObserver(db, client, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the
// given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, client Client, obs Observer) (Engine, Store, error) {
	s, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, Store{}, err
	}
	store := Store{Workflows: s, Runs: s}
	return newEngine(store, client, obs), store, nil
}

// NewPostgresEngine returns an Engine that persists workflows and runs in
// PostgreSQL.
func NewPostgresEngine(db *sql.DB, client Client) (Engine, Store, error) {
	return NewPostgresEngineWithObserver(db, client, nil)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the
// given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, client Client, obs Observer) (Engine, Store, error) {
	s, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, Store{}, err
	}
	store := Store{Workflows: s, Runs: s}
	return newEngine(store, client, obs), store, nil
}

// NewRedisEngine returns an Engine that persists workflows and runs in
// Redis under the given key prefix.
func NewRedisEngine(rdb *redis.Client, prefix string, client Client) (Engine, Store) {
	return NewRedisEngineWithObserver(rdb, prefix, client, nil)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given
// Observer.
func NewRedisEngineWithObserver(rdb *redis.Client, prefix string, client Client, obs Observer) (Engine, Store) {
	s := persistence.NewRedisStore(rdb, prefix)
	store := Store{Workflows: s, Runs: s}
	return newEngine(store, client, obs), store
}

func newEngine(store Store, client Client, obs Observer) Engine {
	return engine.New(engine.Config{
		Store:    store,
		Client:   client,
		Observer: obs,
	})
}
