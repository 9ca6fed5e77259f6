// Package weft provides an embeddable engine for multi-step generative
// text pipelines.
//
// A pipeline is a Workflow: an ordered list of Steps, each binding a
// prompt template to a model, a completion rule, and a context-forwarding
// mode. The engine executes a Run of a workflow step by step: it renders
// the step's prompt with the previous step's extracted context, calls the
// model, evaluates the output against the step's rule (and optionally a
// model judge), retries failed attempts with feedback up to the step's
// retry limit, and forwards the extracted context to the next step.
//
// # Engine
//
// The Engine drives runs to a terminal state and persists every state
// transition, so an external observer polling the store sees monotonic
// progress. Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// # WorkflowBuilder
//
// WorkflowBuilder provides the declarative API used to define pipelines:
//
//	wf := weft.New("blog-pipeline").
//	    Describe("outline, then draft").
//	    Step("outline", "Write an outline about Go. {{context}}",
//	        weft.WithRule(weft.RuleContains, "##"),
//	    ).
//	    Step("draft", "Expand this outline into a post:\n{{context}}",
//	        weft.WithContextMode(weft.ContextFull),
//	        weft.WithRule(weft.RuleRegex, "."),
//	        weft.WithJudge("Is this a complete post?"),
//	    ).
//	    Build()
//
// Workflows built this way are stored through a WorkflowStore, after which
// runs are created pending and handed to Engine.ExecuteRun.
//
// # Observers
//
// Observers receive run, step and model-call lifecycle events. The package
// ships a structured-logging observer, simple in-process counters, and a
// Prometheus exporter (pkg/metrics); NewCompositeObserver combines them.
//
// The cmd/weftd command wraps all of this in an HTTP API.
package weft
