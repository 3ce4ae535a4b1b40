// Package meshflow provides a high-level façade over the runner, session
// stores and configuration, enabling quick construction of orchestration
// trees. Most applications interact with this package by:
//  1. Creating a Meshflow via New() or FromConfig()
//  2. Building a tree from the agent package (or a pipeline document)
//  3. Running it against a session with Run, RunSync or Events
//
// All defaults are safe for local development and testing: an in-memory
// session store, no logging and no metrics.
package meshflow

import (
	"context"
	"iter"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/logging"
	"github.com/hupe1980/meshflow/runner"
	"github.com/hupe1980/meshflow/session"
)

// Options configures the Meshflow instance.
type Options struct {
	// MaxConcurrentRuns bounds concurrent runs (0 = unbounded).
	MaxConcurrentRuns int
	// MaxModelCalls bounds model calls per run (0 = unlimited).
	MaxModelCalls int
	// EventBufferSize sets the channel buffer size of asynchronous runs.
	EventBufferSize int
	// Guardrails wrap every root node.
	Guardrails *guardrail.Chain

	// SessionStore defaults to an in-memory store.
	SessionStore core.SessionStore
	// Observer receives execution notifications (e.g. the prometheus collector).
	Observer core.Observer
	// Logger defaults to a NoOp logger.
	Logger logging.Logger
}

// Meshflow aggregates the session store and run settings shared by every
// root it runs.
type Meshflow struct {
	opts Options
}

// New creates a Meshflow instance with optional overrides.
func New(optFns ...func(o *Options)) *Meshflow {
	opts := Options{
		MaxModelCalls:   100,
		EventBufferSize: 100,
		SessionStore:    session.NewInMemoryStore(),
		Observer:        core.NoOpObserver{},
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Meshflow{opts: opts}
}

// SessionStore returns the backing store.
func (m *Meshflow) SessionStore() core.SessionStore { return m.opts.SessionStore }

// CreateSession creates a session for userID seeded with state.
func (m *Meshflow) CreateSession(ctx context.Context, userID string, state core.StateDelta) (*core.Session, error) {
	return m.opts.SessionStore.Create(ctx, core.CreateSessionRequest{UserID: userID, State: state})
}

// Runner returns a runner for root sharing this instance's settings.
func (m *Meshflow) Runner(root core.Agent) *runner.Runner {
	return runner.New(root, func(o *runner.Options) {
		o.MaxConcurrentRuns = m.opts.MaxConcurrentRuns
		o.MaxModelCalls = m.opts.MaxModelCalls
		o.EventBufferSize = m.opts.EventBufferSize
		o.Guardrails = m.opts.Guardrails
		o.SessionStore = m.opts.SessionStore
		o.Observer = m.opts.Observer
		o.Logger = m.opts.Logger
	})
}

// Run starts an asynchronous run of root; see runner.Runner.Run.
func (m *Meshflow) Run(ctx context.Context, root core.Agent, sessionID, input string) (string, <-chan core.Event, <-chan error, error) {
	return m.Runner(root).Run(ctx, sessionID, *core.NewTextContent("user", input))
}

// RunSync runs root to completion and returns every committed event.
func (m *Meshflow) RunSync(ctx context.Context, root core.Agent, sessionID, input string) ([]core.Event, error) {
	return m.Runner(root).RunSync(ctx, sessionID, *core.NewTextContent("user", input))
}

// Events runs root in the caller's goroutine; see runner.Runner.Events.
func (m *Meshflow) Events(ctx context.Context, root core.Agent, sessionID, input string) iter.Seq2[core.Event, error] {
	return m.Runner(root).Events(ctx, sessionID, *core.NewTextContent("user", input))
}
