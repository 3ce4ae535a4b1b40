package core

import (
	"context"
	"iter"
)

// Runner executes a root node against a session.
//
// Every run commits the user content first and a Final event last. Events of
// one run are delivered in commit order; a run ends with exactly one Final
// event unless it could not start at all (unknown session, closed runner).
type Runner interface {
	// Run starts an asynchronous run. The events channel is closed after the
	// Final event; the error channel carries at most one terminal error.
	// Consumers must drain the events channel.
	Run(ctx context.Context, sessionID string, content Content) (string, <-chan Event, <-chan error, error)

	// RunSync blocks until the run terminates and returns every committed
	// event, the Final one included.
	RunSync(ctx context.Context, sessionID string, content Content) ([]Event, error)

	// Events yields committed events in the caller's goroutine. Stopping the
	// iteration cancels the run.
	Events(ctx context.Context, sessionID string, content Content) iter.Seq2[Event, error]

	// Cancel requests cooperative termination of an in-flight run. Unknown or
	// finished runs yield an error.
	Cancel(runID string) error
}
