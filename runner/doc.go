// Package runner drives an orchestration tree against a session.
//
// A Runner loads the session from a core.SessionStore, commits the user input
// as the first event of the run and invokes the root node. Every event the
// tree emits is committed through a single path: the store appends it (and
// merges its persistent state delta), the run's working session applies it,
// and only then is it delivered to the caller. Both surfaces share that path:
//
//   - Events returns an iterator that runs the tree in the caller's
//     goroutine and yields one event at a time.
//   - Run starts the tree in a goroutine and streams events on a channel;
//     RunSync drains it.
//
// Every run ends with a Final event. On success it carries the terminal
// status of the root node; on failure it carries Status failed, an error
// code and a data part with the last committed state.
package runner
