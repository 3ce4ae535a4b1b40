package core

// Agent defines the interface every node of an orchestration tree implements.
//
// Run executes the node against the supplied RunContext. Every state change
// the node makes is committed through rc.EmitEvent; Run returns the node's
// terminal event so enclosing composites can inspect its status and
// escalation flag without re-reading the history.
//
// Implementations must:
//   - Respect context cancellation
//   - Commit nothing after a failure or cancellation
//   - Keep no per-run state on the receiver (nodes are reusable across runs)
type Agent interface {
	Name() string
	Description() string
	Run(rc *RunContext) (Event, error)
}

// AgentInfo carries identifying details about an agent used in contexts & events.
// Name is the external identifier; Type categorizes implementation (e.g. "generator", "loop").
type AgentInfo struct{ Name, Type string }
