// Package core provides the foundational domain types, interfaces and execution
// contexts used by meshflow. It defines the core abstractions for:
//
//   - Agents (nodes of an orchestration tree)
//   - Sessions (scoped key/value state with an ordered event history)
//   - Events (immutable records that carry atomic state deltas)
//   - RunContext / ToolContext (scoped execution & tool sandboxing)
//   - EventSink (the commit path events travel through)
//   - The SessionStore contract implemented by the session packages
//
// The package keeps implementation concerns (persistence, concrete nodes,
// model adapters) out of scope, exposing small interfaces to enable custom
// backends and extensions.
package core
