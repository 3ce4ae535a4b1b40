// Package agent provides the node variants and composites of an
// orchestration tree.
//
// Leaves:
//   - GeneratorAgent: renders a prompt from state and calls a model.Model
//   - ToolAgent: invokes a tool.Tool and absorbs tool failures into a flag
//   - RouterAgent: classifies the input into one of a fixed set of labels
//   - CustomAgent and ConditionAgent: user code and loop exit checks
//
// Composites:
//   - SequentialAgent: ordered steps, stops on escalation
//   - ParallelAgent: isolated concurrent branches merged at a barrier
//   - ConditionalAgent: runs exactly one routed branch
//   - LoopAgent: bounded iteration until a child escalates
//   - NewReflectionLoop: generate, critique and refine until a sentinel appears
//
// Every node writes state only by emitting events through its RunContext and
// returns its terminal event so enclosing composites can inspect its status.
package agent
