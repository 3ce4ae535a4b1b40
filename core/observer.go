package core

import "time"

// Observer receives execution notifications for metrics collection.
// Implementations must be safe for concurrent use.
type Observer interface {
	NodeFinished(node, kind string, elapsed time.Duration, status Status, err error)
	LoopFinished(loop string, iterations int, status Status)
	GuardrailRejected(node, guardrail string)
	RunFinished(status Status, elapsed time.Duration)
}

// NoOpObserver discards all notifications.
type NoOpObserver struct{}

func (NoOpObserver) NodeFinished(string, string, time.Duration, Status, error) {}
func (NoOpObserver) LoopFinished(string, int, Status)                          {}
func (NoOpObserver) GuardrailRejected(string, string)                          {}
func (NoOpObserver) RunFinished(Status, time.Duration)                         {}
