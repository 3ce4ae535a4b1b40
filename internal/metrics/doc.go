// Package metrics exports run, node, loop and guardrail metrics to
// prometheus. Collector implements core.Observer.
// This package is internal and should not be imported by external projects.
package metrics
