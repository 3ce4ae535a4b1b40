// Package logging provides a minimal logging interface and adapters for meshflow.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error) that the runner and nodes use for observability. This package
// includes:
//
//   - Logger interface for dependency injection
//   - ZapAdapter backed by go.uber.org/zap (the default for binaries)
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger, _ := logging.New(logging.Config{Level: logging.LogLevelDebug, Format: "console"})
//	r := runner.New(root, func(o *runner.Options) { o.Logger = logger })
package logging
