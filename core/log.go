package core

import (
	"github.com/hupe1980/meshflow/logging"
)

// scopedLogger prefixes every record with key/value pairs identifying where
// it was produced.
type scopedLogger struct {
	logger logging.Logger
	fields []any
}

func (s scopedLogger) with(args []any) []any {
	if len(s.fields) == 0 {
		return args
	}
	out := make([]any, 0, len(s.fields)+len(args))
	return append(append(out, s.fields...), args...)
}

func (s scopedLogger) debug(msg string, args []any) { s.logger.Debug(msg, s.with(args)...) }
func (s scopedLogger) info(msg string, args []any)  { s.logger.Info(msg, s.with(args)...) }
func (s scopedLogger) warn(msg string, args []any)  { s.logger.Warn(msg, s.with(args)...) }
func (s scopedLogger) err(msg string, args []any)   { s.logger.Error(msg, s.with(args)...) }

// helperFrames are the frames between a Log* call site and the logger:
// the Log* method and the scopedLogger method.
const helperFrames = 2

func orNoOp(l logging.Logger) logging.Logger {
	if l == nil {
		return logging.NoOpLogger{}
	}
	return l
}

// Logger returns the logger of the run.
func (rc *RunContext) Logger() logging.Logger { return rc.logger }

func (rc *RunContext) scoped() scopedLogger {
	fields := []any{"run_id", rc.RunID}
	if rc.Branch != "" {
		fields = append(fields, "branch", rc.Branch)
	}
	if rc.Iteration > 0 {
		fields = append(fields, "iteration", rc.Iteration)
	}
	return scopedLogger{logger: rc.helperLogger, fields: fields}
}

// LogDebug logs at debug level tagged with the run, branch and iteration.
func (rc *RunContext) LogDebug(msg string, args ...any) { rc.scoped().debug(msg, args) }

// LogInfo logs at info level tagged with the run, branch and iteration.
func (rc *RunContext) LogInfo(msg string, args ...any) { rc.scoped().info(msg, args) }

// LogWarn logs at warn level tagged with the run, branch and iteration.
func (rc *RunContext) LogWarn(msg string, args ...any) { rc.scoped().warn(msg, args) }

// LogError logs at error level tagged with the run, branch and iteration.
func (rc *RunContext) LogError(msg string, args ...any) { rc.scoped().err(msg, args) }

func (tc *ToolContext) scoped() scopedLogger {
	s := tc.runCtx.scoped()
	s.fields = append(s.fields, "node", tc.runCtx.Agent.Name, "tool_call_id", tc.functionCallID)
	return s
}

// LogDebug logs at debug level tagged with the run and tool call.
func (tc *ToolContext) LogDebug(msg string, args ...any) { tc.scoped().debug(msg, args) }

// LogInfo logs at info level tagged with the run and tool call.
func (tc *ToolContext) LogInfo(msg string, args ...any) { tc.scoped().info(msg, args) }

// LogWarn logs at warn level tagged with the run and tool call.
func (tc *ToolContext) LogWarn(msg string, args ...any) { tc.scoped().warn(msg, args) }

// LogError logs at error level tagged with the run and tool call.
func (tc *ToolContext) LogError(msg string, args ...any) { tc.scoped().err(msg, args) }
