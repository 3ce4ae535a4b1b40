package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLevel("verbose"))
}

func TestZapAdapter_StructuredFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Info("node.completed", "node", "writer", "iteration", 2)
	l.Debug("node.started", "node", "writer")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "node.completed", entries[0].Message)
	assert.Equal(t, "writer", entries[0].ContextMap()["node"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["iteration"])
}

func TestNew_BuildsConsoleAndJSON(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New(Config{Level: LogLevelWarn, Format: format, OutputPaths: []string{"stderr"}})
		require.NoError(t, err)
		assert.NotNil(t, l.Zap())
	}
}
