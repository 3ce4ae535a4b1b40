package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineYAML = `
name: greet
root:
  name: greeter
  type: generator
  model: default
  prompt: "Greet {{.User.name}}: {{.Input}}"
  output_key: greeting
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// execute runs the CLI against a sqlite-backed configuration in dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	cfgPath := writeFile(t, dir, "meshflow.yaml", `
log:
  level: error
  output_paths: [stderr]
store:
  driver: sqlite
  database:
    dsn: `+filepath.Join(dir, "sessions.db")+`
model:
  provider: mock
`)

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--env-prefix", "MESHFLOW_CLI_TEST"}, args...))

	metricsRegistry = prometheus.NewRegistry()
	t.Cleanup(func() { metricsRegistry = nil })

	err := cmd.Execute()

	return out.String(), err
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", pipelineYAML)
	bad := writeFile(t, dir, "bad.yaml", "name: broken\nroot:\n  name: x\n  type: loop\n")

	out, err := execute(t, dir, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "good.yaml: ok")

	out, err = execute(t, dir, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "bad.yaml: invalid")
	assert.Contains(t, err.Error(), "1 of 2 pipelines invalid")
}

func TestSessionsAndRun(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "greet.yaml", pipelineYAML)

	out, err := execute(t, dir, "sessions", "create", "--user", "ada", "--id", "s1", "--state", "user:name=Ada")
	require.NoError(t, err)
	assert.Equal(t, "s1", strings.TrimSpace(out))

	out, err = execute(t, dir, "run", path, "--session", "s1", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "[user] -: hello there")
	assert.Contains(t, out, "[greeter] completed: Mock response to: Greet Ada: hello there")
	assert.Contains(t, out, "[final] completed:")

	out, err = execute(t, dir, "sessions", "list", "--user", "ada")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "s1\t"))

	out, err = execute(t, dir, "sessions", "show", "s1", "--history")
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "Mock response to: Greet Ada: hello there", view["state"].(map[string]any)["greeting"])
	assert.Equal(t, "Ada", view["user"].(map[string]any)["name"])
	assert.Len(t, view["events"], 3)
}

func TestRun_JSONNewSession(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "greet.yaml", pipelineYAML)

	out, err := execute(t, dir, "run", path, "--json", "--user", "grace", "hi")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "session "))

	var final map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &final))
	assert.Equal(t, "runner", final["author"])
	assert.Equal(t, true, final["final"])
}

func TestRun_UnknownSession(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "greet.yaml", pipelineYAML)

	_, err := execute(t, dir, "run", path, "--session", "missing", "hi")
	require.Error(t, err)
}

func TestConfig(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite")

	out, err = execute(t, dir, "config", "--env")
	require.NoError(t, err)
	assert.Contains(t, out, "MESHFLOW_CLI_TEST_STORE_DRIVER\n")
}
