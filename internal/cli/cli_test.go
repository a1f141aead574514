package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commitScenario = `name: commit
description: single increment commits
initial:
  counter: 5
steps:
  - transaction:
      path: /counter
      op: increment
      expect:
        committed: true
        snapshot: 6
assertions:
  - type: final_value
    path: /counter
    value: 6
  - type: stats
    committed: 1
`

const brokenScenario = `name: broken
description: op typo
steps:
  - transaction:
      path: /x
      op: incremant
`

func writeScenario(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "validate", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidate_ValidScenario(t *testing.T) {
	path := writeScenario(t, "commit.yaml", commitScenario)

	out, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestValidate_BrokenScenarioFails(t *testing.T) {
	path := writeScenario(t, "broken.yaml", brokenScenario)

	out, _, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed")
}

func TestValidate_MissingPathIsCommandError(t *testing.T) {
	_, _, err := execute(t, "validate", "/no/such/file.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_PassingScenario(t *testing.T) {
	path := writeScenario(t, "commit.yaml", commitScenario)

	out, _, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ commit")
}

func TestRun_FailingScenarioExitsNonzero(t *testing.T) {
	failing := `name: failing
description: wrong final value
initial:
  counter: 1
steps:
  - transaction:
      path: /counter
      op: increment
assertions:
  - type: final_value
    path: /counter
    value: 999
`
	path := writeScenario(t, "failing.yaml", failing)

	out, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
}

func TestRun_JSONOutput(t *testing.T) {
	path := writeScenario(t, "commit.yaml", commitScenario)

	out, _, err := execute(t, "run", path, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRun_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(commitScenario), 0o644))

	out, _, err := execute(t, "run", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ commit")
}

func TestTrace_TextOutput(t *testing.T) {
	path := writeScenario(t, "commit.yaml", commitScenario)

	out, _, err := execute(t, "trace", path)
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued")
	assert.Contains(t, out, "sent")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "txn-1")
}

func TestTrace_JSONOutput(t *testing.T) {
	path := writeScenario(t, "commit.yaml", commitScenario)

	out, _, err := execute(t, "trace", path, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	events, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, events, 4, "enqueued, attempt, sent, completed")
}
