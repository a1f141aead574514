package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowan/internal/tree"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Commit(t *testing.T) {
	s := loadTestScenario(t, "commit")

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed, "failures: %v", result.Errors)
	assert.Equal(t, int64(1), result.Stats.Committed)
	assert.True(t, tree.Equal(tree.Int(6), tree.GetAt(result.FinalRoot, tree.MustParsePath("/counter"))))
}

func TestRun_ConflictRetry(t *testing.T) {
	s := loadTestScenario(t, "conflict-retry")

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed, "failures: %v", result.Errors)
	assert.Equal(t, int64(1), result.Stats.Conflicts)
}

func TestRun_Decline(t *testing.T) {
	s := loadTestScenario(t, "decline")

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed, "failures: %v", result.Errors)
	assert.Equal(t, int64(1), result.Stats.Aborted)
}

func TestRun_Denied(t *testing.T) {
	s := loadTestScenario(t, "denied")

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed, "failures: %v", result.Errors)
	assert.Equal(t, int64(1), result.Stats.Failed)
}

func TestRun_PutBetweenTransactions(t *testing.T) {
	s := loadTestScenario(t, "put-between-transactions")

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed, "failures: %v", result.Errors)
	assert.Equal(t, int64(2), result.Stats.Committed)
}

func TestRun_ExpectFailureIsReported(t *testing.T) {
	s := loadTestScenario(t, "commit")
	s.Steps[0].Transaction.Expect.Snapshot = 999

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "snapshot mismatch")
}

func TestRun_AssertionFailureIsReported(t *testing.T) {
	s := loadTestScenario(t, "commit")
	s.Assertions = []Assertion{{Type: AssertFinalValue, Path: "/counter", Value: 999}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "final_value")
}

func TestRunWithGolden_AllScenarios(t *testing.T) {
	names := []string{
		"commit",
		"conflict-retry",
		"decline",
		"denied",
		"put-between-transactions",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s := loadTestScenario(t, name)
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Passed, "failures: %v", result.Errors)
		})
	}
}
