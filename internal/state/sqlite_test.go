package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore()
	require.NoError(t, s.Open(":memory:"))
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".marketpipe", "state.db")
	s := NewSQLiteStore()
	require.NoError(t, s.Open(path))
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Close())
}

func TestMigrationVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(1))
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev", got.Environment)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteRun(run.ID, RunStatusCompleted, ""))

	got, err = s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestCompleteRunWithError(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(run.ID, RunStatusFailed, "fetch exploded"))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "fetch exploded", got.Error)
}

func TestCompleteRunNotFound(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.CompleteRun("missing", RunStatusCompleted, ""))
}

func TestGetLatestRun(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.GetLatestRun("dev")
	require.NoError(t, err)
	assert.Nil(t, latest, "no runs yet")

	_, err = s.CreateRun("dev")
	require.NoError(t, err)
	second, err := s.CreateRun("dev")
	require.NoError(t, err)
	_, err = s.CreateRun("prod")
	require.NoError(t, err)

	latest, err = s.GetLatestRun("dev")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.CreateRun("dev")
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestStepLifecycle(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)

	fetch, err := s.StartStep(run.ID, "fetch")
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(fetch.ID, StepStatusCompleted, 360, ""))

	build, err := s.StartStep(run.ID, "build")
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(build.ID, StepStatusFailed, 0, "csv missing"))

	steps, err := s.GetStepsForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "fetch", steps[0].Name)
	assert.Equal(t, StepStatusCompleted, steps[0].Status)
	assert.Equal(t, int64(360), steps[0].Rows)
	require.NotNil(t, steps[0].CompletedAt)

	assert.Equal(t, "build", steps[1].Name)
	assert.Equal(t, StepStatusFailed, steps[1].Status)
	assert.Equal(t, "csv missing", steps[1].Error)
}

func TestCompleteStepNotFound(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.CompleteStep("missing", StepStatusCompleted, 0, ""))
}

func TestNotOpened(t *testing.T) {
	s := NewSQLiteStore()

	_, err := s.CreateRun("dev")
	assert.Error(t, err)
	assert.Error(t, s.Migrate())
	_, err = s.ListRuns(10)
	assert.Error(t, err)
}
