package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/benchd/benchd/model"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(zerolog.Nop(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchd.db")
	s := openTestStore(t, path)

	commit := model.Commit{
		Hash:    "abcdef0123456789",
		Message: "speed up the register allocator",
		Time:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.RecordCommit(commit))

	results := []model.TestResult{
		{TestID: "fib-run-realTime", Commit: commit.Hash, Value: 123456},
		{TestID: "fib-objsize", Commit: commit.Hash, Value: 2048},
		{TestID: "sieve-run-realTime", Commit: commit.Hash, Error: "measurement failed: exit status 1"},
	}
	require.NoError(t, s.RecordResults(results))
	require.NoError(t, s.Close())

	// Reloading reproduces an identical matrix.
	s2 := openTestStore(t, path)
	matrix := s2.Results()
	require.Len(t, matrix, 3)
	for _, r := range results {
		got, ok := matrix[model.ResultKey{TestID: r.TestID, Commit: r.Commit}]
		require.True(t, ok, "missing %s", r.TestID)
		require.Equal(t, r, got)
	}

	commits, err := s2.Commits()
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Equal(t, commit, commits[0])
}

func TestWriteThroughMirror(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "benchd.db"))

	require.False(t, s.Results().Has("t", "c"))
	require.NoError(t, s.RecordResults([]model.TestResult{{TestID: "t", Commit: "c", Value: 7}}))
	v, ok := s.Results().Value("t", "c")
	require.True(t, ok)
	require.Equal(t, 7.0, v)
}

func TestResultsWriteAtMostOnce(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "benchd.db"))

	require.NoError(t, s.RecordResults([]model.TestResult{{TestID: "t", Commit: "c", Value: 1}}))
	err := s.RecordResults([]model.TestResult{{TestID: "t", Commit: "c", Value: 2}})
	require.Error(t, err, "a (test, commit) pair is written at most once")

	// The failed batch left the recorded value intact.
	v, ok := s.Results().Value("t", "c")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
}

func TestResultBatchAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchd.db")
	s := openTestStore(t, path)

	require.NoError(t, s.RecordResults([]model.TestResult{{TestID: "t1", Commit: "c", Value: 1}}))

	// A batch containing a conflicting row rolls back entirely.
	err := s.RecordResults([]model.TestResult{
		{TestID: "t2", Commit: "c", Value: 2},
		{TestID: "t1", Commit: "c", Value: 9},
	})
	require.Error(t, err)
	require.False(t, s.Results().Has("t2", "c"), "rolled-back row must not reach the mirror")

	require.NoError(t, s.Close())
	s2 := openTestStore(t, path)
	require.False(t, s2.Results().Has("t2", "c"), "rolled-back row must not reach the database")
}

func TestMarkBuildFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchd.db")
	s := openTestStore(t, path)

	c := model.Commit{Hash: "deadbeef", Message: "broken", Time: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.RecordCommit(c))
	require.False(t, s.BuildFailed(c.Hash))

	require.NoError(t, s.MarkBuildFailed(c.Hash))
	require.True(t, s.BuildFailed(c.Hash))

	// The flag survives a reopen.
	require.NoError(t, s.Close())
	s2 := openTestStore(t, path)
	require.True(t, s2.BuildFailed(c.Hash))
}

func TestRecordCommitImmutable(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "benchd.db"))

	c := model.Commit{Hash: "h", Message: "original", Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.RecordCommit(c))

	// Re-recording with a different message leaves the row untouched.
	c.Message = "rewritten"
	require.NoError(t, s.RecordCommit(c))

	commits, err := s.Commits()
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Equal(t, "original", commits[0].Message)
}
