package model

import "time"

// Commit is one entry of the tracked repository's history.
// Commits are immutable once recorded except for BuildFailed, which only
// ever transitions false to true.
type Commit struct {
	// Full commit hash, unique key
	Hash string `json:"hash"`
	// Commit subject (the first message line)
	Message string `json:"message"`
	// Author timestamp
	Time time.Time `json:"time"`
	// Set once a build attempt for this commit has failed; such a commit
	// is permanently excluded from future build attempts
	BuildFailed bool `json:"build_failed"`
}

// TestResult is one recorded measurement: the value of a single test at a
// single commit. A (TestID, Commit) pair is written at most once; failed
// measurements carry a zero value and a non-empty Error.
type TestResult struct {
	TestID string  `json:"test_id"`
	Commit string  `json:"commit"`
	Value  float64 `json:"value"`
	Error  string  `json:"error,omitempty"`
}

// ResultKey identifies a TestResult.
type ResultKey struct {
	TestID string
	Commit string
}

// ResultMatrix is the complete in-memory mirror of recorded results,
// keyed by (test, commit).
type ResultMatrix map[ResultKey]TestResult

// Value returns the recorded value for (testID, commit) and whether one
// exists. Results recorded with an error report ok but a zero value.
func (m ResultMatrix) Value(testID, commit string) (float64, bool) {
	r, ok := m[ResultKey{TestID: testID, Commit: commit}]
	return r.Value, ok
}

// Has reports whether a result is recorded for (testID, commit).
func (m ResultMatrix) Has(testID, commit string) bool {
	_, ok := m[ResultKey{TestID: testID, Commit: commit}]
	return ok
}
