// Package snapshot serializes the full data set (commits, results, test
// catalog metadata) into a compressed artifact for the separate
// presentation layer.
package snapshot

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/benchd/benchd/catalog"
	"github.com/benchd/benchd/model"
)

// TestInfo is the exported metadata of one catalog entry.
type TestInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	Exact       bool   `json:"exact"`
}

// Snapshot is the export artifact payload.
type Snapshot struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Commits     []model.Commit     `json:"commits"`
	Results     []model.TestResult `json:"results"`
	Tests       []TestInfo         `json:"tests"`
}

// Build assembles a snapshot. Results are emitted in (test, commit) order
// so identical inputs produce identical artifacts.
func Build(commits []model.Commit, results model.ResultMatrix, tests []*catalog.Test) Snapshot {
	snap := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Commits:     commits,
	}
	for _, t := range tests {
		snap.Tests = append(snap.Tests, TestInfo{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Unit:        string(t.Unit),
			Exact:       t.Exact,
		})
	}
	for _, r := range results {
		snap.Results = append(snap.Results, r)
	}
	slices.SortFunc(snap.Results, func(a, b model.TestResult) int {
		if c := strings.Compare(a.TestID, b.TestID); c != 0 {
			return c
		}
		return strings.Compare(a.Commit, b.Commit)
	})
	return snap
}

// Write stores the snapshot as gzip-compressed JSON at path, written to a
// temp file first and renamed into place so consumers never observe a
// partial artifact.
func Write(path string, snap Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read loads a snapshot artifact, for tooling and tests.
func Read(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	defer zr.Close()
	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
