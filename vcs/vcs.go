// Package vcs provides access to the tracked repository: refreshing and
// reading its history, probing the build cache, and building the toolchain
// at a given revision.
package vcs

import (
	"errors"

	"github.com/benchd/benchd/model"
)

// ErrBuild marks a failed build attempt for a revision. The daemon treats
// it as permanent: the commit is excluded from all future build attempts.
var ErrBuild = errors.New("build failed")

// Manager is the version/build interface the daemon drives.
type Manager interface {
	// Update refreshes all tracked repositories. Idempotent and retryable;
	// failures are transient.
	Update() error

	// CommitLog returns the full history, oldest first.
	CommitLog() ([]model.Commit, error)

	// SubmoduleHistory maps each given ref to its pinned submodule
	// commits, keyed by submodule path.
	SubmoduleHistory(refs []string) (map[string]map[string]string, error)

	// CacheState reports, per commit, whether a build artifact already
	// exists on disk without rebuilding.
	CacheState(history []model.Commit) (map[string]bool, error)

	// BuildRevision builds the toolchain at hash, or reuses the cached
	// artifact, leaving a runnable toolchain at ToolchainBin. A failed
	// checkout or build command wraps ErrBuild; cache and symlink
	// maintenance failures are transient and do not.
	BuildRevision(hash string) error

	// ToolchainBin is the stable bin directory of whatever revision
	// BuildRevision most recently materialized.
	ToolchainBin() string
}
