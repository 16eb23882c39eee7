package vcs

// This file contains the git-backed Manager: history via git subprocesses,
// builds via a configured command, and a per-commit artifact cache with a
// "current" symlink selecting the active toolchain.

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/benchd/benchd/model"
)

// Git tracks one branch of a git repository and builds it in place.
// History is read from the remote-tracking ref when a remote exists, so it
// stays correct while the checkout sits detached on whatever commit was
// built last.
type Git struct {
	logger zerolog.Logger

	repoDir     string   // checkout the builds run in
	branch      string   // tracked branch
	buildCmd    []string // command run inside repoDir, e.g. ["make", "-j4"]
	buildOutput string   // bin directory the build produces, relative to repoDir
	artifactDir string   // per-commit cached toolchains live under here
}

// NewGit returns a Manager over the repository at repoDir. buildCmd runs
// inside the checkout; buildOutput is the bin directory it produces,
// relative to repoDir. Cached toolchains are stored under
// artifactDir/<hash> with artifactDir/current pointing at the active one.
func NewGit(logger zerolog.Logger, repoDir, branch string, buildCmd []string, buildOutput, artifactDir string) *Git {
	return &Git{
		logger:      logger.With().Str("repo", filepath.Base(repoDir)).Logger(),
		repoDir:     repoDir,
		branch:      branch,
		buildCmd:    buildCmd,
		buildOutput: buildOutput,
		artifactDir: artifactDir,
	}
}

// git runs a git command in the repository and returns its trimmed output.
func (g *Git) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// hasRemote reports whether the repository has any remote configured.
// Without one (a purely local mirror) history is read from the local
// branch and Update is a no-op.
func (g *Git) hasRemote() (bool, error) {
	remotes, err := g.git("remote")
	if err != nil {
		return false, err
	}
	return remotes != "", nil
}

// logRef is the ref history is read from.
func (g *Git) logRef() (string, error) {
	remote, err := g.hasRemote()
	if err != nil {
		return "", err
	}
	if remote {
		return "origin/" + g.branch, nil
	}
	return g.branch, nil
}

func (g *Git) Update() error {
	remote, err := g.hasRemote()
	if err != nil {
		return err
	}
	if !remote {
		g.logger.Debug().Msg("No remote configured, skipping fetch")
		return nil
	}
	g.logger.Debug().Msg("Refreshing repository")
	_, err = g.git("fetch", "--quiet", "origin")
	return err
}

func (g *Git) CommitLog() ([]model.Commit, error) {
	ref, err := g.logRef()
	if err != nil {
		return nil, err
	}
	out, err := g.git("log", "--reverse", "--format=%H%x09%at%x09%s", ref)
	if err != nil {
		return nil, err
	}
	var commits []model.Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed git log line: %q", line)
		}
		unix, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed commit time in %q: %w", line, err)
		}
		commits = append(commits, model.Commit{
			Hash:    fields[0],
			Message: fields[2],
			Time:    time.Unix(unix, 0).UTC(),
		})
	}
	return commits, nil
}

func (g *Git) SubmoduleHistory(refs []string) (map[string]map[string]string, error) {
	history := make(map[string]map[string]string, len(refs))
	for _, ref := range refs {
		out, err := g.git("ls-tree", ref)
		if err != nil {
			return nil, err
		}
		pins := make(map[string]string)
		for _, line := range strings.Split(out, "\n") {
			// Submodule entries: "160000 commit <hash>\t<path>"
			if !strings.HasPrefix(line, "160000 ") {
				continue
			}
			meta, path, ok := strings.Cut(line, "\t")
			if !ok {
				continue
			}
			fields := strings.Fields(meta)
			if len(fields) == 3 {
				pins[path] = fields[2]
			}
		}
		history[ref] = pins
	}
	return history, nil
}

func (g *Git) CacheState(history []model.Commit) (map[string]bool, error) {
	state := make(map[string]bool, len(history))
	for _, c := range history {
		_, err := os.Stat(filepath.Join(g.artifactDir, c.Hash))
		state[c.Hash] = err == nil
	}
	return state, nil
}

// ToolchainBin returns the bin directory of the active toolchain.
func (g *Git) ToolchainBin() string {
	return filepath.Join(g.artifactDir, "current", filepath.Base(g.buildOutput))
}

func (g *Git) BuildRevision(hash string) error {
	cached := filepath.Join(g.artifactDir, hash)
	if _, err := os.Stat(cached); err == nil {
		g.logger.Debug().Str("commit", hash).Msg("Reusing cached toolchain")
		return g.activate(cached)
	}

	g.logger.Info().Str("commit", hash).Msg("Building toolchain")
	if _, err := g.git("checkout", "--detach", "--quiet", hash); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}

	cmd := exec.Command(g.buildCmd[0], g.buildCmd[1:]...)
	cmd.Dir = g.repoDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	g.logger.Debug().Str("cmd", shellescape.QuoteCommand(g.buildCmd)).Msg("Running build command")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: revision %s: %v", ErrBuild, hash, err)
	}

	// Copy the build output into the per-commit cache, then activate it.
	// The build itself succeeded at this point; cache and symlink
	// maintenance failures are transient and must not wrap ErrBuild, or
	// the commit would be persisted as unbuildable.
	if err := os.MkdirAll(cached, 0755); err != nil {
		return fmt.Errorf("create cache dir for %s: %w", hash, err)
	}
	cp := exec.Command("cp", "-a", filepath.Join(g.repoDir, g.buildOutput), cached)
	if out, err := cp.CombinedOutput(); err != nil {
		os.RemoveAll(cached)
		return fmt.Errorf("cache artifacts for %s: %w\n%s", hash, err, out)
	}
	return g.activate(cached)
}

// activate points the "current" symlink at the given cached toolchain.
func (g *Git) activate(cached string) error {
	current := filepath.Join(g.artifactDir, "current")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace current toolchain link: %w", err)
	}
	if err := os.Symlink(cached, current); err != nil {
		return fmt.Errorf("link current toolchain: %w", err)
	}
	return nil
}
