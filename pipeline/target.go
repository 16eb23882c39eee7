package pipeline

// This file contains the stage table and the generic Need driver that
// implements run-count-memoized execution over it.

import (
	"fmt"
	"os"
	"path/filepath"

	"al.essio.dev/pkg/shellescape"

	"github.com/benchd/benchd/model"
)

// StageKind identifies one node of the Source -> Compile -> Link -> Run
// chain. The set is closed; per-stage behavior lives in stageTable rather
// than in a type hierarchy.
type StageKind uint8

const (
	StageSource StageKind = iota
	StageCompile
	StageLink
	StageRun

	stageCount
)

func (k StageKind) String() string {
	switch k {
	case StageSource:
		return "source"
	case StageCompile:
		return "compile"
	case StageLink:
		return "link"
	case StageRun:
		return "run"
	}
	return "unknown"
}

// stageSpec describes one stage kind: its command line and its expected
// output artifact, both relative to the scratch directory. The source stage
// has neither; it is handled specially by Need.
type stageSpec struct {
	command func(p *Pipeline) []string
	output  func(p *Pipeline) string
}

var stageTable = [stageCount]stageSpec{
	StageSource: {
		command: func(*Pipeline) []string { return nil },
		output:  func(p *Pipeline) string { return p.prog.ID + ".c" },
	},
	StageCompile: {
		command: func(p *Pipeline) []string {
			return []string{p.compiler, "-c", "-o", p.prog.ID + ".o", p.prog.ID + ".c"}
		},
		output: func(p *Pipeline) string { return p.prog.ID + ".o" },
	},
	StageLink: {
		command: func(p *Pipeline) []string {
			return []string{p.compiler, "-o", p.prog.ID + ".exe", p.prog.ID + ".o"}
		},
		output: func(p *Pipeline) string { return p.prog.ID + ".exe" },
	},
	StageRun: {
		command: func(p *Pipeline) []string {
			// Absolute path: exec resolves relative argv[0] against the
			// daemon's cwd, not the command's working directory.
			return []string{filepath.Join(p.scratch, p.prog.ID+".exe")}
		},
		output: func(*Pipeline) string { return "" },
	},
}

// Target is one cache-aware node of a program's stage chain. Runs never
// decreases and Best only improves as Runs grows.
type Target struct {
	p    *Pipeline
	kind StageKind
	dep  *Target

	runs int
	best model.ExecutionStats
}

// Kind returns the node's stage kind.
func (t *Target) Kind() StageKind { return t.kind }

// Runs returns how many satisfying iterations have executed so far.
func (t *Target) Runs() int { return t.runs }

// Best returns the component-wise minimum stats across all runs so far.
func (t *Target) Best() model.ExecutionStats { return t.best }

// Need brings the node up to n runs. The dependency chain is satisfied with
// a single run each (only the final requested stage is sampled repeatedly);
// if n exceeds the current run count, exactly n - runs additional
// iterations execute, each folded into Best via component-wise minimum.
// Calls with n at or below the current run count are pure cache hits.
//
// A failing iteration aborts the call with ErrMeasurement and its stats are
// never folded into Best. Requesting more than one run of the source stage
// is a programming error and panics.
func (t *Target) Need(n int) error {
	if t.dep != nil {
		if err := t.dep.Need(1); err != nil {
			return err
		}
	}
	if n <= t.runs {
		return nil
	}

	if t.kind == StageSource {
		if n > 1 {
			panic(fmt.Sprintf("pipeline: %d runs requested for source stage of %s", n, t.p.prog.ID))
		}
		if err := t.p.writeSource(); err != nil {
			return fmt.Errorf("%w: %v", ErrMeasurement, err)
		}
		t.runs = 1
		return nil
	}

	for t.runs < n {
		stats, err := t.runOnce()
		if err != nil {
			return err
		}
		t.best = t.best.Min(stats)
		t.runs++
	}
	return nil
}

// runOnce executes the stage command a single time inside the scratch
// directory with the toolchain bin dir prefixed onto PATH, restored on
// every exit path. A declared output artifact is deleted beforehand and
// must exist afterwards.
func (t *Target) runOnce() (model.ExecutionStats, error) {
	spec := stageTable[t.kind]
	argv := spec.command(t.p)

	restore := t.p.prefixPath()
	defer restore()

	if out := spec.output(t.p); out != "" {
		if err := os.Remove(filepath.Join(t.p.scratch, out)); err != nil && !os.IsNotExist(err) {
			return model.ExecutionStats{}, fmt.Errorf("remove stale artifact %s: %w", out, err)
		}
	}

	t.p.logger.Debug().
		Str("stage", t.kind.String()).
		Str("cmd", shellescape.QuoteCommand(argv)).
		Msg("Executing stage")

	stats, err := t.p.runner(argv, t.p.scratch)
	if err != nil {
		return model.ExecutionStats{}, fmt.Errorf("%w: stage %s of %s: %v", ErrMeasurement, t.kind, t.p.prog.ID, err)
	}

	if out := spec.output(t.p); out != "" {
		if _, err := os.Stat(filepath.Join(t.p.scratch, out)); err != nil {
			return model.ExecutionStats{}, fmt.Errorf("%w: stage %s of %s produced no artifact %s", ErrMeasurement, t.kind, t.p.prog.ID, out)
		}
	}
	return stats, nil
}
