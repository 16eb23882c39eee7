// Package pipeline implements the per-program build and measurement
// pipeline: a linear Source -> Compile -> Link -> Run dependency chain with
// run-count-based caching and best-of-N statistics collection.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/benchd/benchd/model"
	"github.com/benchd/benchd/proc"
)

// ErrMeasurement marks a failed measurement: a child process that was
// signaled or exited non-zero, or an expected output artifact that is
// missing. It aborts only the current sample and never corrupts previously
// accumulated best stats.
var ErrMeasurement = errors.New("measurement failed")

// Program is one static catalog entry: a benchmark program source and how
// many times its final stage should be sampled.
type Program struct {
	// Stable identifier, used in file names and test IDs
	ID string `yaml:"id"`
	// Human-readable display name
	Name string `yaml:"name"`
	// Program source text; dedented and tab-normalized before writing
	Source string `yaml:"source"`
	// Best-of-N sample count for the measured stage
	Iterations int `yaml:"iterations"`
}

// Runner executes one external command in a directory and reports its
// stats. Replaced for testing.
type Runner func(argv []string, dir string) (model.ExecutionStats, error)

// Pipeline owns the four-stage target chain for a single program together
// with its exclusive scratch directory. The compiler is resolved through
// PATH, which is prefixed with the toolchain bin directory for the duration
// of each stage execution.
type Pipeline struct {
	logger   zerolog.Logger
	prog     Program
	scratch  string // exclusive scratch dir, destroyed and recreated by the source stage
	toolBin  string // locally built toolchain bin directory
	compiler string // compiler binary name, looked up via the prefixed PATH
	runner   Runner

	targets [stageCount]*Target
}

// New constructs the pipeline for prog. scratch must be a directory path
// exclusively owned by this pipeline; toolBin is the toolchain bin
// directory prefixed onto PATH per stage execution.
func New(logger zerolog.Logger, prog Program, scratch, toolBin, compiler string) *Pipeline {
	p := &Pipeline{
		logger:   logger.With().Str("program", prog.ID).Logger(),
		prog:     prog,
		scratch:  scratch,
		toolBin:  toolBin,
		compiler: compiler,
		runner:   proc.Run,
	}
	p.Reset()
	return p
}

// SetRunner replaces process execution, for tests.
func (p *Pipeline) SetRunner(r Runner) { p.runner = r }

// Program returns the program this pipeline builds.
func (p *Pipeline) Program() Program { return p.prog }

// Target returns the node for the given stage kind.
func (p *Pipeline) Target(kind StageKind) *Target { return p.targets[kind] }

// Reset discards all cached run state, returning every stage to zero runs
// with sentinel best stats. Called once before measuring a new commit.
func (p *Pipeline) Reset() {
	var dep *Target
	for kind := StageSource; kind < stageCount; kind++ {
		t := &Target{p: p, kind: kind, dep: dep, best: model.MaxStats()}
		p.targets[kind] = t
		dep = t
	}
}

// ArtifactPath returns the absolute path of the stage's output artifact, or
// "" if the stage declares none.
func (p *Pipeline) ArtifactPath(kind StageKind) string {
	name := stageTable[kind].output(p)
	if name == "" {
		return ""
	}
	return filepath.Join(p.scratch, name)
}

// ArtifactSize stats the stage's output artifact. The stage must have been
// brought up to date with Need first.
func (p *Pipeline) ArtifactSize(kind StageKind) (int64, error) {
	path := p.ArtifactPath(kind)
	if path == "" {
		return 0, fmt.Errorf("stage %s has no output artifact", kind)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: artifact %s: %v", ErrMeasurement, path, err)
	}
	return info.Size(), nil
}

// writeSource destroys and recreates the scratch directory and writes the
// normalized program text into it.
func (p *Pipeline) writeSource() error {
	if err := os.RemoveAll(p.scratch); err != nil {
		return fmt.Errorf("clean scratch dir: %w", err)
	}
	if err := os.MkdirAll(p.scratch, 0755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	src := filepath.Join(p.scratch, p.prog.ID+".c")
	if err := os.WriteFile(src, []byte(Dedent(p.prog.Source)), 0644); err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	p.logger.Debug().Str("file", src).Msg("Wrote program source")
	return nil
}

// prefixPath prepends the toolchain bin directory onto the process PATH and
// returns the restore function. The restore runs on every exit path of a
// stage execution, success or failure.
func (p *Pipeline) prefixPath() func() {
	old := os.Getenv("PATH")
	os.Setenv("PATH", p.toolBin+string(os.PathListSeparator)+old)
	return func() { os.Setenv("PATH", old) }
}

// Dedent normalizes embedded program text: leading tabs become four spaces,
// surrounding blank lines are dropped, and the common leading indentation
// of the remaining lines is removed.
func Dedent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		n := 0
		for n < len(line) && line[n] == '\t' {
			n++
		}
		if n > 0 {
			lines[i] = strings.Repeat("    ", n) + line[n:]
		}
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " "))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent > 0 {
		for i, line := range lines {
			if len(line) >= indent {
				lines[i] = line[indent:]
			} else {
				lines[i] = strings.TrimLeft(line, " ")
			}
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
