// Package catalog expands the registered benchmark programs into the full
// measurement surface: one test per (program, stage, statistic field)
// combination plus the artifact size probes. The catalog is generated once
// at startup and evaluated against every commit.
package catalog

import (
	"fmt"

	"github.com/benchd/benchd/model"
	"github.com/benchd/benchd/pipeline"
)

// Unit is the measurement unit of a test value.
type Unit string

const (
	UnitTime  Unit = "time"
	UnitBytes Unit = "bytes"
	UnitCount Unit = "count"
)

// Test is one uniform measurement: a stable ID, display metadata, and a
// Sample operation producing a single scalar against whatever toolchain is
// currently built. Exact tests are deterministic (file sizes); the rest are
// noisy (timings, memory) and are sampled best-of-N by the pipeline.
type Test struct {
	ID          string
	Name        string
	Description string
	Unit        Unit
	Exact       bool

	sample func() (float64, error)
}

// Sample evaluates the test against the currently built toolchain.
func (t *Test) Sample() (float64, error) { return t.sample() }

// measuredStages are the stages whose stats become tests. The source stage
// writes a file and is not worth measuring.
var measuredStages = []pipeline.StageKind{pipeline.StageCompile, pipeline.StageLink, pipeline.StageRun}

// Generate builds the full test catalog over the given pipelines: the
// cross-product of every program with every measured stage and every
// statistic field, plus the compiled-object and executable size probes.
func Generate(pipes []*pipeline.Pipeline) []*Test {
	var tests []*Test
	for _, p := range pipes {
		prog := p.Program()
		iters := max(1, prog.Iterations)

		for _, kind := range measuredStages {
			for _, field := range model.StatFields {
				unit := UnitTime
				if field == model.FieldMaxRSS {
					unit = UnitBytes
				}
				tests = append(tests, &Test{
					ID:          fmt.Sprintf("%s-%s-%s", prog.ID, kind, field),
					Name:        fmt.Sprintf("%s %s %s", prog.Name, kind, field),
					Description: fmt.Sprintf("%s of the %s stage for %q, best of %d runs", field, kind, prog.Name, iters),
					Unit:        unit,
					sample:      statSampler(p, kind, field, iters),
				})
			}
		}

		tests = append(tests,
			&Test{
				ID:          prog.ID + "-objsize",
				Name:        prog.Name + " object size",
				Description: fmt.Sprintf("size of the compiled object file for %q", prog.Name),
				Unit:        UnitBytes,
				Exact:       true,
				sample:      sizeSampler(p, pipeline.StageCompile),
			},
			&Test{
				ID:          prog.ID + "-exesize",
				Name:        prog.Name + " executable size",
				Description: fmt.Sprintf("size of the linked executable for %q", prog.Name),
				Unit:        UnitBytes,
				Exact:       true,
				sample:      sizeSampler(p, pipeline.StageLink),
			},
		)
	}
	return tests
}

func statSampler(p *pipeline.Pipeline, kind pipeline.StageKind, field model.StatField, iters int) func() (float64, error) {
	return func() (float64, error) {
		t := p.Target(kind)
		if err := t.Need(iters); err != nil {
			return 0, err
		}
		return field.Get(t.Best()), nil
	}
}

func sizeSampler(p *pipeline.Pipeline, kind pipeline.StageKind) func() (float64, error) {
	return func() (float64, error) {
		if err := p.Target(kind).Need(1); err != nil {
			return 0, err
		}
		size, err := p.ArtifactSize(kind)
		if err != nil {
			return 0, err
		}
		return float64(size), nil
	}
}
