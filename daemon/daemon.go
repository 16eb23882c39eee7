// Package daemon drives the benchmarking cycle: refresh history, rank
// commits, build and measure the best candidates, persist, idle, repeat.
package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchd/benchd/catalog"
	"github.com/benchd/benchd/config"
	"github.com/benchd/benchd/model"
	"github.com/benchd/benchd/pipeline"
	"github.com/benchd/benchd/scheduler"
	"github.com/benchd/benchd/snapshot"
	"github.com/benchd/benchd/vcs"
)

// Store is the persistence the daemon needs. *store.Store satisfies it.
type Store interface {
	Results() model.ResultMatrix
	BuildFailed(hash string) bool
	RecordCommit(c model.Commit) error
	MarkBuildFailed(hash string) error
	RecordResults(results []model.TestResult) error
	Commits() ([]model.Commit, error)
}

// Daemon is the single sequential worker. One commit is fully prepared and
// tested before the next candidate is considered; one measurement completes
// before the next begins. The scratch directories and the process-wide PATH
// override are exclusively owned by whichever pipeline is executing.
type Daemon struct {
	logger zerolog.Logger
	cfg    config.Config
	mgr    vcs.Manager
	store  Store

	pipes      []*pipeline.Pipeline
	tests      []*catalog.Test
	schedTests []scheduler.Test

	sleep func(ctx context.Context, d time.Duration) bool // replaced for testing
}

// New wires the daemon: one pipeline per program under an exclusive scratch
// subdirectory, and the test catalog generated once over them.
func New(logger zerolog.Logger, cfg config.Config, mgr vcs.Manager, st Store) *Daemon {
	d := &Daemon{
		logger: logger,
		cfg:    cfg,
		mgr:    mgr,
		store:  st,
		sleep:  sleepCtx,
	}
	for _, prog := range cfg.Programs {
		scratch := filepath.Join(cfg.ScratchDir, prog.ID)
		d.pipes = append(d.pipes, pipeline.New(logger, prog, scratch, mgr.ToolchainBin(), cfg.Compiler))
	}
	d.tests = catalog.Generate(d.pipes)
	for _, t := range d.tests {
		d.schedTests = append(d.schedTests, scheduler.Test{ID: t.ID, Exact: t.Exact})
	}
	logger.Info().
		Int("programs", len(d.pipes)).
		Int("tests", len(d.tests)).
		Msg("Generated test catalog")
	return d
}

// Tests returns the generated catalog.
func (d *Daemon) Tests() []*catalog.Test { return d.tests }

// Pipelines returns the per-program pipelines.
func (d *Daemon) Pipelines() []*pipeline.Pipeline { return d.pipes }

// Run executes the cycle until ctx is canceled. Repository update failures
// are retried after a fixed delay and never terminate the daemon; store
// failures and invariant violations propagate.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		commits, cached, err := d.Refresh()
		if err != nil {
			d.logger.Warn().Err(err).
				Dur("retry_in", time.Duration(d.cfg.RetryDelay)).
				Msg("Repository refresh failed")
			if !d.sleep(ctx, time.Duration(d.cfg.RetryDelay)) {
				return ctx.Err()
			}
			continue
		}
		if err := d.processBatch(ctx, commits, cached); err != nil {
			return err
		}
		if err := d.ExportSnapshot(); err != nil {
			return err
		}
		if !d.sleep(ctx, time.Duration(d.cfg.IdleInterval)) {
			return ctx.Err()
		}
	}
}

// Refresh updates the repository, reads the commit log, records any new
// commits, and probes the build cache. A failure anywhere is transient and
// leaves no partial effect the next attempt cannot redo.
func (d *Daemon) Refresh() ([]model.Commit, map[string]bool, error) {
	if err := d.mgr.Update(); err != nil {
		return nil, nil, err
	}
	commits, err := d.mgr.CommitLog()
	if err != nil {
		return nil, nil, err
	}

	for i := range commits {
		if err := d.store.RecordCommit(commits[i]); err != nil {
			return nil, nil, err
		}
		commits[i].BuildFailed = d.store.BuildFailed(commits[i].Hash)
	}

	cached, err := d.mgr.CacheState(commits)
	if err != nil {
		return nil, nil, err
	}

	d.logger.Debug().
		Int("commits", len(commits)).
		Msg("Refreshed history")
	return commits, cached, nil
}

// Rank runs the scheduler over the current results matrix.
func (d *Daemon) Rank(commits []model.Commit, cached map[string]bool) []scheduler.Candidate {
	return scheduler.Rank(commits, func(hash string) bool { return cached[hash] }, d.schedTests, d.store.Results(), d.cfg.Weights)
}

// processBatch walks the ranking in descending score order. The batch is
// cut short once elapsed time exceeds the update interval, so the history
// is refreshed at least that often even with a large backlog.
func (d *Daemon) processBatch(ctx context.Context, commits []model.Commit, cached map[string]bool) error {
	start := time.Now()
	for _, cand := range d.Rank(commits, cached) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > time.Duration(d.cfg.UpdateInterval) {
			d.logger.Debug().Msg("Batch cut short for history refresh")
			return nil
		}
		if err := d.ProcessCommit(cand.Commit); err != nil {
			return err
		}
	}
	return nil
}

// ProcessCommit prepares one commit and runs its missing tests. Commits
// already known unbuildable or fully measured are skipped cheaply. A build
// failure permanently marks the commit unbuildable; a measurement failure
// is recorded as an error string with a zero value.
func (d *Daemon) ProcessCommit(c model.Commit) error {
	logger := d.logger.With().Str("commit", shortHash(c.Hash)).Logger()

	if c.BuildFailed || d.store.BuildFailed(c.Hash) {
		logger.Debug().Msg("Skipping unbuildable commit")
		return nil
	}
	missing := d.missingTests(c.Hash)
	if len(missing) == 0 {
		return nil
	}

	if err := d.mgr.BuildRevision(c.Hash); err != nil {
		if !errors.Is(err, vcs.ErrBuild) {
			return err
		}
		logger.Warn().Err(err).Msg("Build failed, excluding commit permanently")
		return d.store.MarkBuildFailed(c.Hash)
	}

	// Record which submodule revisions went into the build. One ls-tree
	// per built commit; pins are informational, so a failure here never
	// aborts the measurement batch.
	if pins, err := d.mgr.SubmoduleHistory([]string{c.Hash}); err != nil {
		logger.Warn().Err(err).Msg("Reading submodule pins failed")
	} else if len(pins[c.Hash]) > 0 {
		logger.Info().Interface("submodules", pins[c.Hash]).Msg("Built with pinned submodules")
	}

	// The toolchain changed; every pipeline starts over, exactly once for
	// this commit's batch.
	for _, p := range d.pipes {
		p.Reset()
	}

	logger.Info().Int("tests", len(missing)).Msg("Measuring commit")
	results := make([]model.TestResult, 0, len(missing))
	for _, t := range missing {
		r := model.TestResult{TestID: t.ID, Commit: c.Hash}
		value, err := t.Sample()
		switch {
		case err == nil:
			r.Value = value
		case errors.Is(err, pipeline.ErrMeasurement):
			logger.Warn().Err(err).Str("test", t.ID).Msg("Measurement failed")
			r.Error = err.Error()
		default:
			return err
		}
		results = append(results, r)
	}
	return d.store.RecordResults(results)
}

// ExportSnapshot writes the presentation-layer artifact, if configured.
func (d *Daemon) ExportSnapshot() error {
	if d.cfg.Snapshot == "" {
		return nil
	}
	commits, err := d.store.Commits()
	if err != nil {
		return err
	}
	snap := snapshot.Build(commits, d.store.Results(), d.tests)
	if err := snapshot.Write(d.cfg.Snapshot, snap); err != nil {
		return err
	}
	d.logger.Debug().Str("path", d.cfg.Snapshot).Msg("Exported snapshot")
	return nil
}

// missingTests returns the catalog entries without a recorded result for
// the commit.
func (d *Daemon) missingTests(hash string) []*catalog.Test {
	var missing []*catalog.Test
	for _, t := range d.tests {
		if !d.store.Results().Has(t.ID, hash) {
			missing = append(missing, t)
		}
	}
	return missing
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
