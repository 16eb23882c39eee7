// Package proc spawns a single child process and reports a structured
// resource-accounting measurement for it.
package proc

import (
	"fmt"

	"github.com/benchd/benchd/model"
)

// Run executes argv in dir with inherited standard streams and the current
// process environment, blocks until the child terminates, and returns its
// ExecutionStats. Wall-clock time is measured with a monotonic clock around
// the wait itself, so it is consistent across platforms with different
// accounting granularity.
//
// A child that terminates by signal or exits non-zero yields a non-nil
// error; the returned stats are still the measured sample, which the caller
// must discard.
func Run(argv []string, dir string) (model.ExecutionStats, error) {
	if len(argv) == 0 {
		return model.ExecutionStats{}, fmt.Errorf("proc: empty argv")
	}
	return run(argv, dir)
}
