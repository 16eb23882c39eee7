//go:build !unix

package proc

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/benchd/benchd/model"
)

// run is the portable fallback. Without wait4/rusage only wall time is a
// meaningful measurement here; user and kernel time come from the coarse
// ProcessState accounting and MaxRSS is reported as zero. This is an
// accepted limitation on these platforms.
func run(argv []string, dir string) (model.ExecutionStats, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	err := cmd.Run()
	real := time.Since(start)

	stats := model.ExecutionStats{RealTime: real}
	if ps := cmd.ProcessState; ps != nil {
		stats.UserTime = ps.UserTime()
		stats.KernelTime = ps.SystemTime()
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stats, fmt.Errorf("%s: exit status %d", argv[0], exitErr.ExitCode())
		}
		return stats, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return stats, nil
}
