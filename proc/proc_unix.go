//go:build unix

package proc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benchd/benchd/model"
)

// run starts the child with os/exec but waits on it directly with wait4 so
// the rusage accounting for exactly this child is captured alongside the
// exit status. EINTR from the wait is retried transparently.
func run(argv []string, dir string) (model.ExecutionStats, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return model.ExecutionStats{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	pid := cmd.Process.Pid

	var (
		status unix.WaitStatus
		rusage unix.Rusage
	)
	for {
		wpid, err := unix.Wait4(pid, &status, 0, &rusage)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return model.ExecutionStats{}, fmt.Errorf("wait4 %s: %w", argv[0], err)
		}
		if wpid == pid {
			break
		}
	}
	real := time.Since(start)

	// The process was reaped by wait4, not cmd.Wait; release the handle so
	// os/exec does not try to reap it again at finalization.
	_ = cmd.Process.Release()

	stats := model.ExecutionStats{
		RealTime:   real,
		UserTime:   time.Duration(rusage.Utime.Nano()),
		KernelTime: time.Duration(rusage.Stime.Nano()),
		MaxRSS:     maxRSSBytes(int64(rusage.Maxrss)),
	}

	switch {
	case status.Signaled():
		return stats, fmt.Errorf("%s: terminated by signal %s", argv[0], status.Signal())
	case status.ExitStatus() != 0:
		return stats, fmt.Errorf("%s: exit status %d", argv[0], status.ExitStatus())
	}
	return stats, nil
}

// maxRSSBytes normalizes ru_maxrss to bytes. Linux reports kilobytes,
// Darwin reports bytes.
func maxRSSBytes(v int64) uint64 {
	if v < 0 {
		return 0
	}
	if runtime.GOOS == "darwin" {
		return uint64(v)
	}
	return uint64(v) * 1024
}
