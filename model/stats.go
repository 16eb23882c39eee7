package model

import (
	"math"
	"time"
)

// ExecutionStats is one resource-accounting sample for a single child
// process: wall-clock time, CPU time split into user and kernel mode, and
// peak resident set size in bytes.
//
// On platforms without fine-grained resource accounting only RealTime is
// meaningful; the remaining fields may be coarse placeholders.
type ExecutionStats struct {
	// Wall-clock duration, measured with a monotonic clock
	RealTime time.Duration `json:"real_time"`
	// CPU time spent in user mode
	UserTime time.Duration `json:"user_time"`
	// CPU time spent in kernel mode
	KernelTime time.Duration `json:"kernel_time"`
	// Peak resident set size in bytes
	MaxRSS uint64 `json:"max_rss"`
}

// MaxStats returns the sentinel every field of which loses against any real
// sample, so the first Min fold always takes the measured value.
func MaxStats() ExecutionStats {
	return ExecutionStats{
		RealTime:   math.MaxInt64,
		UserTime:   math.MaxInt64,
		KernelTime: math.MaxInt64,
		MaxRSS:     math.MaxUint64,
	}
}

// Min returns the component-wise minimum of s and o. Lower is better:
// scheduling jitter only ever inflates a measurement, so the minimum over
// repeated runs approximates the noise floor.
func (s ExecutionStats) Min(o ExecutionStats) ExecutionStats {
	return ExecutionStats{
		RealTime:   min(s.RealTime, o.RealTime),
		UserTime:   min(s.UserTime, o.UserTime),
		KernelTime: min(s.KernelTime, o.KernelTime),
		MaxRSS:     min(s.MaxRSS, o.MaxRSS),
	}
}

// StatField selects one component of an ExecutionStats.
type StatField uint8

const (
	FieldRealTime StatField = iota
	FieldUserTime
	FieldKernelTime
	FieldMaxRSS
)

func (f StatField) String() string {
	switch f {
	case FieldRealTime:
		return "realTime"
	case FieldUserTime:
		return "userTime"
	case FieldKernelTime:
		return "kernelTime"
	case FieldMaxRSS:
		return "maxRSS"
	}
	return "unknown"
}

// Get returns the selected component as a plain number: nanoseconds for the
// time fields, bytes for MaxRSS.
func (f StatField) Get(s ExecutionStats) float64 {
	switch f {
	case FieldRealTime:
		return float64(s.RealTime.Nanoseconds())
	case FieldUserTime:
		return float64(s.UserTime.Nanoseconds())
	case FieldKernelTime:
		return float64(s.KernelTime.Nanoseconds())
	case FieldMaxRSS:
		return float64(s.MaxRSS)
	}
	return 0
}

// StatFields lists every component in catalog generation order.
var StatFields = []StatField{FieldRealTime, FieldUserTime, FieldKernelTime, FieldMaxRSS}
