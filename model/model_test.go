package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMin(t *testing.T) {
	a := ExecutionStats{RealTime: 10, UserTime: 5, KernelTime: 1, MaxRSS: 100}
	b := ExecutionStats{RealTime: 8, UserTime: 6, KernelTime: 1, MaxRSS: 200}

	got := a.Min(b)
	require.Equal(t, ExecutionStats{RealTime: 8, UserTime: 5, KernelTime: 1, MaxRSS: 100}, got)
	require.Equal(t, got, b.Min(a), "min is symmetric")
}

func TestMaxStatsSentinel(t *testing.T) {
	sample := ExecutionStats{
		RealTime:   42 * time.Millisecond,
		UserTime:   40 * time.Millisecond,
		KernelTime: 2 * time.Millisecond,
		MaxRSS:     1 << 20,
	}
	require.Equal(t, sample, MaxStats().Min(sample), "first real sample always wins the fold")
}

func TestStatFieldGet(t *testing.T) {
	s := ExecutionStats{
		RealTime:   3 * time.Second,
		UserTime:   2 * time.Second,
		KernelTime: time.Second,
		MaxRSS:     4096,
	}
	require.Equal(t, 3e9, FieldRealTime.Get(s))
	require.Equal(t, 2e9, FieldUserTime.Get(s))
	require.Equal(t, 1e9, FieldKernelTime.Get(s))
	require.Equal(t, 4096.0, FieldMaxRSS.Get(s))
}

func TestStatFieldString(t *testing.T) {
	want := []string{"realTime", "userTime", "kernelTime", "maxRSS"}
	require.Len(t, StatFields, len(want))
	for i, f := range StatFields {
		require.Equal(t, want[i], f.String())
	}
}

func TestResultMatrix(t *testing.T) {
	m := ResultMatrix{}
	require.False(t, m.Has("t", "c"))

	m[ResultKey{TestID: "t", Commit: "c"}] = TestResult{TestID: "t", Commit: "c", Value: 9}
	require.True(t, m.Has("t", "c"))
	v, ok := m.Value("t", "c")
	require.True(t, ok)
	require.Equal(t, 9.0, v)

	// Failed measurements are recorded with a zero value.
	m[ResultKey{TestID: "t", Commit: "bad"}] = TestResult{TestID: "t", Commit: "bad", Error: "exit status 1"}
	v, ok = m.Value("t", "bad")
	require.True(t, ok)
	require.Zero(t, v)
}
