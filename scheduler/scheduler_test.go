package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchd/benchd/model"
)

func commitLog(n int) []model.Commit {
	commits := make([]model.Commit, n)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range commits {
		commits[i] = model.Commit{
			Hash:    fmt.Sprintf("c%02d", i),
			Message: fmt.Sprintf("commit %d", i),
			Time:    base.Add(time.Duration(i) * time.Hour),
		}
	}
	return commits
}

func notCached(string) bool { return false }

// scoreByHash indexes a ranking by commit hash.
func scoreByHash(cands []Candidate) map[string]int {
	m := make(map[string]int, len(cands))
	for _, c := range cands {
		m[c.Commit.Hash] = c.Score
	}
	return m
}

func TestRank_Empty(t *testing.T) {
	require.Nil(t, Rank(nil, notCached, nil, nil, DefaultWeights()))
}

func TestRank_BisectionBias(t *testing.T) {
	// Isolate the bisection factor.
	w := Weights{Base2: 100}
	commits := commitLog(8)

	scores := scoreByHash(Rank(commits, notCached, nil, nil, w))

	// Index 4 (two trailing zero bits) beats 2 and 6 (one bit), which beat
	// every odd index (zero bits). Index 0 earns no bisection bonus.
	require.Equal(t, 200, scores["c04"])
	require.Equal(t, 100, scores["c02"])
	require.Equal(t, 100, scores["c06"])
	for _, odd := range []string{"c01", "c03", "c05", "c07"} {
		require.Equal(t, 0, scores[odd], "odd index %s", odd)
	}
	require.Equal(t, 0, scores["c00"])
}

func TestRank_CacheAffinity(t *testing.T) {
	w := Weights{Cached: 500}
	commits := commitLog(4)
	cached := func(hash string) bool { return hash == "c01" }

	scores := scoreByHash(Rank(commits, cached, nil, nil, w))
	require.Equal(t, 500, scores["c01"])
	require.Equal(t, 0, scores["c00"])
	require.Equal(t, 0, scores["c02"])
}

func TestRank_RecencyStrictlyIncreasing(t *testing.T) {
	w := Weights{RecentMax: 1000, RecentExp: 2}
	commits := commitLog(5)

	scores := scoreByHash(Rank(commits, notCached, nil, nil, w))
	require.Equal(t, 0, scores["c00"])
	require.Equal(t, 1000, scores["c04"])
	for i := 1; i < 5; i++ {
		lo := fmt.Sprintf("c%02d", i-1)
		hi := fmt.Sprintf("c%02d", i)
		require.Greater(t, scores[hi], scores[lo], "recency must strictly increase in the index")
	}
}

func TestRank_UntestedNormalized(t *testing.T) {
	w := Weights{Untested: 1000}
	commits := commitLog(3)
	tests := []Test{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}, {ID: "t4"}}

	results := model.ResultMatrix{}
	// c01 has two of four tests recorded, c02 all four.
	results[model.ResultKey{TestID: "t1", Commit: "c01"}] = model.TestResult{TestID: "t1", Commit: "c01", Value: 1}
	results[model.ResultKey{TestID: "t2", Commit: "c01"}] = model.TestResult{TestID: "t2", Commit: "c01", Value: 1}
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		results[model.ResultKey{TestID: id, Commit: "c02"}] = model.TestResult{TestID: id, Commit: "c02", Value: 1}
	}

	scores := scoreByHash(Rank(commits, notCached, tests, results, w))
	// Fully untested: 4*1000/4. Half tested: 2*1000/4. Fully tested: 0.
	require.Equal(t, 1000, scores["c00"])
	require.Equal(t, 500, scores["c01"])
	require.Equal(t, 0, scores["c02"])
}

func TestRank_DivergenceBonus(t *testing.T) {
	// Five commits A..E; one test records 10 at A, nothing at B,C,D, and 20
	// at E. Exactly one of B,C,D (the one ranking highest on the other
	// factors, here D via recency) gets diffMax * |20-10|/20 = diffMax/2.
	w := Weights{RecentMax: 1000, RecentExp: 1, DiffMax: 1000, DiffExact: 5}
	commits := commitLog(5)
	tests := []Test{{ID: "t"}}

	results := model.ResultMatrix{
		{TestID: "t", Commit: "c00"}: {TestID: "t", Commit: "c00", Value: 10},
		{TestID: "t", Commit: "c04"}: {TestID: "t", Commit: "c04", Value: 20},
	}

	with := scoreByHash(Rank(commits, notCached, tests, results, w))
	without := scoreByHash(Rank(commits, notCached, tests, model.ResultMatrix{
		{TestID: "t", Commit: "c00"}: {TestID: "t", Commit: "c00", Value: 10},
		{TestID: "t", Commit: "c04"}: {TestID: "t", Commit: "c04", Value: 10},
	}, w))

	require.Equal(t, 500, with["c03"]-without["c03"], "highest-ranked gap commit gets diffMax/2")
	require.Equal(t, 0, with["c01"]-without["c01"])
	require.Equal(t, 0, with["c02"]-without["c02"])
	require.Equal(t, 0, with["c00"]-without["c00"])
	require.Equal(t, 0, with["c04"]-without["c04"])
}

func TestRank_DivergenceExactMultiplier(t *testing.T) {
	w := Weights{RecentMax: 1000, RecentExp: 1, DiffMax: 1000, DiffExact: 5}
	commits := commitLog(5)
	results := model.ResultMatrix{
		{TestID: "t", Commit: "c00"}: {TestID: "t", Commit: "c00", Value: 10},
		{TestID: "t", Commit: "c04"}: {TestID: "t", Commit: "c04", Value: 20},
	}

	noisy := scoreByHash(Rank(commits, notCached, []Test{{ID: "t"}}, results, w))
	exact := scoreByHash(Rank(commits, notCached, []Test{{ID: "t", Exact: true}}, results, w))

	// The exact flag multiplies only the divergence bonus.
	require.Equal(t, 4*500, exact["c03"]-noisy["c03"])
}

func TestRank_DivergenceOncePerGap(t *testing.T) {
	// Two qualifying gaps for the same test: 10 .. 20 .. 40. Each gap's best
	// commit gets its own bonus.
	w := Weights{DiffMax: 1000}
	commits := commitLog(5)
	results := model.ResultMatrix{
		{TestID: "t", Commit: "c00"}: {TestID: "t", Commit: "c00", Value: 10},
		{TestID: "t", Commit: "c02"}: {TestID: "t", Commit: "c02", Value: 20},
		{TestID: "t", Commit: "c04"}: {TestID: "t", Commit: "c04", Value: 40},
	}

	scores := scoreByHash(Rank(commits, notCached, []Test{{ID: "t"}}, results, w))
	require.Equal(t, 500, scores["c01"], "first gap: |20-10|/20")
	require.Equal(t, 500, scores["c03"], "second gap: |40-20|/40")
}

func TestRank_NoDivergenceOnEqualValues(t *testing.T) {
	w := Weights{DiffMax: 1000}
	commits := commitLog(3)
	results := model.ResultMatrix{
		{TestID: "t", Commit: "c00"}: {TestID: "t", Commit: "c00", Value: 10},
		{TestID: "t", Commit: "c02"}: {TestID: "t", Commit: "c02", Value: 10},
	}

	scores := scoreByHash(Rank(commits, notCached, []Test{{ID: "t"}}, results, w))
	require.Equal(t, 0, scores["c01"])
}

func TestRank_Deterministic(t *testing.T) {
	w := DefaultWeights()
	commits := commitLog(16)
	cached := func(hash string) bool { return hash == "c03" || hash == "c08" }
	tests := []Test{{ID: "a"}, {ID: "b", Exact: true}}
	results := model.ResultMatrix{
		{TestID: "a", Commit: "c02"}: {TestID: "a", Commit: "c02", Value: 5},
		{TestID: "a", Commit: "c09"}: {TestID: "a", Commit: "c09", Value: 9},
		{TestID: "b", Commit: "c00"}: {TestID: "b", Commit: "c00", Value: 100},
		{TestID: "b", Commit: "c15"}: {TestID: "b", Commit: "c15", Value: 50},
	}

	first := Rank(commits, cached, tests, results, w)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Rank(commits, cached, tests, results, w))
	}
}

func TestRank_StableTies(t *testing.T) {
	// All factors zero: everything ties and the original order is kept.
	commits := commitLog(6)
	cands := Rank(commits, notCached, nil, nil, Weights{})
	for i, cand := range cands {
		require.Equal(t, commits[i].Hash, cand.Commit.Hash)
		require.Equal(t, 0, cand.Score)
	}
}

func TestRank_RecencyTruncationTiesKeepOrder(t *testing.T) {
	// With a tiny ceiling the integer recency term ties adjacent indices:
	// int(1 * 0/2) == int(1 * 1/2) == 0. Tied commits keep log order.
	w := Weights{RecentMax: 1, RecentExp: 1}
	cands := Rank(commitLog(3), notCached, nil, nil, w)

	require.Equal(t, "c02", cands[0].Commit.Hash)
	require.Equal(t, "c00", cands[1].Commit.Hash)
	require.Equal(t, "c01", cands[2].Commit.Hash)
	require.Equal(t, cands[1].Score, cands[2].Score)
}

func TestRank_FullOrdering(t *testing.T) {
	w := DefaultWeights()
	commits := commitLog(10)
	cands := Rank(commits, notCached, nil, nil, w)

	require.Len(t, cands, len(commits), "ranking covers every commit")
	for i := 1; i < len(cands); i++ {
		require.GreaterOrEqual(t, cands[i-1].Score, cands[i].Score)
	}
}
