// Package scheduler decides which commit to build and test next. Given the
// commit log, the build-cache state and the full results matrix it produces
// a complete priority ordering of commits, so the caller can fall through
// to the next candidate when the best one turns out unbuildable.
//
// The score is additive across independent, separately weighted factors:
// binary-bisection exploration of unscanned history, build-cache affinity,
// recency, untested coverage and divergence-driven bisection. The ranking
// is a pure function of its inputs: no randomness, no wall clock.
package scheduler

import (
	"cmp"
	"math"
	"math/bits"
	"slices"

	"github.com/benchd/benchd/model"
)

// Weights are the tunable scoring factors, passed explicitly rather than
// held as global state.
type Weights struct {
	// Per trailing zero bit of the commit index (bisection bias)
	Base2 int `yaml:"base2"`
	// Flat bonus for commits whose build artifact already exists
	Cached int `yaml:"cached"`
	// Recency bonus ceiling, scaled by (i/(N-1))^RecentExp
	RecentMax int     `yaml:"recent_max"`
	RecentExp float64 `yaml:"recent_exp"`
	// Per missing (test, commit) result, normalized by catalog size
	Untested int `yaml:"untested"`
	// Divergence bonus ceiling, scaled by the relative value difference
	DiffMax int `yaml:"diff_max"`
	// Multiplier applied to the divergence bonus of exact tests
	DiffExact float64 `yaml:"diff_exact"`
}

// DefaultWeights returns the stock configuration.
func DefaultWeights() Weights {
	return Weights{
		Base2:     100,
		Cached:    500,
		RecentMax: 1000,
		RecentExp: 2,
		Untested:  1000,
		DiffMax:   1000,
		DiffExact: 5,
	}
}

// Test is the scheduler's view of a catalog entry.
type Test struct {
	ID    string
	Exact bool
}

// Candidate is one ranked commit.
type Candidate struct {
	Commit model.Commit
	Score  int
}

// maxTrailingZeros caps the bisection factor so pathological indices cannot
// dominate the score.
const maxTrailingZeros = 30

// Rank scores every commit and returns them in descending score order.
// commits must be ordered oldest to newest (index 0 = oldest). cached
// reports whether a build artifact already exists for a hash. Ties keep the
// original commit order.
func Rank(commits []model.Commit, cached func(hash string) bool, tests []Test, results model.ResultMatrix, w Weights) []Candidate {
	n := len(commits)
	if n == 0 {
		return nil
	}
	scores := make([]int, n)

	// Bisection bias: indices that repeatedly halve the commit range score
	// higher, so an unscanned span gets explored by bisection rather than a
	// linear scan. Index 0 earns nothing.
	for i := 1; i < n; i++ {
		t := bits.TrailingZeros(uint(i))
		if t > maxTrailingZeros {
			t = maxTrailingZeros
		}
		scores[i] += w.Base2 * t
	}

	// Cache affinity: favor commits that need no rebuild.
	for i, c := range commits {
		if cached(c.Hash) {
			scores[i] += w.Cached
		}
	}

	// Recency: increasing in the index, sharper as RecentExp grows. The
	// truncation to int can tie adjacent indices in long logs; tied commits
	// keep their original order through the stable sort.
	if n > 1 {
		for i := range commits {
			scores[i] += int(float64(w.RecentMax) * math.Pow(float64(i)/float64(n-1), w.RecentExp))
		}
	}

	// Untested coverage: every missing (test, commit) result earns a flat
	// bonus; the per-commit total is normalized by the catalog size so the
	// weight is independent of how many tests are registered.
	if len(tests) > 0 {
		untested := make([]int, n)
		for _, test := range tests {
			for i, c := range commits {
				if !results.Has(test.ID, c.Hash) {
					untested[i] += w.Untested
				}
			}
		}
		for i := range scores {
			scores[i] += untested[i] / len(tests)
		}
	}

	// Divergence-driven bisection: whenever a run of untested commits sits
	// between two tested commits with different values, the single commit
	// in the run with the highest score from the factors above gets a bonus
	// proportional to the relative difference. One bonus per qualifying gap
	// per test.
	base := slices.Clone(scores)
	for _, test := range tests {
		lastIdx := -1
		var lastVal float64
		for i, c := range commits {
			v, ok := results.Value(test.ID, c.Hash)
			if !ok {
				continue
			}
			if lastIdx >= 0 && i-lastIdx > 1 && v != lastVal {
				best := lastIdx + 1
				for j := lastIdx + 2; j < i; j++ {
					if base[j] > base[best] {
						best = j
					}
				}
				bonus := float64(w.DiffMax) * math.Abs(v-lastVal) / math.Max(v, lastVal)
				if test.Exact {
					bonus *= w.DiffExact
				}
				scores[best] += int(bonus)
			}
			lastIdx, lastVal = i, v
		}
	}

	cands := make([]Candidate, n)
	for i, c := range commits {
		cands[i] = Candidate{Commit: c, Score: scores[i]}
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return cands
}
