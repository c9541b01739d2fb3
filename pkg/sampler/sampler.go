// Package sampler implements the history-aware weighted sampler: a
// power-of-two-choices draw over a suite.Suite, weighted by inverse
// path-component frequency and tie-broken by per-name coverage so the
// exploration spreads across shared path components, not just tests.
package sampler

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/ctspti/pti/pkg/suite"
)

// ErrOverflow is returned when the cumulative weight table would
// overflow its fixed-point accumulator.
var ErrOverflow = errors.New("sampler: cumulative weight overflow")

// fixedPointScale mirrors the original's u64 fixed-point weight
// representation: a weight in [0,1] is stored as weight*2^32.
const fixedPointScale = 1 << 32

// nameWeightAndCount is the per-name priority key used for the
// power-of-two tie-break: how much a name's tests have been sampled
// so far, relative to the total weight assigned across tests sharing
// that name. Comparisons use a cross-multiplication (count_a*weight_b
// vs count_b*weight_a) via the 128-bit product of a uint64 pair
// (math/bits.Mul64), avoiding both float imprecision and overflow.
type nameWeightAndCount struct {
	weight uint64
	count  uint64
}

// lessThan reports whether a is more under-sampled (relative to its
// weight) than b. A zero-weight name compares as infinitely frequent,
// so it never wins as the running minimum; a zero count compares as
// minimally frequent.
func (a nameWeightAndCount) lessThan(b nameWeightAndCount) bool {
	aHi, aLo := bits.Mul64(a.count, b.weight)
	bHi, bLo := bits.Mul64(b.count, a.weight)
	if aHi != bHi {
		return aHi < bHi
	}
	return aLo < bLo
}

// nameWeightAndCountInf is the scan-start identity: every real name
// compares less than it, so it never survives as the running minimum
// unless no names were visited at all.
var nameWeightAndCountInf = nameWeightAndCount{weight: 0, count: ^uint64(0)}

// Sampler draws test indices from a suite.Suite, favoring tests that
// are rare (few other tests share their path components), tie-broken
// first by raw per-test sampled-count and then by per-name coverage,
// so repeated draws spread out across shared path components too.
type Sampler struct {
	suite             *suite.Suite
	tests             []suite.TestRef
	cumulativeWeights []uint64 // prefix sums, cumulativeWeights[i] = sum of weights[0..=i]
	testCounts        []uint64
	names             []nameWeightAndCount // indexed by stringpool.Idx
	rng               *rand.Rand
}

// New builds a Sampler over every test currently registered in s,
// seeded for reproducible draws.
func New(s *suite.Suite, seed int64) (*Sampler, error) {
	tests := s.AllTests()

	frequency := make(map[uint32]uint64)
	paths := make([][]uint32, len(tests))
	for i, t := range tests {
		idxs := s.PathIndices(t)
		raw := make([]uint32, len(idxs))
		for j, idx := range idxs {
			raw[j] = uint32(idx)
			frequency[uint32(idx)]++
		}
		paths[i] = raw
	}

	weights := make([]uint64, len(tests))
	for i := range tests {
		weight := 0.0
		for _, idx := range paths[i] {
			weight += 1.0 / float64(frequency[idx])
		}
		if weight > 1.0 {
			weight = 1.0
		}
		weights[i] = uint64(weight * fixedPointScale)
	}

	return newWithWeights(s, tests, weights, seed)
}

func newWithWeights(s *suite.Suite, tests []suite.TestRef, weights []uint64, seed int64) (*Sampler, error) {
	names := make([]nameWeightAndCount, s.Names().Len()+1)

	cumulative := make([]uint64, len(weights))
	var running uint64
	for i, w := range weights {
		for _, idx := range s.PathIndices(tests[i]) {
			names[idx].weight += w
		}

		sum := running + w
		if sum < running {
			return nil, fmt.Errorf("%w: total weight exceeds uint64 range", ErrOverflow)
		}
		running = sum
		cumulative[i] = running
	}

	return &Sampler{
		suite:             s,
		tests:             tests,
		cumulativeWeights: cumulative,
		testCounts:        make([]uint64, len(tests)),
		names:             names,
		rng:               rand.New(rand.NewSource(seed)),
	}, nil
}

// Len reports how many tests the Sampler can draw from.
func (s *Sampler) Len() int { return len(s.tests) }

func (s *Sampler) totalWeight() uint64 {
	if len(s.cumulativeWeights) == 0 {
		return 0
	}
	return s.cumulativeWeights[len(s.cumulativeWeights)-1]
}

// sampleCore draws a single index uniformly at random, weighted by
// each test's assigned weight, via a binary search over the
// cumulative-weight prefix array (the Go analogue of the original's
// partition_point call).
func (s *Sampler) sampleCore() (int, bool) {
	total := s.totalWeight()
	if total == 0 {
		return 0, false
	}
	draw := uint64(s.rng.Int63n(int64(total)))
	lo, hi := 0, len(s.cumulativeWeights)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.cumulativeWeights[mid] <= draw {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(s.tests) {
		return 0, false
	}
	return lo, true
}

// minNameAmong returns the most under-sampled name (relative to
// weight) among test i's path components.
func (s *Sampler) minNameAmong(i int) nameWeightAndCount {
	least := nameWeightAndCountInf
	for _, idx := range s.suite.PathIndices(s.tests[i]) {
		if wc := s.names[idx]; wc.lessThan(least) {
			least = wc
		}
	}
	return least
}

// anyNameBeats reports whether any of test i's path-component names
// is strictly more under-sampled than threshold.
func (s *Sampler) anyNameBeats(i int, threshold nameWeightAndCount) bool {
	for _, idx := range s.suite.PathIndices(s.tests[i]) {
		if s.names[idx].lessThan(threshold) {
			return true
		}
	}
	return false
}

// Sample draws one test using power-of-two-choices: two candidates
// are drawn by weight. The one sampled less often (raw count) wins
// outright; a tie is broken by name coverage, picking whichever
// candidate has a path component that is more under-sampled relative
// to its weight than the other candidate's least-sampled component. A
// test with zero assigned weight is never chosen by sampleCore, so
// zero-weight tests are effectively excluded.
func (s *Sampler) Sample() (suite.TestRef, bool) {
	i, ok := s.sampleCore()
	if !ok {
		return suite.TestRef{}, false
	}
	j, ok := s.sampleCore()
	if !ok {
		return suite.TestRef{}, false
	}

	var chosen int
	switch {
	case s.testCounts[i] < s.testCounts[j]:
		chosen = i
	case s.testCounts[j] < s.testCounts[i]:
		chosen = j
	default:
		least := s.minNameAmong(i)
		if s.anyNameBeats(j, least) {
			chosen = j
		} else {
			chosen = i
		}
	}

	s.testCounts[chosen]++
	for _, idx := range s.suite.PathIndices(s.tests[chosen]) {
		s.names[idx].count++
	}

	return s.tests[chosen], true
}

// SampleN draws n tests in sequence, updating history after each draw
// so later draws in the same batch see earlier draws' counts.
func (s *Sampler) SampleN(n int) []suite.TestRef {
	out := make([]suite.TestRef, 0, n)
	for i := 0; i < n; i++ {
		t, ok := s.Sample()
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out
}
