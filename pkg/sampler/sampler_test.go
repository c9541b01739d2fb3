package sampler

import (
	"testing"

	"github.com/ctspti/pti/pkg/suite"
)

func buildSuite(t *testing.T, paths ...string) *suite.Suite {
	t.Helper()
	s := suite.New(".")
	for _, p := range paths {
		if _, err := s.Put(p); err != nil {
			t.Fatalf("Put(%q): %v", p, err)
		}
	}
	return s
}

func TestSampleDrawsOnlyRegisteredTests(t *testing.T) {
	s := buildSuite(t,
		"dEQP-VK.api.info.get",
		"dEQP-VK.api.info.version",
		"dEQP-VK.memory.allocation.basic",
	)

	sampler, err := New(s, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	valid := map[string]bool{}
	for _, ref := range s.AllTests() {
		valid[s.GetName(ref)] = true
	}

	for i := 0; i < 200; i++ {
		ref, ok := sampler.Sample()
		if !ok {
			t.Fatalf("Sample() returned ok=false unexpectedly")
		}
		if name := s.GetName(ref); !valid[name] {
			t.Fatalf("Sample() returned unregistered test %q", name)
		}
	}
}

func TestSampleBalancesCountsOverManyDraws(t *testing.T) {
	s := buildSuite(t,
		"dEQP-VK.a.one",
		"dEQP-VK.b.two",
	)

	sampler, err := New(s, 42)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	counts := map[string]int{}
	const draws = 2000
	for i := 0; i < draws; i++ {
		ref, ok := sampler.Sample()
		if !ok {
			t.Fatalf("Sample() returned ok=false")
		}
		counts[s.GetName(ref)]++
	}

	// Both tests have disjoint path components, so they should end up
	// with equal weight and roughly balanced counts. Power-of-two
	// choices with a coverage tie-break should keep the split well
	// within a generous tolerance of the 50/50 ideal.
	a := counts["dEQP-VK.a.one"]
	b := counts["dEQP-VK.b.two"]
	if a+b != draws {
		t.Fatalf("counts don't sum to draws: %d + %d != %d", a, b, draws)
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > draws/4 {
		t.Fatalf("sampling is too imbalanced: a=%d b=%d", a, b)
	}
}

func TestSampleOnEmptySuite(t *testing.T) {
	s := suite.New(".")
	sampler, err := New(s, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := sampler.Sample(); ok {
		t.Fatalf("Sample() on empty suite should return ok=false")
	}
}

func TestNameWeightAndCountLessThan(t *testing.T) {
	moreSampled := nameWeightAndCount{weight: 1, count: 10}
	lessSampled := nameWeightAndCount{weight: 1, count: 1}
	if !lessSampled.lessThan(moreSampled) {
		t.Fatalf("expected the less-sampled name to compare less than the more-sampled one")
	}
	if moreSampled.lessThan(lessSampled) {
		t.Fatalf("unexpected: more-sampled name reported as less than the less-sampled one")
	}
}

func TestNameWeightAndCountZeroWeightIsInfinitelyFrequent(t *testing.T) {
	zeroWeight := nameWeightAndCount{weight: 0, count: 0}
	anyOther := nameWeightAndCount{weight: 1, count: 1000}
	if zeroWeight.lessThan(anyOther) {
		t.Fatalf("a zero-weight name must never compare less than another name")
	}
}

func TestNameCoverageTieBreakFavorsUnderSampledName(t *testing.T) {
	// White-box: exercise the tie-break helpers directly so the result
	// doesn't depend on which of two equally-weighted tests sampleCore
	// happens to draw.
	s := buildSuite(t, "dEQP-VK.a.one", "dEQP-VK.b.two")
	sampler, err := New(s, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Both tests start with every name count at 0: test 0's minimum
	// name ties with test 1's, so test 1 should not (yet) beat it.
	least := sampler.minNameAmong(0)
	if sampler.anyNameBeats(1, least) {
		t.Fatalf("expected no tie-break winner while both tests are equally under-sampled")
	}

	// Starve test 0's names: test 1 now has the more under-sampled
	// name and must win the tie-break.
	for _, idx := range s.PathIndices(sampler.tests[0]) {
		sampler.names[idx].count = 100
	}
	least = sampler.minNameAmong(0)
	if !sampler.anyNameBeats(1, least) {
		t.Fatalf("expected test 1's untouched names to beat test 0's starved minimum")
	}
}

func TestSamplePicksLowerRawCountOutright(t *testing.T) {
	// The primary comparator is the raw per-test sampled-count: a test
	// sampled strictly less must win regardless of name coverage, even
	// when its names are themselves heavily over-sampled.
	s := buildSuite(t, "dEQP-VK.a.one", "dEQP-VK.b.two")
	sampler, err := New(s, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sampler.testCounts[0] = 5
	for _, idx := range s.PathIndices(sampler.tests[1]) {
		sampler.names[idx].count = 1000
	}

	if sampler.testCounts[1] >= sampler.testCounts[0] {
		t.Fatalf("test fixture invariant broken: want testCounts[1] < testCounts[0]")
	}

	// Both tests carry equal weight, so test 0 can only be returned when
	// both candidates are test 0 (about a quarter of draws). If name
	// coverage decided first, test 0 would also win every draw whose two
	// candidates differ.
	const trials = 1000
	picked0 := 0
	for trial := 0; trial < trials; trial++ {
		sampler.testCounts[0], sampler.testCounts[1] = 5, 0
		for _, idx := range s.PathIndices(sampler.tests[0]) {
			sampler.names[idx].count = 0
		}
		for _, idx := range s.PathIndices(sampler.tests[1]) {
			sampler.names[idx].count = 1000
		}
		ref, ok := sampler.Sample()
		if !ok {
			t.Fatalf("Sample() returned ok=false")
		}
		if ref == sampler.tests[0] {
			picked0++
		}
	}
	if picked0 >= trials/2 {
		t.Fatalf("the test with the higher raw count was chosen %d of %d times", picked0, trials)
	}
}

func TestSampleUpdatesNameCountsForChosenTestOnly(t *testing.T) {
	s := buildSuite(t, "dEQP-VK.a.one", "dEQP-VK.b.two")
	sampler, err := New(s, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ref, ok := sampler.Sample()
	if !ok {
		t.Fatalf("Sample() returned ok=false")
	}

	for _, idx := range s.PathIndices(ref) {
		if sampler.names[idx].count == 0 {
			t.Fatalf("expected every path component's name count to be incremented after a draw")
		}
	}

	chosen := map[uint32]bool{}
	for _, idx := range s.PathIndices(ref) {
		chosen[uint32(idx)] = true
	}
	for i, other := range sampler.tests {
		if other == ref {
			continue
		}
		if sampler.testCounts[i] != 0 {
			t.Fatalf("test %q was not drawn but its count is %d", s.GetName(other), sampler.testCounts[i])
		}
		for _, idx := range s.PathIndices(other) {
			if !chosen[uint32(idx)] && sampler.names[idx].count != 0 {
				t.Fatalf("name %q belongs only to an undrawn test but its count is %d", s.Names().Get(idx), sampler.names[idx].count)
			}
		}
	}
}
