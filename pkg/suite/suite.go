// Package suite implements the hierarchical test registry: a tree of
// named groups with tests as leaves, stored as two dense slices
// instead of a pointer-linked tree so a million-test suite stays in a
// handful of contiguous allocations.
package suite

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ctspti/pti/pkg/stringpool"
)

// ErrNameConflict is returned by Put when a path component is already
// in use as the other kind of node (a group where a test exists, or
// vice versa).
var ErrNameConflict = errors.New("suite: path component conflicts with an existing node of a different kind")

// ErrEmptyName is returned by Put when a path contains an empty
// component, e.g. "a..b" or a trailing separator like "a.".
var ErrEmptyName = errors.New("suite: empty group name")

// kind distinguishes what an AnyRef points at.
type kind uint8

const (
	kindNone kind = iota
	kindTest
	kindGroup
)

// AnyRef is a reference to either a Test, a Group, or nothing. It can
// be packed into a uint32 (see Pack/Unpack) the same way the original
// packs a tagged enum into a single machine word. A Group's children
// map stores AnyRef values in their unpacked form.
type AnyRef struct {
	Kind  kind
	Index uint32
}

// noneMarker is the all-ones sentinel for "no reference", matching
// the original's use of u32::MAX as None.
const noneMarker = ^uint32(0)

// groupBit is the tag bit distinguishing Group indices from Test
// indices in the packed form.
const groupBit = uint32(1) << 31

// TestRef names a single test. It is the public return value of Put.
type TestRef struct{ id uint32 }

// Pack encodes r into the original's packed representation.
func (r AnyRef) Pack() uint32 {
	switch r.Kind {
	case kindNone:
		return noneMarker
	case kindTest:
		return r.Index
	case kindGroup:
		return r.Index | groupBit
	default:
		panic("suite: invalid AnyRef kind")
	}
}

// Unpack decodes a packed reference produced by Pack.
func Unpack(p uint32) AnyRef {
	if p == noneMarker {
		return AnyRef{Kind: kindNone}
	}
	if p&groupBit != 0 {
		return AnyRef{Kind: kindGroup, Index: p &^ groupBit}
	}
	return AnyRef{Kind: kindTest, Index: p}
}

type testNode struct {
	parent AnyRef // always a Group
	name   stringpool.Idx
}

type groupNode struct {
	parent   AnyRef // None for the root
	name     stringpool.Idx
	children map[string]AnyRef
}

// rootGroup is always index 0 and has no parent.
const rootGroup uint32 = 0

// Suite is a hierarchical registry of tests, addressed by
// separator-delimited paths (e.g. "dEQP-VK.api.info.get").
type Suite struct {
	separator string
	tests     []testNode
	groups    []groupNode
	names     *stringpool.Pool
}

// New returns an empty Suite using sep (commonly ".") to split paths.
func New(sep string) *Suite {
	s := &Suite{
		separator: sep,
		names:     stringpool.New(),
	}
	s.groups = append(s.groups, groupNode{
		parent:   AnyRef{Kind: kindNone},
		children: make(map[string]AnyRef),
	})
	return s
}

// NumTests reports how many tests have been registered.
func (s *Suite) NumTests() int { return len(s.tests) }

// Put registers path, creating any intermediate groups that don't yet
// exist. Calling Put twice with the same path is idempotent and
// returns the same TestRef both times.
func (s *Suite) Put(path string) (TestRef, error) {
	components := strings.Split(path, s.separator)
	if len(components) == 0 {
		return TestRef{}, fmt.Errorf("suite: empty path")
	}

	cur := rootGroup
	for _, comp := range components[:len(components)-1] {
		if comp == "" {
			return TestRef{}, ErrEmptyName
		}
		next, err := s.findOrCreateGroup(cur, comp)
		if err != nil {
			return TestRef{}, err
		}
		cur = next
	}

	leaf := components[len(components)-1]
	if leaf == "" {
		return TestRef{}, ErrEmptyName
	}
	return s.findOrCreateTest(cur, leaf)
}

func (s *Suite) findOrCreateGroup(parent uint32, name string) (uint32, error) {
	existing, ok := s.groups[parent].children[name]
	if ok {
		if existing.Kind != kindGroup {
			return 0, fmt.Errorf("%w: %q is a test, not a group", ErrNameConflict, name)
		}
		return existing.Index, nil
	}

	idx, err := s.names.Intern(name)
	if err != nil {
		return 0, fmt.Errorf("suite: interning %q: %w", name, err)
	}

	newIdx := uint32(len(s.groups))
	s.groups = append(s.groups, groupNode{
		parent:   AnyRef{Kind: kindGroup, Index: parent},
		name:     idx,
		children: make(map[string]AnyRef),
	})
	s.groups[parent].children[name] = AnyRef{Kind: kindGroup, Index: newIdx}
	return newIdx, nil
}

func (s *Suite) findOrCreateTest(parent uint32, name string) (TestRef, error) {
	existing, ok := s.groups[parent].children[name]
	if ok {
		if existing.Kind != kindTest {
			return TestRef{}, fmt.Errorf("%w: %q is a group, not a test", ErrNameConflict, name)
		}
		return TestRef{id: existing.Index}, nil
	}

	idx, err := s.names.Intern(name)
	if err != nil {
		return TestRef{}, fmt.Errorf("suite: interning %q: %w", name, err)
	}

	newIdx := uint32(len(s.tests))
	s.tests = append(s.tests, testNode{
		parent: AnyRef{Kind: kindGroup, Index: parent},
		name:   idx,
	})
	s.groups[parent].children[name] = AnyRef{Kind: kindTest, Index: newIdx}
	return TestRef{id: newIdx}, nil
}

// nameIndices walks from ref up to the root, returning the string
// pool indices from leaf to root (i.e. in reverse path order).
func (s *Suite) nameIndices(ref AnyRef) []stringpool.Idx {
	var out []stringpool.Idx
	for ref.Kind != kindNone {
		switch ref.Kind {
		case kindTest:
			n := s.tests[ref.Index]
			out = append(out, n.name)
			ref = n.parent
		case kindGroup:
			n := s.groups[ref.Index]
			if ref.Index == rootGroup {
				return out
			}
			out = append(out, n.name)
			ref = n.parent
		}
	}
	return out
}

// PathIndices returns the string-pool indices naming ref's test and
// every ancestor group, from the test itself up to (but excluding)
// the unnamed root group. Used by the sampler to weight tests by how
// many other tests share their path components.
func (s *Suite) PathIndices(ref TestRef) []stringpool.Idx {
	return s.nameIndices(AnyRef{Kind: kindTest, Index: ref.id})
}

// Names exposes the underlying string pool so callers (the sampler)
// can resolve PathIndices results without reaching into Suite internals.
func (s *Suite) Names() *stringpool.Pool { return s.names }

// GetName reconstructs the full separator-joined path for ref.
func (s *Suite) GetName(ref TestRef) string {
	indices := s.nameIndices(AnyRef{Kind: kindTest, Index: ref.id})

	total := 0
	for i, idx := range indices {
		total += len(s.names.Get(idx))
		if i > 0 {
			total += len(s.separator)
		}
	}

	buf := make([]byte, total)
	pos := total
	for i, idx := range indices {
		name := s.names.Get(idx)
		pos -= len(name)
		copy(buf[pos:], name)
		if i < len(indices)-1 {
			pos -= len(s.separator)
			copy(buf[pos:], s.separator)
		}
	}
	return string(buf)
}

// AllTests returns every registered TestRef in registration order.
func (s *Suite) AllTests() []TestRef {
	refs := make([]TestRef, len(s.tests))
	for i := range s.tests {
		refs[i] = TestRef{id: uint32(i)}
	}
	return refs
}

// sortedChildNames returns the keys of a group's children map in
// sorted order, for deterministic traversal.
func sortedChildNames(children map[string]AnyRef) []string {
	names := make([]string, 0, len(children))
	for n := range children {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
