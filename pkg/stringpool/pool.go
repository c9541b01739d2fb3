// Package stringpool interns strings into a single contiguous byte
// buffer, handing callers back small integer references instead of
// Go strings. It exists to keep a million-test suite's names in one
// allocation instead of a million small ones.
package stringpool

import (
	"errors"
	"hash/maphash"
)

// ErrOverflow is returned when interning a string would push the pool
// past the addressable range of a Ref (uint32 offsets).
var ErrOverflow = errors.New("stringpool: pool size would overflow uint32")

// maxPoolSize is the largest offset a Ref can address. We keep one
// value in reserve (matching the original's treatment of u32::MAX) so
// `End` can never wrap past it.
const maxPoolSize = ^uint32(0) - 1

// Ref is a half-open byte range into the pool's backing buffer.
type Ref struct {
	Begin uint32
	End   uint32
}

// Idx names an interned string. The zero Idx is reserved to mean
// "no string" so callers can use it as a sentinel in arrays.
type Idx uint32

const emptyIdx Idx = 0

type mapEntry struct {
	ref  Ref
	hash uint64
	idx  Idx // 0 == empty slot
}

// Pool is an open-addressed string interning table. The zero value is
// not usable; construct with New.
type Pool struct {
	seed    maphash.Seed
	pool    []byte
	mapping []mapEntry
	strings []Ref // index 0 unused, so Idx(i) maps directly
}

// New returns an empty Pool sized for initial use.
func New() *Pool {
	p := &Pool{
		seed:    maphash.MakeSeed(),
		pool:    make([]byte, 0, 4096),
		mapping: make([]mapEntry, 1024),
		strings: make([]Ref, 1, 1024),
	}
	return p
}

// Len reports the number of distinct interned strings.
func (p *Pool) Len() int {
	return len(p.strings) - 1
}

func (p *Pool) hashOf(s string) uint64 {
	var h maphash.Hash
	h.SetSeed(p.seed)
	h.WriteString(s)
	return h.Sum64()
}

// probe walks the triangular-number probe sequence starting at the
// hash-derived slot, capped at mapping/2 probes so a full table can
// never loop forever.
func (p *Pool) probe(hash uint64, visit func(slot int) (stop bool)) {
	n := uint64(len(p.mapping))
	maxProbes := n / 2
	slot := hash % n
	for i := uint64(0); i <= maxProbes; i++ {
		if visit(int(slot)) {
			return
		}
		slot = (slot + i + 1) % n
	}
}

func (p *Pool) get(s string) (Idx, bool) {
	hash := p.hashOf(s)
	found := emptyIdx
	ok := false
	p.probe(hash, func(slot int) bool {
		e := p.mapping[slot]
		if e.idx == emptyIdx {
			return true
		}
		if e.hash == hash && p.bytesAt(e.ref) == s {
			found, ok = e.idx, true
			return true
		}
		return false
	})
	return found, ok
}

func (p *Pool) bytesAt(r Ref) string {
	return string(p.pool[r.Begin:r.End])
}

// Get returns the string previously interned as idx. idx must have
// been returned by Intern on this Pool.
func (p *Pool) Get(idx Idx) string {
	return p.bytesAt(p.strings[idx])
}

// Intern returns the Idx for s, interning it if it hasn't been seen
// before. Interning is idempotent: interning the same string twice
// returns the same Idx.
func (p *Pool) Intern(s string) (Idx, error) {
	if existing, ok := p.get(s); ok {
		return existing, nil
	}

	if uint64(len(p.pool))+uint64(len(s)) > uint64(maxPoolSize) {
		return 0, ErrOverflow
	}
	if len(p.strings) >= int(maxPoolSize) {
		return 0, ErrOverflow
	}

	begin := uint32(len(p.pool))
	p.pool = append(p.pool, s...)
	end := uint32(len(p.pool))
	ref := Ref{Begin: begin, End: end}

	idx := Idx(len(p.strings))
	p.strings = append(p.strings, ref)

	hash := p.hashOf(s)
	p.growIfNeeded(hash)
	p.insert(hash, ref, idx)

	return idx, nil
}

// probeHasEmpty reports whether hash's capped triangular probe
// sequence currently lands on an empty slot, without mutating
// anything. Used to decide whether an insert for hash can succeed
// without growing first.
func (p *Pool) probeHasEmpty(hash uint64) bool {
	found := false
	p.probe(hash, func(slot int) bool {
		if p.mapping[slot].idx == emptyIdx {
			found = true
			return true
		}
		return false
	})
	return found
}

// growIfNeeded doubles-ish the map, to 11/8 of the current size,
// matching the original pool's growth ratio, whenever occupancy
// crosses 5/8 OR the capped probe for hash can't find an empty slot
// to insert into. The latter case matters even below 5/8 occupancy:
// since the table size isn't a power of two, triangular probing can
// exhaust its capped length without hitting an empty slot, and
// without this check the entry would silently fail to insert and
// re-intern under a fresh Idx on the next lookup.
func (p *Pool) growIfNeeded(hash uint64) {
	if p.probeHasEmpty(hash) && len(p.strings) < len(p.mapping)/8*5 {
		return
	}
	newSize := len(p.mapping) / 8 * 11
	if newSize <= len(p.mapping) {
		newSize = len(p.mapping) * 2
	}
	old := p.mapping
	p.mapping = make([]mapEntry, newSize)
	for _, e := range old {
		if e.idx != emptyIdx {
			p.insert(e.hash, e.ref, e.idx)
		}
	}
}

func (p *Pool) insert(hash uint64, ref Ref, idx Idx) {
	p.probe(hash, func(slot int) bool {
		if p.mapping[slot].idx == emptyIdx {
			p.mapping[slot] = mapEntry{ref: ref, hash: hash, idx: idx}
			return true
		}
		return false
	})
}
