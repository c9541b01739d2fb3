// Package sut identifies software-under-test revisions and drives a
// git checkout of them.
package sut

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSubmoduleOverridesUnsupported is returned by Checkout when asked
// to check out a Revision with non-empty SubmoduleOverrides: this is
// an explicitly unimplemented path, not a defect.
var ErrSubmoduleOverridesUnsupported = errors.New("sut: submodule overrides are not implemented")

const gitPrefix = "git-"

// ModuleRevision identifies a single module's revision. Only the git
// variant exists today; the type is a struct rather than an
// interface so JSON (de)serialization stays simple, but is shaped so
// a second kind could be added by giving it its own tag byte.
type ModuleRevision struct {
	Hash [20]byte
}

// GitRevision builds a ModuleRevision from a 20-byte git object hash.
func GitRevision(hash [20]byte) ModuleRevision {
	return ModuleRevision{Hash: hash}
}

// ParseGitRevision parses a 40-character hex git hash.
func ParseGitRevision(hex40 string) (ModuleRevision, error) {
	raw, err := hex.DecodeString(hex40)
	if err != nil {
		return ModuleRevision{}, fmt.Errorf("sut: invalid git hash %q: %w", hex40, err)
	}
	if len(raw) != 20 {
		return ModuleRevision{}, fmt.Errorf("sut: git hash %q is not 20 bytes", hex40)
	}
	var rev ModuleRevision
	copy(rev.Hash[:], raw)
	return rev, nil
}

// String renders the human-readable form, e.g. "git-<40 hex chars>".
func (r ModuleRevision) String() string {
	return gitPrefix + hex.EncodeToString(r.Hash[:])
}

// MarshalJSON implements json.Marshaler, producing the "git-"+hex form.
func (r ModuleRevision) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler, requiring the "git-"+hex form.
func (r *ModuleRevision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("sut: decoding revision: %w", err)
	}
	if !strings.HasPrefix(s, gitPrefix) {
		return fmt.Errorf("sut: revision %q is missing the %q prefix", s, gitPrefix)
	}
	parsed, err := ParseGitRevision(strings.TrimPrefix(s, gitPrefix))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalBinary encodes the compact on-disk form: a single tag byte
// (0 == git) followed by the 20 raw hash bytes.
func (r ModuleRevision) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 21)
	buf = append(buf, 0)
	buf = append(buf, r.Hash[:]...)
	return buf, nil
}

// UnmarshalBinary decodes the form produced by MarshalBinary.
func (r *ModuleRevision) UnmarshalBinary(data []byte) error {
	if len(data) != 21 {
		return fmt.Errorf("sut: binary revision must be 21 bytes, got %d", len(data))
	}
	if data[0] != 0 {
		return fmt.Errorf("sut: unknown revision tag byte %d", data[0])
	}
	var rev ModuleRevision
	copy(rev.Hash[:], data[1:])
	*r = rev
	return nil
}

// SubmoduleOverride pins a single submodule to a revision other than
// the one recorded by the top-level checkout.
type SubmoduleOverride struct {
	Path     string         `json:"path" yaml:"path"`
	Revision ModuleRevision `json:"revision" yaml:"revision"`
}

// Revision identifies the full state of a SUT checkout: the top-level
// module's revision, plus any per-submodule overrides.
type Revision struct {
	Top                ModuleRevision      `json:"top" yaml:"top"`
	SubmoduleOverrides []SubmoduleOverride `json:"submodule-overrides,omitempty" yaml:"submodule-overrides,omitempty"`
}

// Equal reports whether two revisions identify the same checkout.
func (r Revision) Equal(other Revision) bool {
	if r.Top != other.Top {
		return false
	}
	if len(r.SubmoduleOverrides) != len(other.SubmoduleOverrides) {
		return false
	}
	for i := range r.SubmoduleOverrides {
		if r.SubmoduleOverrides[i].Path != other.SubmoduleOverrides[i].Path {
			return false
		}
		if r.SubmoduleOverrides[i].Revision != other.SubmoduleOverrides[i].Revision {
			return false
		}
	}
	return true
}

// cacheKey is a stable string form of a Revision, suitable as a map
// key or on-disk directory-naming component.
func (r Revision) cacheKey() string {
	var b bytes.Buffer
	b.WriteString(r.Top.String())
	for _, o := range r.SubmoduleOverrides {
		b.WriteByte('+')
		b.WriteString(o.Path)
		b.WriteByte('@')
		b.WriteString(o.Revision.String())
	}
	return b.String()
}

// CacheKey exposes cacheKey for callers (e.g. the build manager) that
// need a stable identity for a Revision.
func (r Revision) CacheKey() string { return r.cacheKey() }
