// Package ptierr classifies the sentinel errors the rest of pti
// returns into a small set of kinds, so callers like cmd/pti-devtool
// can decide how to react (log level, whether a retry makes sense)
// without importing every package that might produce one.
package ptierr

import (
	"errors"

	"github.com/ctspti/pti/pkg/buildmgr"
	"github.com/ctspti/pti/pkg/deqprunner"
	"github.com/ctspti/pti/pkg/sampler"
	"github.com/ctspti/pti/pkg/suite"
	"github.com/ctspti/pti/pkg/sut"
)

// Kind buckets an error by how a caller should react to it, mirroring
// the ordering the teacher uses for deqprunner's latched Cause: a
// small closed enum rather than an open string taxonomy.
type Kind int

const (
	// KindUnknown covers any error not recognized below.
	KindUnknown Kind = iota
	// KindInvalidInput is a caller mistake: bad config, a malformed
	// path, an unsupported combination of fields. Retrying with the
	// same input will not help.
	KindInvalidInput
	// KindConflict is a state conflict: a name already registered as
	// the other kind of node, a build already failed.
	KindConflict
	// KindNotFound names a revision, build, or test that doesn't exist.
	KindNotFound
	// KindSubprocess covers a run of the CTS binary (or the build
	// script) ending abnormally: crash, timeout, fatal error.
	KindSubprocess
	// KindUnsupported marks a deliberately unimplemented path.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindSubprocess:
		return "subprocess"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// sentinels pairs every sentinel error the library packages export
// with the Kind it belongs to. Order doesn't matter: errors.Is checks
// every entry.
var sentinels = []struct {
	err  error
	kind Kind
}{
	{suite.ErrNameConflict, KindConflict},
	{suite.ErrEmptyName, KindInvalidInput},
	{sampler.ErrOverflow, KindInvalidInput},
	{sut.ErrSubmoduleOverridesUnsupported, KindUnsupported},
	{buildmgr.ErrBuildFailed, KindConflict},
	{buildmgr.ErrNotImplemented, KindUnsupported},
}

// Classify reports the Kind of err, walking its wrap chain against
// every known sentinel. A deqprunner.RunError is classified as
// KindSubprocess regardless of which Cause it latched: callers that
// need the specific Cause should type-assert for *deqprunner.RunError
// themselves, the same way pkg/metrics does.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var runErr *deqprunner.RunError
	if errors.As(err, &runErr) {
		return KindSubprocess
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	return KindUnknown
}

// Retryable reports whether retrying the same call with the same
// input might succeed. Subprocess failures (a one-off crash or
// timeout) and not-found lookups that might resolve on a retry
// (a revision landing a moment later) are retryable; conflicts and
// invalid input are not, since nothing changes by retrying them alone.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindSubprocess, KindNotFound:
		return true
	default:
		return false
	}
}
