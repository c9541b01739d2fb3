package buildmgr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctspti/pti/pkg/sut"
)

type fakeSUT struct {
	checkoutErr error
	checkouts   []sut.Revision
}

func (f *fakeSUT) Checkout(ctx context.Context, rev sut.Revision) error {
	f.checkouts = append(f.checkouts, rev)
	return f.checkoutErr
}

func testRevision(t *testing.T, hex40 string) sut.Revision {
	t.Helper()
	rev, err := sut.ParseGitRevision(hex40)
	if err != nil {
		t.Fatalf("ParseGitRevision: %v", err)
	}
	return sut.Revision{Top: rev}
}

func newTestMgr(t *testing.T, underTest checkouter, buildScript string) *BuildMgr {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		ArtefactPath: dir,
		BuildPath:    dir,
		BuildScript:  buildScript,
	}
	mgr, err := New(cfg, underTest)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestGetBuildReturnsNotOkForUnknownRevision(t *testing.T) {
	mgr := newTestMgr(t, &fakeSUT{}, "true")
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	if _, _, ok := mgr.GetBuild(rev); ok {
		t.Fatalf("GetBuild() ok=true for a revision never built")
	}
}

func TestGetOrMakeBuildSucceeds(t *testing.T) {
	mgr := newTestMgr(t, &fakeSUT{}, "true")
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	path, err := mgr.GetOrMakeBuild(context.Background(), rev)
	if err != nil {
		t.Fatalf("GetOrMakeBuild: %v", err)
	}
	if filepath.Base(path) != "0" {
		t.Fatalf("expected first build to get id 0, got path %q", path)
	}

	gotPath, status, ok := mgr.GetBuild(rev)
	if !ok {
		t.Fatalf("GetBuild() ok=false after successful build")
	}
	if status != StatusOk {
		t.Fatalf("status = %v, want StatusOk", status)
	}
	if gotPath != path {
		t.Fatalf("GetBuild path = %q, want %q", gotPath, path)
	}
}

func TestGetOrMakeBuildIsIdempotent(t *testing.T) {
	mgr := newTestMgr(t, &fakeSUT{}, "true")
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	first, err := mgr.GetOrMakeBuild(context.Background(), rev)
	if err != nil {
		t.Fatalf("GetOrMakeBuild: %v", err)
	}
	second, err := mgr.GetOrMakeBuild(context.Background(), rev)
	if err != nil {
		t.Fatalf("GetOrMakeBuild (second time): %v", err)
	}
	if first != second {
		t.Fatalf("expected same path for repeated build request, got %q and %q", first, second)
	}
}

func TestGetOrMakeBuildFailsAndCanBeCleared(t *testing.T) {
	mgr := newTestMgr(t, &fakeSUT{}, "false")
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	if _, err := mgr.GetOrMakeBuild(context.Background(), rev); err == nil {
		t.Fatalf("expected build failure, got nil error")
	}

	_, status, ok := mgr.GetBuild(rev)
	if !ok || status != StatusFail {
		t.Fatalf("status = %v (ok=%v), want StatusFail", status, ok)
	}

	id, ok := mgr.state.byRev[rev.CacheKey()]
	if !ok {
		t.Fatalf("revision missing from state after failed build")
	}
	if err := mgr.ClearFail(id); err != nil {
		t.Fatalf("ClearFail: %v", err)
	}

	_, status, ok = mgr.GetBuild(rev)
	if !ok || status != StatusPending {
		t.Fatalf("status after ClearFail = %v (ok=%v), want StatusPending", status, ok)
	}
}

func TestClearFailIgnoresNonFailedBuild(t *testing.T) {
	mgr := newTestMgr(t, &fakeSUT{}, "true")
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	if _, err := mgr.GetOrMakeBuild(context.Background(), rev); err != nil {
		t.Fatalf("GetOrMakeBuild: %v", err)
	}
	id := mgr.state.byRev[rev.CacheKey()]

	// ClearFail on a build that isn't in Fail status is a no-op, not an
	// error: it still logs and commits, but the status is left alone.
	if err := mgr.ClearFail(id); err != nil {
		t.Fatalf("ClearFail: %v", err)
	}

	_, status, ok := mgr.GetBuild(rev)
	if !ok || status != StatusOk {
		t.Fatalf("status after no-op ClearFail = %v (ok=%v), want StatusOk unchanged", status, ok)
	}
}

func TestReplayRecoversStateAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{ArtefactPath: dir, BuildPath: dir, BuildScript: "true"}
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	mgr1, err := New(cfg, &fakeSUT{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := mgr1.GetOrMakeBuild(context.Background(), rev); err != nil {
		t.Fatalf("GetOrMakeBuild: %v", err)
	}
	mgr1.Close()

	mgr2, err := New(cfg, &fakeSUT{})
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer mgr2.Close()

	_, status, ok := mgr2.GetBuild(rev)
	if !ok {
		t.Fatalf("GetBuild() ok=false after replay")
	}
	if status != StatusOk {
		t.Fatalf("status after replay = %v, want StatusOk", status)
	}
}

func TestApplyRejectsDuplicateCreate(t *testing.T) {
	state := newMgrState()
	now := time.Now()
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	if err := state.apply(newCreateEntry(0, rev, now)); err != nil {
		t.Fatalf("apply(create): %v", err)
	}
	if err := state.apply(newCreateEntry(0, rev, now)); err == nil {
		t.Fatalf("expected error re-creating build 0")
	}
}

func TestApplyRejectsCompleteForUnknownBuild(t *testing.T) {
	state := newMgrState()
	if err := state.apply(newCompleteEntry(0, true, time.Now())); err == nil {
		t.Fatalf("expected error completing unknown build")
	}
}

func TestApplyReplaysCreateCompleteUseWithoutABuildingEntry(t *testing.T) {
	// The log never records a transition into Building -- Create leaves
	// a build Pending, and the very next entry for it is Complete. A
	// fresh replay must accept this sequence, not treat the missing
	// intermediate Building status as corruption.
	state := newMgrState()
	now := time.Now()
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	if err := state.apply(newCreateEntry(0, rev, now)); err != nil {
		t.Fatalf("apply(create): %v", err)
	}
	if err := state.apply(newCompleteEntry(0, true, now)); err != nil {
		t.Fatalf("apply(complete): %v", err)
	}
	if err := state.apply(newUseEntry(0, now)); err != nil {
		t.Fatalf("apply(use): %v", err)
	}

	if state.byID[0].Status != StatusOk {
		t.Fatalf("status = %v, want StatusOk", state.byID[0].Status)
	}
}

func TestApplyIgnoresClearFailForNonFailedBuild(t *testing.T) {
	state := newMgrState()
	now := time.Now()
	rev := testRevision(t, "6309e9c7eeddc731815eea5fee696ac4fb098e09")

	if err := state.apply(newCreateEntry(0, rev, now)); err != nil {
		t.Fatalf("apply(create): %v", err)
	}
	if err := state.apply(newCompleteEntry(0, true, now)); err != nil {
		t.Fatalf("apply(complete): %v", err)
	}
	if err := state.apply(newClearFailEntry(0, now)); err != nil {
		t.Fatalf("apply(clear-fail) on a non-failed build should be ignored, not error: %v", err)
	}
	if state.byID[0].Status != StatusOk {
		t.Fatalf("status = %v, want StatusOk unchanged by a no-op clear-fail", state.byID[0].Status)
	}
}
