// Package buildmgr caches and serializes builds of a software-under-test
// revision, backed by a crash-safe append-only JSONL log so the
// in-memory state can always be rebuilt from disk.
package buildmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ctspti/pti/pkg/dockerbuild"
	"github.com/ctspti/pti/pkg/sut"
)

// BuildStatus is the lifecycle state of a single build.
type BuildStatus int

const (
	StatusPending BuildStatus = iota
	StatusBuilding
	StatusOk
	StatusFail
)

func (s BuildStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBuilding:
		return "building"
	case StatusOk:
		return "ok"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ErrBuildFailed is returned by GetOrMakeBuild when the build for the
// requested revision previously failed and hasn't been cleared.
var ErrBuildFailed = errors.New("buildmgr: build previously failed")

// ErrNotImplemented marks operations spec.md leaves as open questions.
var ErrNotImplemented = errors.New("buildmgr: not implemented")

// Config configures a BuildMgr. Field names mirror the original's
// kebab-case config keys.
type Config struct {
	ArtefactPath string `json:"artefact-path" yaml:"artefact-path"`
	// MaxArtefacts is parsed but not enforced: no eviction policy is
	// specified for it anywhere in the source this was derived from.
	MaxArtefacts int    `json:"max-artefacts" yaml:"max-artefacts"`
	BuildPath    string `json:"build-path" yaml:"build-path"`
	BuildScript  string `json:"build-script" yaml:"build-script"`
	// ContainerImage, when non-empty, routes builds through
	// pkg/dockerbuild instead of running BuildScript on the host.
	ContainerImage string `json:"container-image,omitempty" yaml:"container-image,omitempty"`
}

// DefaultMaxArtefacts matches the original's default.
const DefaultMaxArtefacts = 100

// checkouter is the slice of sut.SoftwareUnderTest that BuildMgr
// depends on, so tests can supply a fake instead of driving real git.
type checkouter interface {
	Checkout(ctx context.Context, rev sut.Revision) error
}

// BuildMgr owns a build log and the artifact directories it
// describes. All exported methods are safe for concurrent use.
type BuildMgr struct {
	cfg Config
	sut checkouter
	now func() time.Time

	mu       sync.Mutex
	state    *mgrState
	logFile  *os.File
	building bool
	// buildCond wakes one waiter when the global "someone is building"
	// flag is released. buildDone wakes every waiter on a specific
	// build's status once it leaves Building. Both share mu: this is
	// the idiomatic Go translation of the original's async Notify
	// (single wake / broadcast wake), since Go has no bare async
	// notify primitive.
	buildCond *sync.Cond
	buildDone *sync.Cond
}

func logPath(artefactPath string) string {
	return filepath.Join(artefactPath, "buildlog.json")
}

// New opens (or creates) the build manager rooted at cfg.ArtefactPath,
// replaying its log. A corrupt log is renamed aside (to
// buildlog.json.corrupt.<nanos>) and replaced with an empty one rather
// than refusing to start: a prior crash mid-write
// should not wedge the whole process on the next run.
func New(cfg Config, underTest checkouter) (*BuildMgr, error) {
	if cfg.MaxArtefacts == 0 {
		cfg.MaxArtefacts = DefaultMaxArtefacts
	}
	if err := os.MkdirAll(cfg.ArtefactPath, 0o755); err != nil {
		return nil, fmt.Errorf("buildmgr: creating artefact directory: %w", err)
	}

	path := logPath(cfg.ArtefactPath)
	state, err := replayLog(path)
	if err != nil {
		// The log is corrupt. Preserve it for forensics, then start
		// fresh rather than refusing to serve any build at all.
		if renameErr := os.Rename(path, path+".corrupt."+strconv.FormatInt(time.Now().UnixNano(), 10)); renameErr != nil && !os.IsNotExist(renameErr) {
			return nil, fmt.Errorf("buildmgr: replaying log failed (%v), and could not preserve it: %w", err, renameErr)
		}
		state = newMgrState()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("buildmgr: opening build log for append: %w", err)
	}

	mgr := &BuildMgr{
		cfg:     cfg,
		sut:     underTest,
		now:     time.Now,
		state:   state,
		logFile: f,
	}
	mgr.buildCond = sync.NewCond(&mgr.mu)
	mgr.buildDone = sync.NewCond(&mgr.mu)
	return mgr, nil
}

// Close releases the build manager's open log file.
func (m *BuildMgr) Close() error {
	return m.logFile.Close()
}

func (m *BuildMgr) artefactDir(id uint64) string {
	return filepath.Join(m.cfg.ArtefactPath, strconv.FormatUint(id, 10))
}

// commitLocked appends e to the log and applies it to the in-memory
// state. Caller must hold m.mu. If the write fails, the state is left
// untouched: nothing was durably recorded, so nothing should be
// pretended to have happened.
func (m *BuildMgr) commitLocked(e logEntry) error {
	if err := appendEntry(m.logFile, e); err != nil {
		return err
	}
	return m.state.apply(e)
}

// GetBuild reports the build recorded for rev, if any, without
// starting a build.
func (m *BuildMgr) GetBuild(rev sut.Revision) (path string, status BuildStatus, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, found := m.state.byRev[rev.CacheKey()]
	if !found {
		return "", 0, false
	}
	rec := m.state.byID[id]
	return m.artefactDir(rec.ID), rec.Status, true
}

// GetOrMakeBuild returns the artifact directory for rev, building it
// first if necessary. Only one build runs at a time across the whole
// BuildMgr; concurrent callers for different revisions queue behind
// each other exactly as callers for the same revision do.
func (m *BuildMgr) GetOrMakeBuild(ctx context.Context, rev sut.Revision) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, found := m.state.byRev[rev.CacheKey()]
	if !found {
		id = m.state.nextID
		if err := m.commitLocked(newCreateEntry(id, rev, m.now())); err != nil {
			return "", fmt.Errorf("buildmgr: recording new build: %w", err)
		}
	}

	for {
		rec := m.state.byID[id]
		switch rec.Status {
		case StatusPending:
			if m.building {
				m.buildCond.Wait()
				continue
			}
			m.building = true
			rec.Status = StatusBuilding
			m.mu.Unlock()
			buildErr := m.buildInner(ctx, id, rec.Rev)
			m.mu.Lock()
			m.building = false

			if err := m.commitLocked(newCompleteEntry(id, buildErr == nil, m.now())); err != nil {
				m.buildCond.Signal()
				m.buildDone.Broadcast()
				return "", fmt.Errorf("buildmgr: recording build result: %w", err)
			}
			m.buildCond.Signal()
			m.buildDone.Broadcast()

		case StatusBuilding:
			m.buildDone.Wait()

		case StatusOk:
			if err := m.commitLocked(newUseEntry(id, m.now())); err != nil {
				return "", fmt.Errorf("buildmgr: recording build use: %w", err)
			}
			return m.artefactDir(id), nil

		case StatusFail:
			return "", fmt.Errorf("%w: revision %s", ErrBuildFailed, rev.Top)
		}
	}
}

// buildInner performs the actual build for id/rev: wipe and recreate
// the artifact directory, check out rev, then run the build script
// either on the host or (if Config.ContainerImage is set) inside a
// container via pkg/dockerbuild.
func (m *BuildMgr) buildInner(ctx context.Context, id uint64, rev sut.Revision) error {
	dir := m.artefactDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("buildmgr: clearing artifact dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("buildmgr: creating artifact dir: %w", err)
	}

	if err := m.sut.Checkout(ctx, rev); err != nil {
		return fmt.Errorf("buildmgr: checking out revision: %w", err)
	}

	stdoutPath := filepath.Join(dir, "stdout")
	stderrPath := filepath.Join(dir, "stderr")

	var buildErr error
	if m.cfg.ContainerImage != "" {
		backend := dockerbuild.New(m.cfg.ContainerImage).WithBuildScript(m.cfg.BuildScript)
		buildErr = backend.Run(ctx, m.cfg.BuildPath, stdoutPath, stderrPath)
	} else {
		buildErr = m.runHostBuild(ctx, stdoutPath, stderrPath)
	}

	if buildErr != nil {
		if tail, readErr := os.ReadFile(stderrPath); readErr == nil && len(tail) > 0 {
			return fmt.Errorf("%w (stderr: %s)", buildErr, truncateTail(tail, 2048))
		}
		return buildErr
	}
	return nil
}

func (m *BuildMgr) runHostBuild(ctx context.Context, stdoutPath, stderrPath string) error {
	argv := strings.Fields(m.cfg.BuildScript)
	if len(argv) == 0 {
		return fmt.Errorf("buildmgr: empty build script")
	}

	outFile, err := os.Create(stdoutPath)
	if err != nil {
		return fmt.Errorf("buildmgr: creating stdout file: %w", err)
	}
	defer outFile.Close()
	errFile, err := os.Create(stderrPath)
	if err != nil {
		return fmt.Errorf("buildmgr: creating stderr file: %w", err)
	}
	defer errFile.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = m.cfg.BuildPath
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("buildmgr: build script failed: %w", err)
	}
	return nil
}

func truncateTail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

// ClearFail resets a failed build back to Pending so it can be
// retried. A build that isn't currently Fail is left untouched.
func (m *BuildMgr) ClearFail(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.byID[id]; !ok {
		return fmt.Errorf("buildmgr: unknown build %d", id)
	}

	// Resetting Fail -> Pending is the only effect; ClearFail on any
	// other status is a no-op, per apply's entryClear rule.
	return m.commitLocked(newClearFailEntry(id, m.now()))
}

// GetMostRecentBuild is left unimplemented: spec.md does not define
// an ordering ("most recent" by last use? by creation?) and the
// original marks the same method todo!().
func (m *BuildMgr) GetMostRecentBuild() (string, error) {
	return "", ErrNotImplemented
}
