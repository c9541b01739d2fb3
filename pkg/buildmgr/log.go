package buildmgr

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ctspti/pti/pkg/sut"
)

// entryType names the variants of a logEntry, matching the original's
// tagged union (serde `type` tag) one for one.
type entryType string

const (
	entryCreate   entryType = "Create"
	entryComplete entryType = "Complete"
	entryUse      entryType = "Use"
	entryClear    entryType = "ClearFail"
)

// logEntry is the on-disk JSONL record. Only the fields relevant to
// Type are populated; this mirrors the original's flattened enum more
// directly than a Go-native tagged interface would, and keeps the
// wire format identical to what a human reading buildlog.json expects.
type logEntry struct {
	ID      uint64        `json:"id"`
	Time    time.Time     `json:"time"`
	Type    entryType     `json:"type"`
	Rev     *sut.Revision `json:"rev,omitempty"`
	Success *bool         `json:"success,omitempty"`
}

func newCreateEntry(id uint64, rev sut.Revision, now time.Time) logEntry {
	return logEntry{ID: id, Time: now, Type: entryCreate, Rev: &rev}
}

func newCompleteEntry(id uint64, success bool, now time.Time) logEntry {
	return logEntry{ID: id, Time: now, Type: entryComplete, Success: &success}
}

func newUseEntry(id uint64, now time.Time) logEntry {
	return logEntry{ID: id, Time: now, Type: entryUse}
}

func newClearFailEntry(id uint64, now time.Time) logEntry {
	return logEntry{ID: id, Time: now, Type: entryClear}
}

// buildRecord is the in-memory projection of everything committed
// about a single build.
type buildRecord struct {
	ID       uint64
	Rev      sut.Revision
	LastUsed time.Time
	Status   BuildStatus
}

// mgrState is the pure, replayable projection of the append-only log.
// It holds no synchronization of its own; BuildMgr.mu guards it.
type mgrState struct {
	byID     map[uint64]*buildRecord
	byRev    map[string]uint64
	nextID   uint64
}

func newMgrState() *mgrState {
	return &mgrState{
		byID:  make(map[uint64]*buildRecord),
		byRev: make(map[string]uint64),
	}
}

// apply folds a single log entry into the state, returning an error
// if the entry is inconsistent with what's already known (e.g. a
// Create for an id that already exists). Inconsistency here means the
// log itself is corrupt, not that the caller made a mistake.
func (s *mgrState) apply(e logEntry) error {
	switch e.Type {
	case entryCreate:
		if _, exists := s.byID[e.ID]; exists {
			return fmt.Errorf("buildmgr: create for already-known build %d", e.ID)
		}
		if e.Rev == nil {
			return fmt.Errorf("buildmgr: create entry for build %d is missing a revision", e.ID)
		}
		rec := &buildRecord{ID: e.ID, Rev: *e.Rev, LastUsed: e.Time, Status: StatusPending}
		s.byID[e.ID] = rec
		s.byRev[e.Rev.CacheKey()] = e.ID
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}

	case entryComplete:
		rec, ok := s.byID[e.ID]
		if !ok {
			return fmt.Errorf("buildmgr: complete for unknown build %d", e.ID)
		}
		if e.Success == nil {
			return fmt.Errorf("buildmgr: complete entry for build %d is missing success", e.ID)
		}
		if *e.Success {
			rec.Status = StatusOk
		} else {
			rec.Status = StatusFail
		}

	case entryUse:
		rec, ok := s.byID[e.ID]
		if !ok {
			return fmt.Errorf("buildmgr: use for unknown build %d", e.ID)
		}
		rec.LastUsed = e.Time

	case entryClear:
		rec, ok := s.byID[e.ID]
		if !ok {
			return fmt.Errorf("buildmgr: clear-fail for unknown build %d", e.ID)
		}
		if rec.Status == StatusFail {
			rec.Status = StatusPending
		}

	default:
		return fmt.Errorf("buildmgr: unknown log entry type %q", e.Type)
	}

	return nil
}

// replayLog reads every line of path, folding each into a fresh
// mgrState. A parse or apply failure is reported to the caller, which
// (per buildmgr.go's New) renames the log aside and starts clean rather
// than refusing to start.
func replayLog(path string) (*mgrState, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return newMgrState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("buildmgr: opening build log: %w", err)
	}
	defer f.Close()

	state := newMgrState()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("buildmgr: parsing build log line %d: %w", line, err)
		}
		if err := state.apply(e); err != nil {
			return nil, fmt.Errorf("buildmgr: applying build log line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("buildmgr: reading build log: %w", err)
	}

	return state, nil
}

// appendEntry serializes e as a single JSON line and appends it to f.
// The entry is rejected before it ever reaches disk if it would
// somehow contain an embedded newline, which would corrupt the JSONL
// framing for every line after it.
func appendEntry(f *os.File, e logEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("buildmgr: marshaling log entry: %w", err)
	}
	if strings.ContainsRune(string(data), '\n') {
		return fmt.Errorf("buildmgr: log entry serialized with an embedded newline")
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("buildmgr: writing log entry: %w", err)
	}
	return f.Sync()
}
