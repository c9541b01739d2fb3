// Package report persists and formats the outcome of a batch of
// sampled tests run against a built software-under-test revision, so
// later runs can be compared against earlier ones to spot regressions.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ctspti/pti/pkg/deqprunner"
)

// Status is the outcome of a batch run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Run records everything worth keeping about one batch of sampled
// tests run against one revision.
type Run struct {
	RunID     string    `json:"run_id"`
	Revision  string    `json:"revision"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`

	Status  Status `json:"status"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	// Counts tallies results by variant name (see deqprunner.Variant).
	Counts map[string]int `json:"counts"`
	// Failing lists the full names of every test whose variant was
	// neither Pass, QualityWarning, nor NotSupported.
	Failing []string `json:"failing,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewRun starts a Run for revision, stamped with startedAt (the caller
// supplies the timestamp since this package never calls time.Now()
// itself outside of Storage bookkeeping that isn't part of the record).
func NewRun(runID, revision string, startedAt time.Time) *Run {
	return &Run{
		RunID:     runID,
		Revision:  revision,
		StartTime: startedAt,
		Counts:    make(map[string]int),
	}
}

// isFailingVariant reports whether v counts as a test failure for
// regression-tracking purposes.
func isFailingVariant(v deqprunner.Variant) bool {
	switch v {
	case deqprunner.VariantPass, deqprunner.VariantQualityWarning, deqprunner.VariantNotSupported:
		return false
	default:
		return true
	}
}

// Observe records one completed test's result.
func (r *Run) Observe(result deqprunner.TestResult) {
	r.Counts[result.Variant.String()]++
	if isFailingVariant(result.Variant) {
		r.Failing = append(r.Failing, result.Name)
	}
}

// Finish closes out the run at endedAt, given the Runner's terminal
// cause (nil for a clean finish).
func (r *Run) Finish(endedAt time.Time, cause error) {
	r.EndTime = endedAt
	r.Duration = endedAt.Sub(r.StartTime).String()

	if cause != nil {
		r.Status = StatusFailed
		r.Success = false
		r.Message = cause.Error()
		r.Errors = append(r.Errors, cause.Error())
		return
	}

	r.Status = StatusCompleted
	r.Success = len(r.Failing) == 0
}

// Storage persists Runs as one JSON file per run, pruning to the most
// recent keepLastN when keepLastN is positive.
type Storage struct {
	dir       string
	keepLastN int
}

// NewStorage opens (creating if necessary) a Storage rooted at dir.
func NewStorage(dir string, keepLastN int) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: creating output directory: %w", err)
	}
	return &Storage{dir: dir, keepLastN: keepLastN}, nil
}

func (s *Storage) path(r *Run) string {
	name := fmt.Sprintf("run-%s-%s.json", r.StartTime.Format("20060102-150405"), r.RunID)
	return filepath.Join(s.dir, name)
}

// Save writes r as indented JSON and, if keepLastN is positive, prunes
// older runs beyond that count.
func (s *Storage) Save(r *Run) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshaling run: %w", err)
	}

	path := s.path(r)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: writing %s: %w", path, err)
	}

	if s.keepLastN > 0 {
		if err := s.prune(); err != nil {
			return path, fmt.Errorf("report: pruning old runs: %w", err)
		}
	}
	return path, nil
}

// Load reads a single run back from path.
func (s *Storage) Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: reading %s: %w", path, err)
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: parsing %s: %w", path, err)
	}
	return &r, nil
}

// List returns every stored run, newest first.
func (s *Storage) List() ([]*Run, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("report: reading %s: %w", s.dir, err)
	}

	var runs []*Run
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		r, err := s.Load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue // a partially-written or corrupt file is skipped, not fatal
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartTime.After(runs[j].StartTime) })
	return runs, nil
}

// PriorFor returns the most recently started stored run other than
// runID itself, if any, whatever revision it ran against (revision
// does not narrow the lookup) — the baseline a caller
// compares a fresh run against to find newly-regressed tests.
func (s *Storage) PriorFor(revision, runID string) (*Run, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.RunID != runID {
			return r, nil
		}
	}
	_ = revision // revision is part of the record but not the lookup key: the caller already knows it
	return nil, nil
}

func (s *Storage) prune() error {
	runs, err := s.List()
	if err != nil {
		return err
	}
	if len(runs) <= s.keepLastN {
		return nil
	}
	for _, r := range runs[s.keepLastN:] {
		os.Remove(s.path(r))
	}
	return nil
}

// NewlyFailing returns every test name present in cur.Failing but
// absent from prior.Failing — the regressions a fresh run introduced
// relative to a baseline. prior == nil means there is no baseline yet,
// in which case every current failure is reported as newly failing.
func NewlyFailing(cur, prior *Run) []string {
	if prior == nil {
		return append([]string(nil), cur.Failing...)
	}
	seen := make(map[string]bool, len(prior.Failing))
	for _, name := range prior.Failing {
		seen[name] = true
	}
	var fresh []string
	for _, name := range cur.Failing {
		if !seen[name] {
			fresh = append(fresh, name)
		}
	}
	return fresh
}
