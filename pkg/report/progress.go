package report

import (
	"encoding/json"
	"fmt"

	"github.com/ctspti/pti/pkg/deqprunner"
)

// OutputFormat selects how a Progress reports each event.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Progress prints one line per test result as a run proceeds, plus a
// final summary line. It writes directly to stdout, matching the
// teacher's progress reporter rather than going through pkg/logging:
// this is run output for a human watching a terminal, not a log.
type Progress struct {
	format OutputFormat
}

// NewProgress builds a Progress reporting in format.
func NewProgress(format OutputFormat) *Progress {
	return &Progress{format: format}
}

// Test reports one completed test result.
func (p *Progress) Test(result deqprunner.TestResult) {
	switch p.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":   "test",
			"name":    result.Name,
			"variant": result.Variant.String(),
		})
		fmt.Println(string(data))
	default:
		fmt.Printf("%-12s %s\n", result.Variant, result.Name)
	}
}

// Summary reports the final tally for a completed Run.
func (p *Progress) Summary(r *Run) {
	switch p.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event": "summary",
			"run":   r,
		})
		fmt.Println(string(data))
	default:
		status := "PASSED"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Printf("\n[%s] revision %s, %s\n", status, r.Revision, r.Duration)
		for variant, count := range r.Counts {
			fmt.Printf("  %-12s %d\n", variant, count)
		}
		if len(r.Failing) > 0 {
			fmt.Printf("  %d failing test(s)\n", len(r.Failing))
		}
	}
}
