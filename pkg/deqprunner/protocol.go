package deqprunner

import (
	"strings"
	"time"
)

const (
	testPrefix     = "TEST: "
	caseLinePrefix = "Test case '"
	caseLineSuffix = "'.."
	doneMarker     = "DONE!"
)

// parseState accumulates the CTS binary's streaming text protocol
// into TestResult values. It is not safe for concurrent use; Runner
// drives it from a single goroutine.
type parseState struct {
	current   *TestResult
	stdoutAcc strings.Builder
	stderrAcc strings.Builder
	testsDone bool
}

// handleStdout folds one line of stdout into the parser. It returns
// an event to emit (an EventTest for a just-finished test, including
// one synthesized for a test abandoned mid-run) along with whether
// there is one.
func (p *parseState) handleStdout(line string) (Event, bool) {
	if name, ok := parseTestStart(line); ok {
		abandoned, hadAbandoned := p.startTest(name)
		return abandoned, hadAbandoned
	}

	if line == doneMarker {
		p.testsDone = true
		return Event{}, false
	}

	if variant, report, ok := parseResultLine(line); ok {
		return p.finishTest(variant, report), true
	}

	p.stdoutAcc.WriteString(line)
	p.stdoutAcc.WriteByte('\n')
	return Event{}, false
}

// startTest begins a new test named name. If a test was already open,
// it is considered abandoned (the binary started a new test without
// ever reporting a result for the previous one) and an InternalError
// TestResult is returned for it.
func (p *parseState) startTest(name string) (Event, bool) {
	var abandoned Event
	hadAbandoned := false
	if p.current != nil {
		abandoned = Event{Kind: EventTest, Test: p.finishResult(VariantInternalError, "abandoned: next test started before a result was reported")}
		hadAbandoned = true
	}

	p.current = &TestResult{Name: name, Start: time.Now()}
	p.stdoutAcc.Reset()
	p.stderrAcc.Reset()

	return abandoned, hadAbandoned
}

func (p *parseState) finishResult(variant Variant, report string) TestResult {
	res := *p.current
	res.Duration = time.Since(res.Start)
	res.Variant = variant
	res.Report = report
	res.Stdout = p.stdoutAcc.String()
	res.Stderr = p.stderrAcc.String()
	p.current = nil
	p.stdoutAcc.Reset()
	p.stderrAcc.Reset()
	return res
}

func (p *parseState) finishTest(variant Variant, report string) Event {
	return Event{Kind: EventTest, Test: p.finishResult(variant, report)}
}

// parseTestStart recognizes either form the CTS binary uses to
// announce a test: "TEST: <name>" or "Test case '<name>'..".
func parseTestStart(line string) (string, bool) {
	if strings.HasPrefix(line, testPrefix) {
		return strings.TrimPrefix(line, testPrefix), true
	}
	if strings.HasPrefix(line, caseLinePrefix) && strings.HasSuffix(line, caseLineSuffix) {
		name := strings.TrimPrefix(line, caseLinePrefix)
		name = strings.TrimSuffix(name, caseLineSuffix)
		return name, true
	}
	return "", false
}

// parseResultLine recognizes a two-space-indented result token,
// optionally followed by a parenthetical report, e.g.
// "  Fail (assertion failed at foo.cpp:42)".
func parseResultLine(line string) (Variant, string, bool) {
	if !strings.HasPrefix(line, "  ") {
		return 0, "", false
	}
	rest := strings.TrimPrefix(line, "  ")
	if rest == "" {
		return 0, "", false
	}

	token := rest
	var report string
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		token = rest[:idx]
		report = strings.TrimSpace(rest[idx+1:])
		report = strings.TrimPrefix(report, "(")
		report = strings.TrimSuffix(report, ")")
	}

	variant, ok := resultTokens[token]
	if !ok {
		return 0, "", false
	}
	return variant, report, true
}
