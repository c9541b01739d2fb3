package deqprunner

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestParseTestStartForms(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"TEST: dEQP-VK.api.info.get", "dEQP-VK.api.info.get"},
		{"Test case 'dEQP-VK.api.info.get'..", "dEQP-VK.api.info.get"},
	}
	for _, c := range cases {
		got, ok := parseTestStart(c.line)
		if !ok {
			t.Fatalf("parseTestStart(%q) returned ok=false", c.line)
		}
		if got != c.want {
			t.Fatalf("parseTestStart(%q) = %q, want %q", c.line, got, c.want)
		}
	}
}

func TestParseResultLine(t *testing.T) {
	cases := []struct {
		line       string
		wantOK     bool
		wantVar    Variant
		wantReport string
	}{
		{"  Pass", true, VariantPass, ""},
		{"  Fail (assertion failed)", true, VariantFail, "assertion failed"},
		{"  NotSupported (missing extension)", true, VariantNotSupported, "missing extension"},
		{"not indented", false, 0, ""},
		{"  GibberishToken", false, 0, ""},
	}
	for _, c := range cases {
		v, report, ok := parseResultLine(c.line)
		if ok != c.wantOK {
			t.Fatalf("parseResultLine(%q) ok = %v, want %v", c.line, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if v != c.wantVar || report != c.wantReport {
			t.Fatalf("parseResultLine(%q) = (%v, %q), want (%v, %q)", c.line, v, report, c.wantVar, c.wantReport)
		}
	}
}

func TestParseStateEmitsAbandonedTestAsInternalError(t *testing.T) {
	var p parseState

	if _, ok := p.handleStdout("TEST: dEQP-VK.a"); ok {
		t.Fatalf("starting first test should not emit an event")
	}

	ev, ok := p.handleStdout("TEST: dEQP-VK.b")
	if !ok {
		t.Fatalf("expected an abandoned-test event when a new test starts early")
	}
	if ev.Test.Name != "dEQP-VK.a" || ev.Test.Variant != VariantInternalError {
		t.Fatalf("unexpected abandoned event: %+v", ev)
	}

	ev, ok = p.handleStdout("  Pass")
	if !ok || ev.Test.Name != "dEQP-VK.b" || ev.Test.Variant != VariantPass {
		t.Fatalf("unexpected finish event: %+v (ok=%v)", ev, ok)
	}
}

func TestParseStateAccumulatesStdout(t *testing.T) {
	var p parseState

	p.handleStdout("TEST: dEQP-VK.a")
	p.handleStdout("some diagnostic line")
	p.handleStdout("another diagnostic line")
	ev, ok := p.handleStdout("  Fail (boom)")
	if !ok {
		t.Fatalf("expected finish event")
	}
	want := "some diagnostic line\nanother diagnostic line\n"
	if ev.Test.Stdout != want {
		t.Fatalf("Stdout = %q, want %q", ev.Test.Stdout, want)
	}
	if ev.Test.Report != "boom" {
		t.Fatalf("Report = %q, want %q", ev.Test.Report, "boom")
	}
}

func TestRunClassifiesCleanFinish(t *testing.T) {
	script := `#!/bin/sh
echo "TEST: dEQP-VK.a"
echo "  Pass"
echo "DONE!"
`
	runScript(t, script, 2*time.Second, func(t *testing.T, events []Event) {
		t.Helper()
		last := events[len(events)-1]
		if last.Kind != EventFinished || last.Cause != nil {
			t.Fatalf("expected a clean finish, got %+v", last)
		}
	})
}

func TestRunClassifiesCrash(t *testing.T) {
	// A test left open when the child exits abnormally is reported as
	// a synthesized Test(Crash) followed by Finished(Incomplete): the
	// open test accounts for the abnormal exit, it isn't reported
	// twice as both a Crash test and an overall Crash cause.
	script := `#!/bin/sh
echo "TEST: dEQP-VK.a"
exit 1
`
	runScript(t, script, 2*time.Second, func(t *testing.T, events []Event) {
		t.Helper()
		if len(events) < 3 {
			t.Fatalf("expected at least Launch, Test, Finished events, got %+v", events)
		}

		testEv := events[len(events)-2]
		if testEv.Kind != EventTest || testEv.Test.Name != "dEQP-VK.a" || testEv.Test.Variant != VariantCrash {
			t.Fatalf("expected a synthesized Crash test event, got %+v", testEv)
		}

		last := events[len(events)-1]
		re, ok := last.Cause.(*RunError)
		if last.Kind != EventFinished || !ok {
			t.Fatalf("expected a RunError finish, got %+v", last)
		}
		if re.Cause != CauseIncomplete {
			t.Fatalf("Cause = %v, want CauseIncomplete", re.Cause)
		}
	})
}

func TestRunClassifiesCrashWithNoOpenTest(t *testing.T) {
	// No test was ever started, so the abnormal exit has nothing to
	// synthesize a Test event for and is reported directly as Crash.
	script := `#!/bin/sh
exit 1
`
	runScript(t, script, 2*time.Second, func(t *testing.T, events []Event) {
		t.Helper()
		last := events[len(events)-1]
		re, ok := last.Cause.(*RunError)
		if last.Kind != EventFinished || !ok {
			t.Fatalf("expected a RunError finish, got %+v", last)
		}
		if re.Cause != CauseCrash {
			t.Fatalf("Cause = %v, want CauseCrash", re.Cause)
		}
	})
}

func TestRunClassifiesTimeout(t *testing.T) {
	script := `#!/bin/sh
echo "TEST: dEQP-VK.a"
sleep 5
echo "  Pass"
`
	runScript(t, script, 200*time.Millisecond, func(t *testing.T, events []Event) {
		t.Helper()
		last := events[len(events)-1]
		re, ok := last.Cause.(*RunError)
		if last.Kind != EventFinished || !ok {
			t.Fatalf("expected a RunError finish, got %+v", last)
		}
		if re.Cause != CauseTimeout {
			t.Fatalf("Cause = %v, want CauseTimeout", re.Cause)
		}
	})
}

func runScript(t *testing.T, script string, timeout time.Duration, check func(*testing.T, []Event)) {
	t.Helper()

	path := writeExecutable(t, script)

	r, err := Run(context.Background(), []string{"/bin/sh", path}, timeout)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer r.Close()

	var events []Event
	for ev := range r.Events() {
		events = append(events, ev)
	}

	if len(events) == 0 || events[0].Kind != EventLaunch {
		t.Fatalf("expected first event to be EventLaunch, got %+v", events)
	}

	check(t, events)
}

func writeExecutable(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/script.sh"
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}
