package qa

import (
	"strings"
	"testing"

	"github.com/kanblam/kanblam/internal/core"
)

func TestScan_NoMarkerIsNone(t *testing.T) {
	r := New()
	if got := r.Scan("still working on it"); got != core.QANone {
		t.Fatalf("Scan() = %v, want QANone", got)
	}
}

func TestScan_PassMarker(t *testing.T) {
	r := New()
	if got := r.Scan("ran tests, all green\n[QA:PASS]\n"); got != core.QAPass {
		t.Fatalf("Scan() = %v, want QAPass", got)
	}
}

func TestScan_FailMarker(t *testing.T) {
	r := New()
	if got := r.Scan("2 tests failed\n[QA:FAIL]\nTestFoo: expected 1 got 2"); got != core.QAFail {
		t.Fatalf("Scan() = %v, want QAFail", got)
	}
}

func TestScan_LastMarkerWins(t *testing.T) {
	r := New()
	out := "[QA:FAIL]\nfixed the bug, retrying\n[QA:PASS]\n"
	if got := r.Scan(out); got != core.QAPass {
		t.Fatalf("Scan() = %v, want QAPass (latest marker)", got)
	}

	out = "[QA:PASS]\nwait, one more check failed\n[QA:FAIL]\n"
	if got := r.Scan(out); got != core.QAFail {
		t.Fatalf("Scan() = %v, want QAFail (latest marker)", got)
	}
}

func TestDirective_IncludesSpecAndAttemptCount(t *testing.T) {
	r := New()
	task := core.NewTask("fix login").WithSpecDocument("## Goal\nFix the login bug")
	task.QAAttempts = 1

	directive := r.Directive(task)
	if !strings.Contains(directive, "Fix the login bug") {
		t.Fatalf("expected directive to include spec document, got: %s", directive)
	}
	if !strings.Contains(directive, "attempt 2") {
		t.Fatalf("expected directive to reference attempt 2, got: %s", directive)
	}
	if !strings.Contains(directive, "[QA:PASS]") || !strings.Contains(directive, "[QA:FAIL]") {
		t.Fatalf("expected directive to name both markers, got: %s", directive)
	}
}

func TestDirective_FirstAttemptHasNoRetryNote(t *testing.T) {
	r := New()
	task := core.NewTask("fix login")
	directive := r.Directive(task)
	if strings.Contains(directive, "QA attempt") {
		t.Fatalf("expected no retry note on first attempt, got: %s", directive)
	}
}
