// Package qa implements the automated quality-assurance pass (C6): it
// decides the resume directive sent to a task's session and scans the
// accumulated session output for a terminal pass/fail marker.
//
// Grounded on the teacher's internal/kanban.Engine tick/event loop for
// the bounded-retry shape and internal/service/retry.go for the
// attempt-ceiling pattern; the marker scan itself treats the agent as
// a black box, per spec.md §8's explicit note that QA must not rely on
// structured SDK signals beyond the message stream.
package qa

import (
	"fmt"
	"strings"

	"github.com/kanblam/kanblam/internal/core"
)

const (
	passMarker = "[QA:PASS]"
	failMarker = "[QA:FAIL]"
)

// Runner is the default QARunner: fixed marker strings, a directive
// template asking the agent to run tests, verify the build, check
// spec compliance, and emit a terminal marker.
type Runner struct{}

// New creates a QA Runner.
func New() *Runner { return &Runner{} }

var _ core.QARunner = (*Runner)(nil)

// Directive returns the prompt resumed into a task's session to drive
// a QA pass. On a retry (QAAttempts > 0) it is pointed back at the
// prior failure so the agent has something concrete to act on.
func (r *Runner) Directive(task *core.Task) string {
	var b strings.Builder
	b.WriteString("Run the project's test suite, verify the project builds, ")
	b.WriteString("and check your changes against the task's spec:\n\n")
	if task.SpecDocument != "" {
		b.WriteString(task.SpecDocument)
		b.WriteString("\n\n")
	}
	if task.QAAttempts > 0 {
		fmt.Fprintf(&b, "This is QA attempt %d. Address any remaining failures before re-running.\n\n", task.QAAttempts+1)
	}
	b.WriteString("When finished, emit exactly one terminal marker on its own line: ")
	b.WriteString(passMarker + " if the build, tests, and spec compliance all pass, or ")
	b.WriteString(failMarker + " followed by the specific failures otherwise.")
	return b.String()
}

// Scan inspects the session's full accumulated output for a terminal
// marker. The last marker occurrence wins, since prior QA attempts'
// output may still be present in fullOutput.
func (r *Runner) Scan(fullOutput string) core.QAOutcome {
	lastPass := strings.LastIndex(fullOutput, passMarker)
	lastFail := strings.LastIndex(fullOutput, failMarker)

	switch {
	case lastPass == -1 && lastFail == -1:
		return core.QANone
	case lastPass > lastFail:
		return core.QAPass
	default:
		return core.QAFail
	}
}
