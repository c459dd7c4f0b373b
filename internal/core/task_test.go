package core

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPlanned, StatusQueued, true},
		{StatusQueued, StatusInProgress, true},
		{StatusInProgress, StatusTesting, true},
		{StatusInProgress, StatusReview, true},
		{StatusTesting, StatusReview, true},
		{StatusTesting, StatusInProgress, true},
		{StatusNeedsWork, StatusQueued, true},
		{StatusReview, StatusDone, true},
		{StatusReview, StatusNeedsWork, true},
		{StatusPlanned, StatusInProgress, false},
		{StatusQueued, StatusReview, false},
		{StatusDone, StatusInProgress, false},
		{StatusDiscarded, StatusQueued, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransition_DiscardedFromAnyNonTerminal(t *testing.T) {
	for from := range transitions {
		want := !from.IsTerminal()
		if got := CanTransition(from, StatusDiscarded); got != want {
			t.Errorf("CanTransition(%s, Discarded) = %v, want %v", from, got, want)
		}
	}
	if CanTransition(StatusDiscarded, StatusDiscarded) {
		t.Error("a status cannot transition to itself")
	}
}

func TestCanTransition_PlannedResetFromAnyNonTerminal(t *testing.T) {
	for from := range transitions {
		want := !from.IsTerminal() && from != StatusPlanned
		if got := CanTransition(from, StatusPlanned); got != want {
			t.Errorf("CanTransition(%s, Planned) = %v, want %v", from, got, want)
		}
	}
}

func TestTask_MarkInProgress_SetsStartedAtOnce(t *testing.T) {
	task := NewTask("do work")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if task.StartedAt == nil {
		t.Fatal("StartedAt should be set after first MarkInProgress")
	}
	first := *task.StartedAt

	if err := task.MarkNeedsWork(); err != nil {
		t.Fatalf("MarkNeedsWork: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("second MarkInProgress: %v", err)
	}
	if !task.StartedAt.Equal(first) {
		t.Error("StartedAt should not change on re-entry into InProgress")
	}
}

func TestTask_MarkTesting_CountsAttemptOnEntry(t *testing.T) {
	task := NewTask("do work")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := task.MarkNeedsWork(); err != nil {
		t.Fatalf("MarkNeedsWork from InProgress: %v", err)
	}
	if task.QAAttempts != 0 {
		t.Errorf("QAAttempts = %d, want 0 (never entered Testing)", task.QAAttempts)
	}

	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := task.MarkTesting(); err != nil {
		t.Fatalf("MarkTesting: %v", err)
	}
	if task.QAAttempts != 1 {
		t.Errorf("QAAttempts = %d, want 1 on entering Testing", task.QAAttempts)
	}
	if err := task.MarkNeedsWork(); err != nil {
		t.Fatalf("MarkNeedsWork from Testing: %v", err)
	}
	if task.QAAttempts != 1 {
		t.Errorf("QAAttempts = %d, want still 1 (MarkNeedsWork does not count again)", task.QAAttempts)
	}
}

func TestTask_MarkRetry_ReturnsToInProgressWithoutDoubleCounting(t *testing.T) {
	task := NewTask("do work")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := task.MarkTesting(); err != nil {
		t.Fatalf("MarkTesting: %v", err)
	}
	if err := task.MarkRetry(); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	if task.Status != StatusInProgress {
		t.Errorf("Status = %s, want InProgress", task.Status)
	}
	if task.QAAttempts != 1 {
		t.Errorf("QAAttempts = %d, want 1 (counted once, at the Testing entry)", task.QAAttempts)
	}

	if err := task.MarkTesting(); err != nil {
		t.Fatalf("second MarkTesting: %v", err)
	}
	if task.QAAttempts != 2 {
		t.Errorf("QAAttempts = %d, want 2 after a second Testing round", task.QAAttempts)
	}
}

func TestTask_MarkPlanned_ClearsBookkeeping(t *testing.T) {
	task := NewTask("do work")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	task.WorktreePath = "/tmp/wt"
	task.WindowName = "task-abcd1234"
	task.SessionMode = SessionSdkManaged
	task.SessionID = "sess-1"
	task.QAAttempts = 2

	if err := task.MarkNeedsWork(); err != nil {
		t.Fatalf("MarkNeedsWork: %v", err)
	}
	if err := task.MarkPlanned(); err != nil {
		t.Fatalf("MarkPlanned: %v", err)
	}
	if task.Status != StatusPlanned {
		t.Errorf("Status = %s, want Planned", task.Status)
	}
	if task.WorktreePath != "" || task.WindowName != "" || task.SessionID != "" {
		t.Error("MarkPlanned should clear worktree/window/session bookkeeping")
	}
	if task.SessionMode != SessionNone {
		t.Errorf("SessionMode = %s, want None", task.SessionMode)
	}
	if task.QAAttempts != 0 {
		t.Errorf("QAAttempts = %d, want reset to 0", task.QAAttempts)
	}
}

func TestTask_MarkDone_IllegalFromWrongState(t *testing.T) {
	task := NewTask("do work")
	if err := task.MarkDone(); err == nil {
		t.Fatal("expected error marking a freshly-planned task Done")
	}
	if task.Status != StatusPlanned {
		t.Errorf("Status = %s, want unchanged Planned on illegal transition", task.Status)
	}
}

func TestTask_MarkDiscarded_IllegalFromTerminal(t *testing.T) {
	task := NewTask("do work")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := task.MarkReview(); err != nil {
		t.Fatalf("MarkReview: %v", err)
	}
	if err := task.MarkDone(); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := task.MarkDiscarded(); err == nil {
		t.Error("expected error discarding a Done task")
	}
}

func TestTask_Validate(t *testing.T) {
	task := NewTask("")
	if err := task.Validate(); err == nil {
		t.Error("expected error for empty title")
	}

	task = NewTask("fine")
	if err := task.Validate(); err != nil {
		t.Errorf("unexpected error for valid task: %v", err)
	}

	task.QAAttempts = -1
	if err := task.Validate(); err == nil {
		t.Error("expected error for negative QAAttempts")
	}
}

func TestTaskID_Branch(t *testing.T) {
	id := NewTaskID()
	want := "claude/" + id.ShortID
	if got := id.Branch(); got != want {
		t.Errorf("Branch() = %q, want %q", got, want)
	}
}
