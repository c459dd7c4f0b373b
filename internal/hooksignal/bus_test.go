package hooksignal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kanblam/kanblam/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWriteSignalThenBusDelivers(t *testing.T) {
	dir := t.TempDir()
	bus := New(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals, err := bus.Start(ctx)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	path, err := WriteSignal(dir, core.HookStopped, "sess-1", "/repo/worktrees/task-abcd1234", "", "", "agent finished")
	if err != nil {
		t.Fatalf("WriteSignal error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected signal file to exist before consumption: %v", err)
	}

	select {
	case sig := <-signals:
		if sig.Event != core.HookStopped {
			t.Fatalf("unexpected event kind: %v", sig.Event)
		}
		if sig.ProjectDir != "/repo/worktrees/task-abcd1234" {
			t.Fatalf("unexpected project dir: %v", sig.ProjectDir)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hook signal")
	}

	// File is deleted after consumption.
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected signal file to be removed after consumption")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMalformedSignalIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	bus := New(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := bus.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	badPath := filepath.Join(dir, "signal-stopped-bad.json")
	if err := os.WriteFile(badPath, []byte("not json"), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	select {
	case err := <-bus.Errors():
		if err == nil {
			t.Fatalf("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quarantine error")
	}

	quarantined := filepath.Join(dir, "quarantine", "signal-stopped-bad.json")
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(quarantined); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected malformed file to be moved to quarantine")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
