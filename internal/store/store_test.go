package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kanblam/kanblam/internal/core"
)

func TestSaveLoadTasks_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	proj, err := core.NewProject(dir, "demo")
	if err != nil {
		t.Fatalf("NewProject error: %v", err)
	}
	s := New(t.TempDir())

	task := core.NewTask("add dark mode toggle")
	task.WithDescription("toggle the theme").WithAbbreviation("DMTG")

	if err := s.SaveTasks(context.Background(), proj, []*core.Task{task}); err != nil {
		t.Fatalf("SaveTasks error: %v", err)
	}

	got, err := s.LoadTasks(context.Background(), proj)
	if err != nil {
		t.Fatalf("LoadTasks error: %v", err)
	}
	if len(got) != 1 || got[0].Title != task.Title {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadTasks_MissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	proj, _ := core.NewProject(dir, "demo")
	s := New(t.TempDir())

	got, err := s.LoadTasks(context.Background(), proj)
	if err != nil {
		t.Fatalf("LoadTasks error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestLoadTasks_RejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	proj, _ := core.NewProject(dir, "demo")
	s := New(t.TempDir())

	task := core.NewTask("x")
	if err := s.SaveTasks(context.Background(), proj, []*core.Task{task}); err != nil {
		t.Fatalf("SaveTasks error: %v", err)
	}

	path := tasksPath(proj)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	corrupted := append([]byte{}, data...)
	corrupted = []byte(string(corrupted)[:len(corrupted)-2] + "}}")
	if err := os.WriteFile(path, corrupted, 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if _, err := s.LoadTasks(context.Background(), proj); err == nil {
		t.Fatalf("expected error reading corrupted tasks.json")
	}
}

func TestSaveLoadRegistry_RoundTrip(t *testing.T) {
	home := t.TempDir()
	s := New(home)

	reg := &core.RegistryConfig{Version: 1, DefaultProject: "p1"}
	if err := s.SaveRegistry(context.Background(), reg); err != nil {
		t.Fatalf("SaveRegistry error: %v", err)
	}

	got, err := s.LoadRegistry(context.Background())
	if err != nil {
		t.Fatalf("LoadRegistry error: %v", err)
	}
	if got.DefaultProject != "p1" {
		t.Fatalf("unexpected registry: %+v", got)
	}

	if _, err := os.Stat(filepath.Join(home, ".kanblam", "config.json")); err != nil {
		t.Fatalf("expected config.json to exist: %v", err)
	}
}

func TestLoadRegistry_MissingFileIsEmpty(t *testing.T) {
	s := New(t.TempDir())
	got, err := s.LoadRegistry(context.Background())
	if err != nil {
		t.Fatalf("LoadRegistry error: %v", err)
	}
	if len(got.Projects) != 0 {
		t.Fatalf("expected no projects, got %v", got.Projects)
	}
}
