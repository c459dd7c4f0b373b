// Package store persists per-project task lists and the global project
// registry to disk (C8 Persistence).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/fsutil"
)

// JSONStore implements core.StateStore with atomically-written,
// checksummed JSON files: one tasks.json per project, one global
// config.json under the user's home directory.
type JSONStore struct {
	homeDir string // overridable for tests
}

// New creates a JSONStore rooted at the given user-home directory. If
// homeDir is empty, os.UserHomeDir is consulted lazily on each call
// that needs it.
func New(homeDir string) *JSONStore {
	return &JSONStore{homeDir: homeDir}
}

var _ core.StateStore = (*JSONStore)(nil)

func (s *JSONStore) resolveHome() (string, error) {
	if s.homeDir != "" {
		return s.homeDir, nil
	}
	return os.UserHomeDir()
}

// tasksEnvelope wraps a project's task list with a version and
// checksum, tolerating unknown fields on read for forward
// compatibility.
type tasksEnvelope struct {
	Version   int         `json:"version"`
	Checksum  string      `json:"checksum"`
	UpdatedAt time.Time   `json:"updated_at"`
	Tasks     []*core.Task `json:"tasks"`
}

func tasksPath(project *core.Project) string {
	return filepath.Join(project.Path, ".kanblam", "tasks.json")
}

func checksumOf(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LoadTasks reads <project>/.kanblam/tasks.json. A missing file is not
// an error: a newly opened project simply has no tasks yet.
func (s *JSONStore) LoadTasks(_ context.Context, project *core.Project) ([]*core.Task, error) {
	path := tasksPath(project)
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Task{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var env tasksEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "tasks.json is not valid JSON").WithCause(err)
	}

	wantChecksum := env.Checksum
	env.Checksum = ""
	gotChecksum, err := checksumOf(env.Tasks)
	if err != nil {
		return nil, err
	}
	if wantChecksum != "" && wantChecksum != gotChecksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "tasks.json checksum mismatch")
	}

	if env.Tasks == nil {
		env.Tasks = []*core.Task{}
	}
	return env.Tasks, nil
}

// SaveTasks atomically persists a project's task list: write to
// tasks.json.tmp, fsync, rename.
func (s *JSONStore) SaveTasks(_ context.Context, project *core.Project, tasks []*core.Task) error {
	dir := filepath.Join(project.Path, ".kanblam")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	checksum, err := checksumOf(tasks)
	if err != nil {
		return fmt.Errorf("checksumming tasks: %w", err)
	}
	env := tasksEnvelope{
		Version:   1,
		Checksum:  checksum,
		UpdatedAt: time.Now(),
		Tasks:     tasks,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tasks: %w", err)
	}

	path := tasksPath(project)
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return core.ErrExecution("TASKS_WRITE_FAILED", "could not write tasks.json").WithCause(err)
	}
	return nil
}

// registryEnvelope is the on-disk shape of ~/.kanblam/config.json.
type registryEnvelope struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Registry  *core.RegistryConfig `json:"registry"`
}

func (s *JSONStore) registryPath() (string, error) {
	home, err := s.resolveHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kanblam", "config.json"), nil
}

// LoadRegistry reads the global ~/.kanblam/config.json registry,
// tolerating unknown fields. An absent file yields an empty registry.
func (s *JSONStore) LoadRegistry(_ context.Context) (*core.RegistryConfig, error) {
	path, err := s.registryPath()
	if err != nil {
		return nil, err
	}
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &core.RegistryConfig{Version: 1}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var env registryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "config.json is not valid JSON").WithCause(err)
	}
	if env.Registry == nil {
		env.Registry = &core.RegistryConfig{Version: 1}
	}
	return env.Registry, nil
}

// SaveRegistry atomically persists the global registry.
func (s *JSONStore) SaveRegistry(_ context.Context, reg *core.RegistryConfig) error {
	path, err := s.registryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	env := registryEnvelope{Version: 1, UpdatedAt: time.Now(), Registry: reg}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return core.ErrExecution("REGISTRY_WRITE_FAILED", "could not write config.json").WithCause(err)
	}
	return nil
}
