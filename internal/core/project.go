package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ProjectStatus represents the health state of a project.
type ProjectStatus string

const (
	StatusProjectHealthy      ProjectStatus = "healthy"
	StatusProjectDegraded     ProjectStatus = "degraded"
	StatusProjectOffline      ProjectStatus = "offline"
	StatusProjectInitializing ProjectStatus = "initializing"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// Settings holds per-project behavior toggles.
type Settings struct {
	QAEnabled     bool
	MaxQAAttempts int
}

// DefaultSettings returns the settings applied to a newly opened
// project when none are specified.
func DefaultSettings() Settings {
	return Settings{QAEnabled: true, MaxQAAttempts: 3}
}

// Project is a registered repository the orchestrator manages tasks
// against.
type Project struct {
	ID           string
	Path         string
	Name         string
	Slug         string
	Status       ProjectStatus
	CreatedAt    time.Time
	LastAccessed time.Time
	Settings     Settings
	TaskIDs      []TaskID
}

// NewProject registers a project rooted at path, deriving a
// filesystem-safe slug from its base directory name.
func NewProject(path, name string) (*Project, error) {
	id, err := randomID()
	if err != nil {
		return nil, ErrValidation("ID_GEN_FAILED", "could not generate project id").WithCause(err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	now := time.Now()
	return &Project{
		ID:           id,
		Path:         path,
		Name:         name,
		Slug:         Slugify(name),
		Status:       StatusProjectInitializing,
		CreatedAt:    now,
		LastAccessed: now,
		Settings:     DefaultSettings(),
	}, nil
}

// Slugify produces a lowercase, hyphenated, filesystem/tmux-safe slug.
func Slugify(s string) string {
	lower := strings.ToLower(s)
	slug := slugSanitizer.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "project"
	}
	return slug
}

func randomID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Touch records an access, used whenever the project becomes the
// active one in the TUI.
func (p *Project) Touch() { p.LastAccessed = time.Now() }

// IsHealthy reports whether the project status is healthy.
func (p *Project) IsHealthy() bool { return p != nil && p.Status == StatusProjectHealthy }

// IsAccessible reports whether the project can be worked on.
func (p *Project) IsAccessible() bool {
	return p != nil && (p.Status == StatusProjectHealthy || p.Status == StatusProjectDegraded)
}

// AddTask records a new task id in board order.
func (p *Project) AddTask(id TaskID) { p.TaskIDs = append(p.TaskIDs, id) }

// RemoveTask drops a task id from the board order.
func (p *Project) RemoveTask(id TaskID) {
	out := p.TaskIDs[:0]
	for _, existing := range p.TaskIDs {
		if existing.UUID != id.UUID {
			out = append(out, existing)
		}
	}
	p.TaskIDs = out
}

// Validate checks structural invariants.
func (p *Project) Validate() error {
	if p.Path == "" {
		return ErrValidation("EMPTY_PATH", "project path must not be empty")
	}
	if p.Slug == "" {
		return ErrValidation("EMPTY_SLUG", "project slug must not be empty")
	}
	return nil
}

// MultiplexerSessionName is the one tmux-equivalent session per
// project, named kc-<project-slug>.
func (p *Project) MultiplexerSessionName() string {
	return fmt.Sprintf("kc-%s", p.Slug)
}

// RegistryConfig is the persisted list of every project the user has
// opened, stored at ~/.kanblam/config.json alongside global Settings.
type RegistryConfig struct {
	Version        int
	DefaultProject string
	Projects       []*Project
}
