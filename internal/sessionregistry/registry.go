// Package sessionregistry implements the SessionRegistry port (C5):
// the orchestrator's in-memory view of which tasks have a live
// programmatic session, at most one per task.
//
// Grounded on the teacher's internal/control.ControlPlane, which
// guards its own live-state maps and channels behind a single
// sync.RWMutex and exposes narrow accessor methods rather than the
// map itself.
package sessionregistry

import (
	"sort"
	"sync"

	"github.com/kanblam/kanblam/internal/core"
)

// Registry tracks live sessions keyed by task id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.TaskID]*core.Session
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[core.TaskID]*core.Session)}
}

var _ core.SessionRegistry = (*Registry)(nil)

// Put records (or replaces) a task's live session.
func (r *Registry) Put(session *core.Session) {
	if session == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.TaskID] = session
}

// Get returns a task's session, if any.
func (r *Registry) Get(taskID core.TaskID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[taskID]
	return s, ok
}

// Remove drops a task's session record. Idempotent.
func (r *Registry) Remove(taskID core.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, taskID)
}

// Active returns every tracked session, ordered by task short id for
// deterministic iteration (e.g. when rendering or logging).
func (r *Registry) Active() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TaskID.ShortID < out[j].TaskID.ShortID
	})
	return out
}
