// Package hooksignal implements the Hook Signal Bus (C3): it watches
// the signals directory for files dropped by agent-CLI hooks, decodes
// them, and delivers typed core.HookSignal values to the orchestrator.
package hooksignal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/events"
	"github.com/kanblam/kanblam/internal/logging"
)

const signalFilePrefix = "signal-"

// wireSignal is the on-disk shape of a signal-<event>-*.json file,
// matching spec.md §6's schema.
type wireSignal struct {
	Event            string `json:"event"`
	SessionID        string `json:"session_id"`
	ProjectDir       string `json:"project_dir"`
	TaskID           string `json:"task_id,omitempty"`
	Timestamp        string `json:"timestamp"`
	NotificationType string `json:"notification_type,omitempty"`
	Message          string `json:"message,omitempty"`
}

var eventKindByWire = map[string]core.HookEventType{
	"stopped":        core.HookStopped,
	"needs_input":    core.HookNeedsInput,
	"input_provided": core.HookInputGiven,
	"session_ended":  core.HookSessionEnded,
}

// hookEvent adapts a decoded HookSignal to events.Event so it can
// travel through the shared event bus's fan-out/backpressure logic
// before being unwrapped back into a typed core.HookSignal.
type hookEvent struct {
	events.BaseEvent
	signal core.HookSignal
}

// Bus watches a signals directory with fsnotify, decodes dropped
// files, and republishes them as core.HookSignal values. Malformed
// files are moved to a sibling quarantine directory instead of
// emitted.
type Bus struct {
	dir           string
	quarantineDir string
	logger        *logging.Logger
	bus           *events.EventBus
	errs          chan error
}

// New creates a Bus watching dir (conventionally
// <user-home>/.kanblam/signals).
func New(dir string, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		dir:           dir,
		quarantineDir: filepath.Join(dir, "quarantine"),
		logger:        logger,
		bus:           events.New(64),
		errs:          make(chan error, 16),
	}
}

var _ core.HookBus = (*Bus)(nil)

// Start begins watching and returns a channel of decoded signals.
// Closing ctx stops the watch and closes the returned channel.
func (b *Bus) Start(ctx context.Context) (<-chan core.HookSignal, error) {
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return nil, core.ErrExecution("SIGNALS_DIR_FAILED", "could not create signals directory").WithCause(err)
	}
	if err := os.MkdirAll(b.quarantineDir, 0o750); err != nil {
		return nil, core.ErrExecution("QUARANTINE_DIR_FAILED", "could not create quarantine directory").WithCause(err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.ErrExecution("WATCHER_INIT_FAILED", "could not start fsnotify watcher").WithCause(err)
	}
	if err := watcher.Add(b.dir); err != nil {
		_ = watcher.Close()
		return nil, core.ErrExecution("WATCHER_ADD_FAILED", "could not watch signals directory").WithCause(err)
	}

	// Drain any files already present before the watch started: an
	// orchestrator restart should not lose signals an agent hook wrote
	// while nobody was watching.
	b.scanExisting()

	out := make(chan core.HookSignal, 64)
	busEvents := b.bus.Subscribe("hooksignal")

	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-busEvents:
				if !ok {
					return
				}
				he, ok := ev.(hookEvent)
				if !ok {
					continue
				}
				select {
				case out <- he.signal:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go b.watchLoop(ctx, watcher)

	return out, nil
}

// Errors returns a channel of non-fatal errors encountered while
// watching (e.g. a malformed file moved to quarantine).
func (b *Bus) Errors() <-chan error { return b.errs }

func (b *Bus) scanExisting() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), signalFilePrefix) {
			continue
		}
		b.handleFile(filepath.Join(b.dir, entry.Name()))
	}
}

func (b *Bus) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), signalFilePrefix) {
				continue
			}
			b.handleFile(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.reportError(fmt.Errorf("fsnotify: %w", err))
		}
	}
}

// handleFile reads, parses, publishes-or-quarantines, then deletes the
// source file as spec.md §4.3 requires.
func (b *Bus) handleFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// File may have been consumed by a concurrent watch pass or
		// removed already; not an error worth surfacing.
		return
	}

	signal, parseErr := decode(data)
	if parseErr != nil {
		b.quarantine(path, parseErr)
		return
	}
	if validateErr := signal.Validate(); validateErr != nil {
		b.quarantine(path, validateErr)
		return
	}

	b.bus.Publish(hookEvent{
		BaseEvent: events.NewBaseEvent("hooksignal", "", signal.ProjectDir),
		signal:    signal,
	})

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		b.reportError(fmt.Errorf("removing consumed signal file %s: %w", path, err))
	}
}

func decode(data []byte) (core.HookSignal, error) {
	var wire wireSignal
	if err := json.Unmarshal(data, &wire); err != nil {
		return core.HookSignal{}, err
	}
	kind, ok := eventKindByWire[wire.Event]
	if !ok {
		return core.HookSignal{}, fmt.Errorf("unknown hook event kind %q", wire.Event)
	}

	receivedAt := time.Now()
	if wire.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, wire.Timestamp); err == nil {
			receivedAt = ts
		}
	}

	return core.HookSignal{
		Event:      kind,
		TaskID:     wire.TaskID,
		ProjectDir: wire.ProjectDir,
		Message:    wire.Message,
		ReceivedAt: receivedAt,
	}, nil
}

func (b *Bus) quarantine(path string, cause error) {
	dest := filepath.Join(b.quarantineDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
		b.reportError(fmt.Errorf("quarantining malformed signal %s: %w", path, err))
		return
	}
	b.logger.Warn("quarantined malformed hook signal", "path", path, "error", cause)
	b.reportError(fmt.Errorf("malformed hook signal %s: %w", filepath.Base(path), cause))
}

func (b *Bus) reportError(err error) {
	select {
	case b.errs <- err:
	default:
		// Error channel full: drop rather than block the watch loop.
	}
}

// WriteSignal atomically creates a signal-<event>-<timestamp>-<rand>.json
// file in dir, used by the `signal` CLI subcommand (C9) that agent
// hooks invoke.
func WriteSignal(dir string, event core.HookEventType, sessionID, projectDir, taskID, notificationType, message string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	wireEvent := ""
	for w, k := range eventKindByWire {
		if k == event {
			wireEvent = w
			break
		}
	}
	if wireEvent == "" {
		return "", fmt.Errorf("unknown hook event kind %q", event)
	}

	payload := wireSignal{
		Event:            wireEvent,
		SessionID:        sessionID,
		ProjectDir:       projectDir,
		TaskID:           taskID,
		Timestamp:        time.Now().Format(time.RFC3339Nano),
		NotificationType: notificationType,
		Message:          message,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s%s-%d-%d.json", signalFilePrefix, wireEvent, time.Now().UnixNano(), os.Getpid())
	path := filepath.Join(dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}
