package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kanblam/kanblam/internal/adapters/git"
	"github.com/kanblam/kanblam/internal/adapters/tmux"
	"github.com/kanblam/kanblam/internal/config"
	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/hooksignal"
	"github.com/kanblam/kanblam/internal/logging"
	"github.com/kanblam/kanblam/internal/orchestrator"
	"github.com/kanblam/kanblam/internal/qa"
	"github.com/kanblam/kanblam/internal/sessionregistry"
	"github.com/kanblam/kanblam/internal/sidecar"
	"github.com/kanblam/kanblam/internal/store"
)

// OrchestratorDeps bundles everything InitOrchestrator assembles, so
// callers (the board command, the future `tasks` subcommands) can
// reach the store and logger without re-deriving them.
type OrchestratorDeps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   *store.JSONStore
	Project *core.Project
	Deps    orchestrator.Dependencies
	Model   *orchestrator.Model
}

// InitOrchestrator loads configuration, wires every adapter behind
// core's ports (C1-C6, C8), resolves or registers the active project,
// and loads its persisted task list synchronously — the pattern
// orchestrator.Model.LoadProject documents for callers that don't want
// to round-trip OpenProjectMsg through the message loop at startup.
// Mirrors the teacher's InitPhaseRunner: one function assembling every
// dependency a cobra RunE needs, in the order each one depends on the
// last.
func InitOrchestrator(ctx context.Context) (*OrchestratorDeps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	repoPath, err := resolveProjectPath()
	if err != nil {
		return nil, err
	}

	gitClient, err := git.NewClient(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", repoPath, err)
	}
	worktreeBaseDir := filepath.Join(repoPath, "worktrees")
	worktrees := git.NewTaskWorktreeManager(gitClient, worktreeBaseDir).WithLogger(logger)

	agentCommand := cfg.Agent.Path
	if len(cfg.Agent.Args) > 0 {
		agentCommand = agentCommand + " " + strings.Join(cfg.Agent.Args, " ")
	}

	mux, err := tmux.New(agentCommand)
	if err != nil {
		return nil, fmt.Errorf("initializing tmux controller: %w", err)
	}

	signalsDir := cfg.Signals.Dir
	hooks := hooksignal.New(signalsDir, logger)

	var coprocess core.CoprocessClient
	if cfg.Sidecar.SocketPath != "" {
		coprocess = sidecar.New(ctx, cfg.Sidecar.SocketPath, logger)
	}

	sessions := sessionregistry.New()
	qaRunner := qa.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	stateStore := store.New(homeDir)

	readyTimeout, err := parseDurationDefault(cfg.Tmux.ReadyTimeout, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("parsing tmux.ready_timeout %q: %w", cfg.Tmux.ReadyTimeout, err)
	}
	pollInterval, err := parseDurationDefault(cfg.Tmux.PollInterval, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("parsing tmux.poll_interval %q: %w", cfg.Tmux.PollInterval, err)
	}

	sessionMode := core.SessionCliInteractive
	if coprocess != nil {
		sessionMode = core.SessionSdkManaged
	}

	deps := orchestrator.Dependencies{
		Worktrees:          worktrees,
		Mux:                mux,
		Hooks:              hooks,
		Coprocess:          coprocess,
		Sessions:           sessions,
		QA:                 qaRunner,
		Store:              stateStore,
		Logger:             logger,
		AgentCommand:       agentCommand,
		DefaultSessionMode: sessionMode,
		ReadyPattern:       cfg.Tmux.ReadyPattern,
		ReadyTimeout:       readyTimeout,
		WindowPollInterval: pollInterval,
	}

	project, err := resolveProject(ctx, stateStore, repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project: %w", err)
	}

	tasks, err := stateStore.LoadTasks(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("loading tasks for %s: %w", project.Path, err)
	}

	model := orchestrator.New(deps)
	model.LoadProject(project, tasks)

	return &OrchestratorDeps{
		Config:  cfg,
		Logger:  logger,
		Store:   stateStore,
		Project: project,
		Deps:    deps,
		Model:   model,
	}, nil
}

// loadConfig applies the global viper flag bindings and the
// 5-tier precedence config.Loader implements, shared by every
// subcommand that needs configuration without the full adapter set
// InitOrchestrator wires up.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// resolveSignalsDir loads just enough configuration to find the
// signals directory the hook bus watches, without wiring git, tmux,
// or the co-process client that `signal` never touches.
func resolveSignalsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Signals.Dir, nil
}

// resolveProjectPath returns the directory the orchestrator should
// treat as the active project's repository root: the --project flag
// if given, otherwise the current working directory.
func resolveProjectPath() (string, error) {
	if projectDir != "" {
		abs, err := filepath.Abs(projectDir)
		if err != nil {
			return "", fmt.Errorf("resolving --project path: %w", err)
		}
		return abs, nil
	}
	return os.Getwd()
}

// resolveProject looks up repoPath in the persisted registry, adding
// and persisting a new entry when it isn't already known, per
// spec.md's "opening a project for the first time registers it."
func resolveProject(ctx context.Context, st *store.JSONStore, repoPath string) (*core.Project, error) {
	reg, err := st.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range reg.Projects {
		if p.Path == repoPath {
			p.Touch()
			p.Status = core.StatusProjectHealthy
			if err := st.SaveRegistry(ctx, reg); err != nil {
				return nil, err
			}
			return p, nil
		}
	}

	project, err := core.NewProject(repoPath, "")
	if err != nil {
		return nil, err
	}
	project.Status = core.StatusProjectHealthy
	reg.Projects = append(reg.Projects, project)
	if reg.DefaultProject == "" {
		reg.DefaultProject = project.ID
	}
	if err := st.SaveRegistry(ctx, reg); err != nil {
		return nil, err
	}
	return project, nil
}

func parseDurationDefault(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
