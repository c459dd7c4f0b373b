// Package config loads and validates kanblam's layered configuration:
// a global `~/.kanblam/config.yaml` optionally overridden by a
// per-project `.kanblam/config.yaml`, both overridable by
// `KANBLAM_*` environment variables and CLI flags. Grounded on the
// teacher's `internal/config` viper+yaml loader/validator split,
// re-keyed from the teacher's multi-agent-consensus schema to the
// orchestrator's own ambient concerns (logging, the co-process
// socket, the signals directory, the agent CLI launch command, and
// per-project QA defaults) per spec.md §6's environment contract.
package config

// Config holds all application configuration.
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Sidecar  SidecarConfig   `mapstructure:"sidecar"`
	Signals  SignalsConfig   `mapstructure:"signals"`
	Agent    AgentConfig     `mapstructure:"agent"`
	Tmux     TmuxConfig      `mapstructure:"tmux"`
	Defaults ProjectDefaults `mapstructure:"defaults"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SidecarConfig configures the JSON-RPC connection to the agent
// co-process (C4).
type SidecarConfig struct {
	SocketPath  string `mapstructure:"socket_path"`
	CallTimeout string `mapstructure:"call_timeout"`
}

// SignalsConfig configures the hook signal bus (C3).
type SignalsConfig struct {
	Dir string `mapstructure:"dir"`
}

// AgentConfig configures the interactive agent CLI launched in
// multiplexer windows.
type AgentConfig struct {
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
}

// TmuxConfig configures the multiplexer controller (C2).
type TmuxConfig struct {
	ReadyPattern string `mapstructure:"ready_pattern"`
	ReadyTimeout string `mapstructure:"ready_timeout"`
	PollInterval string `mapstructure:"poll_interval"`
}

// ProjectDefaults seeds core.Settings for a newly opened project.
type ProjectDefaults struct {
	QAEnabled     bool `mapstructure:"qa_enabled"`
	MaxQAAttempts int  `mapstructure:"max_qa_attempts"`
}
