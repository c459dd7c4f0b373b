package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Sidecar: SidecarConfig{
			SocketPath:  "/tmp/sidecar.sock",
			CallTimeout: "30s",
		},
		Signals: SignalsConfig{Dir: "/tmp/signals"},
		Agent:   AgentConfig{Path: "claude"},
		Tmux: TmuxConfig{
			ReadyPattern: `\$\s*$`,
			ReadyTimeout: "10s",
			PollInterval: "250ms",
		},
		Defaults: ProjectDefaults{QAEnabled: true, MaxQAAttempts: 3},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidator_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() want error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log.level") {
		t.Errorf("error = %v, want mention of log.level", err)
	}
}

func TestValidator_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() want error for invalid log format, got nil")
	}
	if !strings.Contains(err.Error(), "log.format") {
		t.Errorf("error = %v, want mention of log.format", err)
	}
}

func TestValidator_EmptyAgentPath(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.Path = "   "

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() want error for empty agent path, got nil")
	}
	if !strings.Contains(err.Error(), "agent.path") {
		t.Errorf("error = %v, want mention of agent.path", err)
	}
}

func TestValidator_InvalidSidecarTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Sidecar.CallTimeout = "not-a-duration"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() want error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "sidecar.call_timeout") {
		t.Errorf("error = %v, want mention of sidecar.call_timeout", err)
	}
}

func TestValidator_InvalidTmuxDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Tmux.ReadyTimeout = "soon"
	cfg.Tmux.PollInterval = "later"

	errs, ok := Validate(cfg).(ValidationErrors)
	if !ok {
		t.Fatalf("Validate() error type = %T, want ValidationErrors", Validate(cfg))
	}
	if len(errs) != 2 {
		t.Fatalf("len(errs) = %d, want 2", len(errs))
	}
}

func TestValidator_InvalidReadyPatternRegex(t *testing.T) {
	cfg := validConfig()
	cfg.Tmux.ReadyPattern = "(unclosed"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() want error for invalid regex, got nil")
	}
	if !strings.Contains(err.Error(), "tmux.ready_pattern") {
		t.Errorf("error = %v, want mention of tmux.ready_pattern", err)
	}
}

func TestValidator_MaxQAAttemptsTooLow(t *testing.T) {
	cfg := validConfig()
	cfg.Defaults.MaxQAAttempts = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() want error for max_qa_attempts < 1, got nil")
	}
	if !strings.Contains(err.Error(), "defaults.max_qa_attempts") {
		t.Errorf("error = %v, want mention of defaults.max_qa_attempts", err)
	}
}

func TestValidator_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	cfg.Agent.Path = ""
	cfg.Defaults.MaxQAAttempts = -1

	errs, ok := Validate(cfg).(ValidationErrors)
	if !ok {
		t.Fatalf("Validate() error type = %T, want ValidationErrors", Validate(cfg))
	}
	if len(errs) != 3 {
		t.Errorf("len(errs) = %d, want 3: %v", len(errs), errs)
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "agent.path", Value: "", Message: "must not be empty"}
	msg := e.Error()
	if !strings.Contains(msg, "agent.path") || !strings.Contains(msg, "must not be empty") {
		t.Errorf("Error() = %q, want to contain field and message", msg)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "bad a"},
		{Field: "b", Message: "bad b"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "bad a") || !strings.Contains(msg, "bad b") {
		t.Errorf("Error() = %q, want to contain both messages", msg)
	}
}

func TestValidationErrors_HasErrors(t *testing.T) {
	var empty ValidationErrors
	if empty.HasErrors() {
		t.Error("HasErrors() = true for empty slice, want false")
	}

	nonEmpty := ValidationErrors{{Field: "x", Message: "y"}}
	if !nonEmpty.HasErrors() {
		t.Error("HasErrors() = false for non-empty slice, want true")
	}
}
