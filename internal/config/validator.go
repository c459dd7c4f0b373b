package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration, collecting every
// violation rather than stopping at the first so a user sees all
// problems in one pass.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateSidecar(&cfg.Sidecar)
	v.validateAgent(&cfg.Agent)
	v.validateTmux(&cfg.Tmux)
	v.validateDefaults(&cfg.Defaults)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	if !validLogLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	if !validLogFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateSidecar(cfg *SidecarConfig) {
	v.validateDuration("sidecar.call_timeout", cfg.CallTimeout, 0)
}

func (v *Validator) validateAgent(cfg *AgentConfig) {
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("agent.path", cfg.Path, "must not be empty")
	}
}

func (v *Validator) validateTmux(cfg *TmuxConfig) {
	v.validateDuration("tmux.ready_timeout", cfg.ReadyTimeout, 0)
	v.validateDuration("tmux.poll_interval", cfg.PollInterval, 0)
	if cfg.ReadyPattern != "" {
		if _, err := compileReadyPattern(cfg.ReadyPattern); err != nil {
			v.addError("tmux.ready_pattern", cfg.ReadyPattern, "not a valid regular expression: "+err.Error())
		}
	}
}

func (v *Validator) validateDefaults(cfg *ProjectDefaults) {
	if cfg.MaxQAAttempts < 1 {
		v.addError("defaults.max_qa_attempts", cfg.MaxQAAttempts, "must be at least 1")
	}
}

func (v *Validator) validateDuration(field, value string, min time.Duration) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "must be a valid duration (e.g. \"30s\")")
		return
	}
	if d < min {
		v.addError(field, value, fmt.Sprintf("must be at least %s", min))
	}
}

// Validate is the package-level convenience wrapper used by cmd/kanblam.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
