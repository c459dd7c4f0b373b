//go:build go1.18

package config_test

import (
	"testing"

	"github.com/kanblam/kanblam/internal/config"
	"gopkg.in/yaml.v3"
)

func FuzzConfigParse(f *testing.F) {
	f.Add(`log:
  level: info
  format: auto
agent:
  path: claude
`)
	f.Add(`sidecar:
  socket_path: /tmp/sidecar.sock
  call_timeout: 30s
`)
	f.Add(`{}`)
	f.Add(``)
	f.Add(`log:
  level: debug
  format: json
sidecar:
  socket_path: /tmp/sidecar.sock
  call_timeout: 30s
signals:
  dir: /tmp/signals
agent:
  path: /usr/bin/claude
  args: ["--flag"]
tmux:
  ready_pattern: '\$\s*$'
  ready_timeout: 10s
  poll_interval: 250ms
defaults:
  qa_enabled: true
  max_qa_attempts: 3
`)

	f.Fuzz(func(t *testing.T, data string) {
		var cfg config.Config

		defer func() {
			if r := recover(); r != nil {
				t.Errorf("panic parsing config: %v", r)
			}
		}()

		if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
			return // invalid YAML is expected
		}

		_ = config.Validate(&cfg)
	})
}

func FuzzConfigMaxQAAttempts(f *testing.F) {
	f.Add(0)
	f.Add(1)
	f.Add(3)
	f.Add(5)
	f.Add(-1)
	f.Add(-100)
	f.Add(1000)

	f.Fuzz(func(t *testing.T, maxAttempts int) {
		cfg := config.Config{
			Log:     config.LogConfig{Level: "info", Format: "auto"},
			Sidecar: config.SidecarConfig{CallTimeout: "30s"},
			Agent:   config.AgentConfig{Path: "claude"},
			Tmux: config.TmuxConfig{
				ReadyPattern: `\$\s*$`,
				ReadyTimeout: "10s",
				PollInterval: "250ms",
			},
			Defaults: config.ProjectDefaults{MaxQAAttempts: maxAttempts},
		}

		err := config.Validate(&cfg)

		if maxAttempts < 1 && err == nil {
			t.Errorf("expected error for max_qa_attempts %d", maxAttempts)
		}
	})
}

func FuzzConfigAgentPath(f *testing.F) {
	f.Add("claude")
	f.Add("")
	f.Add("   ")
	f.Add("/usr/bin/claude")
	f.Add("a-very-long-agent-path-that-might-cause-issues")

	f.Fuzz(func(t *testing.T, path string) {
		cfg := config.Config{
			Log:     config.LogConfig{Level: "info", Format: "auto"},
			Sidecar: config.SidecarConfig{CallTimeout: "30s"},
			Agent:   config.AgentConfig{Path: path},
			Tmux: config.TmuxConfig{
				ReadyPattern: `\$\s*$`,
				ReadyTimeout: "10s",
				PollInterval: "250ms",
			},
			Defaults: config.ProjectDefaults{MaxQAAttempts: 3},
		}

		defer func() {
			if r := recover(); r != nil {
				t.Errorf("panic validating config with agent path %q: %v", path, r)
			}
		}()

		_ = config.Validate(&cfg)
	})
}
