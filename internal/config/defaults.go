package config

// DefaultConfigYAML is written to ~/.kanblam/config.yaml the first
// time the orchestrator runs, mirroring `quorum init`'s
// write-defaults-on-first-run idiom.
const DefaultConfigYAML = `# kanblam configuration
# Values not specified here use sensible defaults.

log:
  level: info
  format: auto
  file: ""

# Connection to the agent-runtime co-process (C4).
sidecar:
  socket_path: ""   # default: ~/.kanblam/sidecar.sock
  call_timeout: 30s

# Directory watched for agent-hook signal files (C3).
signals:
  dir: ""   # default: ~/.kanblam/signals

# Interactive agent CLI launched in multiplexer windows (C2).
agent:
  path: claude
  args: []

# Multiplexer window readiness polling (C2).
tmux:
  ready_pattern: '\$\s*$'
  ready_timeout: 10s
  poll_interval: 250ms

# Applied to a project's settings the first time it is opened.
defaults:
  qa_enabled: true
  max_qa_attempts: 3
`
