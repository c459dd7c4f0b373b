package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v            *viper.Viper
	configFile   string
	envPrefix    string
	projectDir   string
	resolvePaths bool
	mu           sync.Mutex
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "KANBLAM", resolvePaths: true}
}

// NewLoaderWithViper creates a loader using an existing viper instance,
// so CLI flags bound via viper.BindPFlag take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "KANBLAM", resolvePaths: true}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load loads configuration from all sources.
//
// Precedence (highest to lowest):
//  1. CLI flags (bound via viper.BindPFlag)
//  2. Environment variables (KANBLAM_*)
//  3. Project config (<project>/.kanblam/config.yaml)
//  4. Global config (~/.kanblam/config.yaml)
//  5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".kanblam")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".kanblam"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, wrapLoadError("reading config", err)
			}
		}
	}

	if configPath := l.v.ConfigFileUsed(); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			normalized, err := loadNormalizedConfigMap(configPath)
			if err != nil {
				return nil, wrapLoadError("normalizing config", err)
			}
			if len(normalized) > 0 {
				if err := l.v.MergeConfigMap(normalized); err != nil {
					return nil, wrapLoadError("merging normalized config", err)
				}
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, wrapLoadError("unmarshaling config", err)
	}

	projectDir, _ := os.Getwd()
	if configPath := l.v.ConfigFileUsed(); configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			dir := filepath.Dir(abs)
			if filepath.Base(dir) == ".kanblam" {
				projectDir = filepath.Dir(dir)
			} else {
				projectDir = dir
			}
		}
	}
	l.projectDir = projectDir

	if l.resolvePaths {
		l.resolveAbsolutePaths(&cfg, projectDir)
	}
	l.applyPathDefaults(&cfg)

	return &cfg, nil
}

// ProjectDir returns the resolved project root directory, available
// after Load() has been called.
func (l *Loader) ProjectDir() string { return l.projectDir }

func (l *Loader) resolveAbsolutePaths(cfg *Config, baseDir string) {
	if cfg.Log.File != "" {
		cfg.Log.File = resolvePathRelativeTo(cfg.Log.File, baseDir)
	}
}

// applyPathDefaults fills in the user-home-relative defaults for the
// sidecar socket and signals directory when the user hasn't overridden
// them, per spec.md §6's filesystem layout.
func (l *Loader) applyPathDefaults(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if cfg.Sidecar.SocketPath == "" {
		cfg.Sidecar.SocketPath = filepath.Join(home, ".kanblam", "sidecar.sock")
	}
	if cfg.Signals.Dir == "" {
		cfg.Signals.Dir = filepath.Join(home, ".kanblam", "signals")
	}
}

func resolvePathRelativeTo(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 0 && (path[0] == '/' || path[0] == '\\') {
		return path
	}
	return filepath.Join(baseDir, path)
}

func loadNormalizedConfigMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	normalizeLegacyConfigMap(raw)
	return raw, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("log.file", "")

	l.v.SetDefault("sidecar.socket_path", "")
	l.v.SetDefault("sidecar.call_timeout", "30s")

	l.v.SetDefault("signals.dir", "")

	l.v.SetDefault("agent.path", "claude")
	l.v.SetDefault("agent.args", []string{})

	l.v.SetDefault("tmux.ready_pattern", `\$\s*$`)
	l.v.SetDefault("tmux.ready_timeout", "10s")
	l.v.SetDefault("tmux.poll_interval", "250ms")

	l.v.SetDefault("defaults.qa_enabled", true)
	l.v.SetDefault("defaults.max_qa_attempts", 3)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} { return l.v.Get(key) }

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) { l.v.Set(key, value) }

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool { return l.v.IsSet(key) }

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} { return l.v.AllSettings() }

func compileReadyPattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}

type loadError struct {
	op  string
	err error
}

func (e *loadError) Error() string { return e.op + ": " + e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

func wrapLoadError(op string, err error) error { return &loadError{op: op, err: err} }
