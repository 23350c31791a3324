// Package config loads and watches the .loom/config.yaml project
// configuration. The scheduler re-checks the file at tick boundaries so
// edits take effect without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// LoomDir is the per-project state directory created by `loom init`.
	LoomDir = ".loom"
	// ConfigFile is the config file name inside LoomDir.
	ConfigFile = "config.yaml"
)

const defaultConfigYAML = `# loom project configuration
version: 1

scheduler:
  # How often the scheduler polls for ready work.
  poll_interval: 5s
  # Maximum number of concurrent executions.
  max_concurrency: 3
  # Branch that merges target when an issue has no group working branch.
  default_branch: main

executor:
  # Command invoked inside the worktree for each execution. The issue id
  # is appended as the final argument.
  agent_command: ["loom-agent"]
  # Hard wall-clock limit per execution. Zero disables the limit.
  timeout: 30m

gates:
  enabled: true
  checks:
    - name: test
      command: ["go", "test", "./..."]
    - name: build
      command: ["go", "build", "./..."]

events:
  # Activity-trail rows retained after pruning.
  retain: 10000
`

// GateCheck is one named quality gate command.
type GateCheck struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// SchedulerConfig controls the poll loop.
type SchedulerConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	DefaultBranch  string   `yaml:"default_branch"`
}

// ExecutorConfig controls how executions are spawned.
type ExecutorConfig struct {
	AgentCommand []string `yaml:"agent_command"`
	Timeout      Duration `yaml:"timeout"`
}

// GatesConfig controls post-execution quality gates.
type GatesConfig struct {
	Enabled bool        `yaml:"enabled"`
	Checks  []GateCheck `yaml:"checks"`
}

// EventsConfig controls activity-trail retention.
type EventsConfig struct {
	Retain int `yaml:"retain"`
}

// Config models .loom/config.yaml.
type Config struct {
	Version   int             `yaml:"version"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Gates     GatesConfig     `yaml:"gates"`
	Events    EventsConfig    `yaml:"events"`
}

// Default returns the built-in configuration used when no config file
// exists or a field is unset.
func Default() *Config {
	return &Config{
		Version: 1,
		Scheduler: SchedulerConfig{
			PollInterval:   Duration(5 * time.Second),
			MaxConcurrency: 3,
			DefaultBranch:  "main",
		},
		Executor: ExecutorConfig{
			AgentCommand: []string{"loom-agent"},
			Timeout:      Duration(30 * time.Minute),
		},
		Gates: GatesConfig{
			Enabled: true,
			Checks: []GateCheck{
				{Name: "test", Command: []string{"go", "test", "./..."}},
				{Name: "build", Command: []string{"go", "build", "./..."}},
			},
		},
		Events: EventsConfig{
			Retain: 10000,
		},
	}
}

// Validate checks the configuration for values the scheduler cannot run
// with.
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.MaxConcurrency < 1 {
		return fmt.Errorf("scheduler.max_concurrency must be at least 1, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Scheduler.DefaultBranch == "" {
		return fmt.Errorf("scheduler.default_branch is required")
	}
	if len(c.Executor.AgentCommand) == 0 {
		return fmt.Errorf("executor.agent_command is required")
	}
	for _, check := range c.Gates.Checks {
		if check.Name == "" {
			return fmt.Errorf("gate check missing name")
		}
		if len(check.Command) == 0 {
			return fmt.Errorf("gate check %q missing command", check.Name)
		}
	}
	return nil
}

// Path returns the config file path for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, LoomDir, ConfigFile)
}

// Load reads the config file for a project root, filling unset fields from
// defaults. A missing file yields the defaults.
func Load(projectRoot string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(projectRoot))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// WriteDefault creates .loom/config.yaml with the commented default
// template. It refuses to overwrite an existing file.
func WriteDefault(projectRoot string) error {
	path := Path(projectRoot)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s: %w", path, os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", LoomDir, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = def.Scheduler.PollInterval
	}
	if cfg.Scheduler.MaxConcurrency == 0 {
		cfg.Scheduler.MaxConcurrency = def.Scheduler.MaxConcurrency
	}
	if cfg.Scheduler.DefaultBranch == "" {
		cfg.Scheduler.DefaultBranch = def.Scheduler.DefaultBranch
	}
	if len(cfg.Executor.AgentCommand) == 0 {
		cfg.Executor.AgentCommand = def.Executor.AgentCommand
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = def.Executor.Timeout
	}
	if cfg.Events.Retain == 0 {
		cfg.Events.Retain = def.Events.Retain
	}
}

// Watcher reloads the config when the file's mtime changes. It is cheap
// enough to call once per scheduler tick.
type Watcher struct {
	projectRoot string

	mu      sync.RWMutex
	current *Config
	modTime time.Time
}

// NewWatcher loads the initial config and returns a watcher over it.
func NewWatcher(projectRoot string) (*Watcher, error) {
	cfg, err := Load(projectRoot)
	if err != nil {
		return nil, err
	}
	w := &Watcher{projectRoot: projectRoot, current: cfg}
	if info, err := os.Stat(Path(projectRoot)); err == nil {
		w.modTime = info.ModTime()
	}
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Refresh re-reads the config if the file changed since the last load.
// A file that fails to parse leaves the previous config in effect and
// returns the parse error so the caller can warn.
func (w *Watcher) Refresh() (*Config, error) {
	info, err := os.Stat(Path(w.projectRoot))
	if os.IsNotExist(err) {
		return w.Current(), nil
	}
	if err != nil {
		return w.Current(), fmt.Errorf("failed to stat config: %w", err)
	}

	w.mu.RLock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.RUnlock()
	if unchanged {
		return w.Current(), nil
	}

	cfg, err := Load(w.projectRoot)
	if err != nil {
		return w.Current(), err
	}

	w.mu.Lock()
	w.current = cfg
	w.modTime = info.ModTime()
	w.mu.Unlock()
	return cfg, nil
}
