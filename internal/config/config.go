// Package config implements Nexus's layered configuration: project-level
// YAML defaults, overridden by environment variables, overridden by
// explicit CLI flags. Struct shape and yaml tags follow the teacher's
// internal/config/config.go; the merge itself is delegated to
// github.com/spf13/viper rather than the teacher's hand-rolled
// rawMap/yamlConfig presence-detection (see hugo-lorenzo-mato-quorum-ai's
// internal/config/loader.go, which solves the identical "file says
// nothing vs. file says false" problem with viper's own precedence
// chain instead of reparsing the file a second time as a raw map).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConsoleConfig controls terminal output formatting, matching the
// teacher's internal/config.ConsoleConfig field-for-field.
type ConsoleConfig struct {
	EnableColor       bool `yaml:"enable_color" mapstructure:"enable_color"`
	EnableProgressBar bool `yaml:"enable_progress_bar" mapstructure:"enable_progress_bar"`
	CompactMode       bool `yaml:"compact_mode" mapstructure:"compact_mode"`
	ShowAgentNames    bool `yaml:"show_agent_names" mapstructure:"show_agent_names"`
}

// AgentPoolConfig sizes each agent role's concurrent capacity (spec.md
// §4.9's AgentPool).
type AgentPoolConfig struct {
	Coder    int `yaml:"coder" mapstructure:"coder"`
	Tester   int `yaml:"tester" mapstructure:"tester"`
	Reviewer int `yaml:"reviewer" mapstructure:"reviewer"`
	Merger   int `yaml:"merger" mapstructure:"merger"`
}

// ModelConfig names the default LLM configuration an agent role invokes
// with, absent a per-task override.
type ModelConfig struct {
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// QALoopConfig mirrors spec.md §4.12's bounds.
type QALoopConfig struct {
	MaxIterations int  `yaml:"max_iterations" mapstructure:"max_iterations"`
	SkipQA        bool `yaml:"skip_qa" mapstructure:"skip_qa"`
}

// GitConfig configures merge target/remote behavior (spec.md §4.13).
type GitConfig struct {
	BaseBranch string `yaml:"base_branch" mapstructure:"base_branch"`
	HasRemote  bool   `yaml:"has_remote" mapstructure:"has_remote"`
	Remote     string `yaml:"remote" mapstructure:"remote"`
}

// StoreConfig locates the sqlite3 database file (internal/store).
type StoreConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// HTTPConfig configures the optional gin-gonic control/event surface
// (cmd/nexus serve).
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// MetricsConfig configures the Prometheus/OpenTelemetry ambient
// observability stack (internal/metrics).
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr       string `yaml:"addr" mapstructure:"addr"`
	TraceStdout bool  `yaml:"trace_stdout" mapstructure:"trace_stdout"`
}

// Config is the root configuration object.
type Config struct {
	ProjectPath string        `yaml:"project_path" mapstructure:"project_path"`
	LogLevel    string        `yaml:"log_level" mapstructure:"log_level"`
	LogDir      string        `yaml:"log_dir" mapstructure:"log_dir"`
	Timeout     time.Duration `yaml:"-" mapstructure:"-"`
	TimeoutRaw  string        `yaml:"timeout" mapstructure:"timeout"`

	Console     ConsoleConfig   `yaml:"console" mapstructure:"console"`
	AgentPool   AgentPoolConfig `yaml:"agent_pool" mapstructure:"agent_pool"`
	DefaultModel ModelConfig    `yaml:"default_model" mapstructure:"default_model"`
	QALoop      QALoopConfig    `yaml:"qa_loop" mapstructure:"qa_loop"`
	Git         GitConfig       `yaml:"git" mapstructure:"git"`
	Store       StoreConfig     `yaml:"store" mapstructure:"store"`
	HTTP        HTTPConfig      `yaml:"http" mapstructure:"http"`
	Metrics     MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// DefaultConsoleConfig matches the teacher's DefaultConsoleConfig values.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		EnableColor:       true,
		EnableProgressBar: true,
		ShowAgentNames:    true,
	}
}

// DefaultConfig returns Nexus's baseline configuration before any file,
// env, or flag layer is applied.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		LogDir:     ".nexus/logs",
		TimeoutRaw: "10h",
		Timeout:    10 * time.Hour,
		Console:    DefaultConsoleConfig(),
		AgentPool: AgentPoolConfig{
			Coder: 3, Tester: 1, Reviewer: 1, Merger: 1,
		},
		DefaultModel: ModelConfig{
			Model: "claude-sonnet-4", MaxTokens: 8192, Temperature: 0.2,
		},
		QALoop: QALoopConfig{
			MaxIterations: 50,
		},
		Git: GitConfig{
			BaseBranch: "main", Remote: "origin",
		},
		Store: StoreConfig{
			DBPath: ".nexus/nexus.db",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:4180",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// Loader layers Nexus's configuration sources through viper: CLI flags
// (bound by the caller via Viper().BindPFlag), then NEXUS_-prefixed
// environment variables, then <projectPath>/.nexus/config.yaml, then
// these defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader builds a Loader with Nexus's env prefix and key replacer
// wired in, matching the teacher's env-override idiom
// (applyConsoleEnvOverrides) generalized across the whole tree instead of
// one section at a time.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// WithConfigFile overrides the config file path Load searches for.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper exposes the underlying instance so cmd/nexus can bind cobra flags
// onto it before calling Load.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load resolves the final Config for projectDir: loads a local .env file
// for LLM provider API keys (idempotent, never overwrites an already-set
// variable), then reads <projectDir>/.nexus/config.yaml if present, then
// layers environment and previously bound flags on top.
func (l *Loader) Load(projectDir string) (*Config, error) {
	if err := loadDotEnv(projectDir); err != nil {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	defaults := DefaultConfig()
	setViperDefaults(l.v, defaults)

	configPath := l.configFile
	if configPath == "" {
		configPath = filepath.Join(projectDir, ".nexus", "config.yaml")
	}
	l.v.SetConfigFile(configPath)
	l.v.SetConfigType("yaml")

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No project config yet: defaults + env + flags still apply.
		} else if os.IsNotExist(err) {
			// Explicit path that doesn't exist yet: same as not found.
		} else {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.ProjectPath = projectDir
	if cfg.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid timeout %q: %w", cfg.TimeoutRaw, err)
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setViperDefaults seeds viper's own default layer from a Config value so
// a key absent from both the file and the environment still resolves
// through viper's precedence chain instead of being silently zero.
func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_dir", cfg.LogDir)
	v.SetDefault("timeout", cfg.TimeoutRaw)
	v.SetDefault("console.enable_color", cfg.Console.EnableColor)
	v.SetDefault("console.enable_progress_bar", cfg.Console.EnableProgressBar)
	v.SetDefault("console.compact_mode", cfg.Console.CompactMode)
	v.SetDefault("console.show_agent_names", cfg.Console.ShowAgentNames)
	v.SetDefault("agent_pool.coder", cfg.AgentPool.Coder)
	v.SetDefault("agent_pool.tester", cfg.AgentPool.Tester)
	v.SetDefault("agent_pool.reviewer", cfg.AgentPool.Reviewer)
	v.SetDefault("agent_pool.merger", cfg.AgentPool.Merger)
	v.SetDefault("default_model.model", cfg.DefaultModel.Model)
	v.SetDefault("default_model.max_tokens", cfg.DefaultModel.MaxTokens)
	v.SetDefault("default_model.temperature", cfg.DefaultModel.Temperature)
	v.SetDefault("qa_loop.max_iterations", cfg.QALoop.MaxIterations)
	v.SetDefault("qa_loop.skip_qa", cfg.QALoop.SkipQA)
	v.SetDefault("git.base_branch", cfg.Git.BaseBranch)
	v.SetDefault("git.has_remote", cfg.Git.HasRemote)
	v.SetDefault("git.remote", cfg.Git.Remote)
	v.SetDefault("store.db_path", cfg.Store.DBPath)
	v.SetDefault("http.enabled", cfg.HTTP.Enabled)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.trace_stdout", cfg.Metrics.TraceStdout)
}

// loadDotEnv loads <projectDir>/.env then the current directory's .env,
// each only if not already loaded via an earlier call, matching
// kadirpekel-hector's "never overwrite an already-set variable" contract.
func loadDotEnv(projectDir string) error {
	candidates := []string{filepath.Join(projectDir, ".env"), ".env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}
	return nil
}

// Validate enforces the invariants a misconfigured Nexus must fail fast
// on, per spec.md §7's "Configuration" error kind.
func (c *Config) Validate() error {
	if c.AgentPool.Coder < 1 {
		return fmt.Errorf("config: agent_pool.coder must be at least 1")
	}
	if c.QALoop.MaxIterations < 1 {
		return fmt.Errorf("config: qa_loop.max_iterations must be at least 1")
	}
	if c.Git.BaseBranch == "" {
		return fmt.Errorf("config: git.base_branch is required")
	}
	return nil
}
