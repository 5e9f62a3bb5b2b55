package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration. Values come from the config
// file, environment (EVERSALE_ prefix), and CLI flags, in ascending
// precedence.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Selector SelectorConfig `mapstructure:"selector"`
}

// LoggerConfig controls the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"` // megabytes before rotation
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
	AddSource   bool   `mapstructure:"add_source"`
}

// DatabaseConfig configures the optional job-result archive.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LLMConfig selects and authenticates the language-model provider.
// ProviderGemini is the only LLM provider currently wired into the factory.
const ProviderGemini = "gemini"

type LLMConfig struct {
	Provider      string            `mapstructure:"provider"`
	APIKey        string            `mapstructure:"api_key"`
	Endpoint      string            `mapstructure:"endpoint"`
	FastModel     string            `mapstructure:"fast_model"`
	PowerfulModel string            `mapstructure:"powerful_model"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	MaxRetries    uint64            `mapstructure:"max_retries"`
	SafetyFilters map[string]string `mapstructure:"safety_filters"`
}

// AgentConfig groups the reasoning-side settings.
type AgentConfig struct {
	LLM LLMConfig `mapstructure:"llm"`
}

// MCPConfig describes how to spawn the MCP browser tool server when the
// "mcp" backend is selected.
type MCPConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// BrowserConfig selects and tunes the browser backend.
type BrowserConfig struct {
	Backend           string        `mapstructure:"backend"` // "cdp" or "mcp"
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	MCP               MCPConfig     `mapstructure:"mcp"`
}

// EngineConfig tunes the job engine and worker loop.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	MaxSteps          int           `mapstructure:"max_steps"`
	MaxRetriesPerStep int           `mapstructure:"max_retries_per_step"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	// HistoryWindow is how many recent steps the planner sees verbatim;
	// older steps are summarized as a count.
	HistoryWindow int `mapstructure:"history_window"`
}

// ResolverConfig tunes the challenge resolver's layers. The durations carry
// the documented defaults; tests shrink them.
type ResolverConfig struct {
	MaxResolveTime         time.Duration   `mapstructure:"max_resolve_time"`
	HumanTimeout           time.Duration   `mapstructure:"human_timeout"`
	EscalationPollInterval time.Duration   `mapstructure:"escalation_poll_interval"`
	SwarmTimeout           time.Duration   `mapstructure:"swarm_timeout"`
	SwarmLimit             int             `mapstructure:"swarm_limit"`
	CloudflarePollInterval time.Duration   `mapstructure:"cloudflare_poll_interval"`
	CloudflarePollBudget   time.Duration   `mapstructure:"cloudflare_poll_budget"`
	RateLimitBackoff       []time.Duration `mapstructure:"rate_limit_backoff"`
	WisdomDir              string          `mapstructure:"wisdom_dir"`
	ProbeTimeout           time.Duration   `mapstructure:"probe_timeout"`
	ProbesPerSecond        float64         `mapstructure:"probes_per_second"`
}

// SelectorConfig tunes the self-healing selector cache.
type SelectorConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
}

// SetDefaults registers every default on the given viper instance. Call
// before ReadInConfig so file/env values override.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "eversale")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("database.enabled", false)

	v.SetDefault("agent.llm.provider", "gemini")
	v.SetDefault("agent.llm.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("agent.llm.fast_model", "gemini-2.0-flash")
	v.SetDefault("agent.llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.timeout", 45*time.Second)
	v.SetDefault("agent.llm.max_retries", 3)

	v.SetDefault("browser.backend", "cdp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.action_timeout", 10*time.Second)

	v.SetDefault("engine.worker_concurrency", 1)
	v.SetDefault("engine.max_steps", 30)
	v.SetDefault("engine.max_retries_per_step", 3)
	v.SetDefault("engine.job_timeout", 15*time.Minute)
	v.SetDefault("engine.history_window", 3)

	v.SetDefault("resolver.max_resolve_time", 120*time.Second)
	v.SetDefault("resolver.human_timeout", 120*time.Second)
	v.SetDefault("resolver.escalation_poll_interval", 10*time.Second)
	v.SetDefault("resolver.swarm_timeout", 30*time.Second)
	v.SetDefault("resolver.swarm_limit", 4)
	v.SetDefault("resolver.cloudflare_poll_interval", 2*time.Second)
	v.SetDefault("resolver.cloudflare_poll_budget", 20*time.Second)
	v.SetDefault("resolver.rate_limit_backoff", []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second,
	})
	v.SetDefault("resolver.wisdom_dir", "~/.eversale/wisdom")
	v.SetDefault("resolver.probe_timeout", 15*time.Second)
	v.SetDefault("resolver.probes_per_second", 1.0)

	v.SetDefault("selector.cache_dir", "~/.eversale/selectors")
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	switch c.Browser.Backend {
	case "cdp":
	case "mcp":
		if strings.TrimSpace(c.Browser.MCP.Command) == "" {
			return fmt.Errorf("browser.mcp.command is required for the mcp backend")
		}
	default:
		return fmt.Errorf("unknown browser backend %q (supported: cdp, mcp)", c.Browser.Backend)
	}

	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps)
	}
	if c.Engine.MaxRetriesPerStep < 0 {
		return fmt.Errorf("engine.max_retries_per_step must not be negative, got %d", c.Engine.MaxRetriesPerStep)
	}
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be positive, got %d", c.Engine.WorkerConcurrency)
	}
	if c.Engine.HistoryWindow < 0 {
		return fmt.Errorf("engine.history_window must not be negative, got %d", c.Engine.HistoryWindow)
	}

	if c.Resolver.SwarmLimit <= 0 || c.Resolver.SwarmLimit > 4 {
		return fmt.Errorf("resolver.swarm_limit must be in [1,4], got %d", c.Resolver.SwarmLimit)
	}
	if c.Resolver.MaxResolveTime <= 0 {
		return fmt.Errorf("resolver.max_resolve_time must be positive")
	}

	if c.Database.Enabled && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required when database.enabled is true")
	}
	return nil
}

// NewDefaultConfig returns a Config populated with every default. Mostly a
// test convenience.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Decoding defaults cannot fail; the panic guards programming errors in
	// SetDefaults.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return &cfg
}
