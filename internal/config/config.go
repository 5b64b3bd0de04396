// Package config holds all flightlens configuration.
// Configuration is loaded from an optional YAML file and then overridden by
// environment variables, which are the primary interface in deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all flightlens configuration.
type Config struct {
	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Session management
	Session SessionConfig `yaml:"session"`

	// Documentation index
	Docs DocsConfig `yaml:"docs"`

	// Agent controller budgets
	Agent AgentConfig `yaml:"agent"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LLMConfig configures the chat/parser/embedding models.
type LLMConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	ChatModel   string `yaml:"chat_model"`
	ParserModel string `yaml:"parser_model"` // Weaker/cheaper model for classifiers
	EmbedModel  string `yaml:"embed_model"`
	Timeout     string `yaml:"timeout"` // Per-call timeout
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	TTLSeconds    int `yaml:"ttl_seconds"`
	HistoryWindow int `yaml:"history_window"`
}

// DocsConfig configures the documentation index.
type DocsConfig struct {
	SourceURLs  []string `yaml:"source_urls"`
	CacheDir    string   `yaml:"cache_dir"`
	MaxCacheAge string   `yaml:"max_cache_age"` // Re-embed after this age even on hash match
	ChunkBudget int      `yaml:"chunk_budget"`  // Character budget per chunk
	TopK        int      `yaml:"top_k"`
}

// AgentConfig configures the per-turn state machine budgets.
type AgentConfig struct {
	MaxToolHops       int    `yaml:"max_tool_hops"`      // H
	QueryCorrections  int    `yaml:"query_corrections"`  // Kq
	AnswerCorrections int    `yaml:"answer_corrections"` // Ka
	TurnDeadline      string `yaml:"turn_deadline"`      // Overall per-turn deadline
}

// LoggingConfig configures the zap backend.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8001,
			ReadTimeout:     "30s",
			ShutdownTimeout: "10s",
		},
		LLM: LLMConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			ChatModel:   "gemini-2.5-flash",
			ParserModel: "gemini-2.5-flash-lite",
			EmbedModel:  "gemini-embedding-001",
			Timeout:     "90s",
		},
		Session: SessionConfig{
			TTLSeconds:    86400,
			HistoryWindow: 20,
		},
		Docs: DocsConfig{
			SourceURLs: []string{
				"https://ardupilot.org/plane/docs/logmessages.html",
			},
			CacheDir:    ".flightlens-cache",
			MaxCacheAge: "720h", // 30 days
			ChunkBudget: 1000,
			TopK:        3,
		},
		Agent: AgentConfig{
			MaxToolHops:       4,
			QueryCorrections:  1,
			AnswerCorrections: 2,
			TurnDeadline:      "5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given YAML path (optional) and applies
// environment overrides. A missing file is not an error; env-only deployments
// are the common case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_CHAT_MODEL"); v != "" {
		c.LLM.ChatModel = v
	}
	if v := os.Getenv("LLM_PARSER_MODEL"); v != "" {
		c.LLM.ParserModel = v
	}
	if v := os.Getenv("LLM_EMBED_MODEL"); v != "" {
		c.LLM.EmbedModel = v
	}
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil && ttl > 0 {
			c.Session.TTLSeconds = ttl
		}
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		c.Docs.CacheDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("invalid session TTL: %d", c.Session.TTLSeconds)
	}
	if c.Agent.MaxToolHops <= 0 {
		return fmt.Errorf("invalid max tool hops: %d", c.Agent.MaxToolHops)
	}
	if c.Agent.AnswerCorrections < 2 || c.Agent.AnswerCorrections > 3 {
		return fmt.Errorf("answer corrections must be 2 or 3, got %d", c.Agent.AnswerCorrections)
	}
	return nil
}

// SessionTTL returns the session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// LLMTimeout returns the per-call LLM timeout, defaulting to 90s.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 90*time.Second)
}

// TurnDeadline returns the overall per-turn deadline, defaulting to 5m.
func (c *Config) TurnDeadline() time.Duration {
	return parseDuration(c.Agent.TurnDeadline, 5*time.Minute)
}

// MaxCacheAge returns the doc cache max age, defaulting to 30 days.
func (c *Config) MaxCacheAge() time.Duration {
	return parseDuration(c.Docs.MaxCacheAge, 30*24*time.Hour)
}

// ShutdownTimeout returns the graceful shutdown window, defaulting to 10s.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
