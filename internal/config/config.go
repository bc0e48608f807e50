// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// QueueConfig configures the AMQP job queue and the job-updates channel.
type QueueConfig struct {
	URL            string `mapstructure:"url"`
	JobQueue       string `mapstructure:"job_queue"`
	UpdateExchange string `mapstructure:"update_exchange"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffBaseSec int    `mapstructure:"backoff_base_seconds"`
}

// WorkerConfig governs the worker pool.
type WorkerConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	LockDurationSec int `mapstructure:"lock_duration_seconds"`
}

// ArchiveConfig configures mirror snapshot resolution.
type ArchiveConfig struct {
	Mirrors         []string `mapstructure:"mirrors"`
	ProbeDelayMs    int      `mapstructure:"probe_delay_ms"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	ProactiveHosts  []string `mapstructure:"proactive_hosts"`
	ImageHostSuffix string   `mapstructure:"image_host_suffix"`
}

// ExtractConfig configures the content extraction services.
type ExtractConfig struct {
	FirecrawlURL    string `mapstructure:"firecrawl_url"`
	FirecrawlAPIKey string `mapstructure:"firecrawl_api_key"`
	MirrorEnabled   bool   `mapstructure:"mirror_enabled"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// LLMConfig selects and credentials the analysis providers.
type LLMConfig struct {
	PreferGemini    bool   `mapstructure:"prefer_gemini"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`
	GoogleAPIKey    string `mapstructure:"google_api_key"`
	GeminiModel     string `mapstructure:"gemini_model"`
	MaxInputChars   int    `mapstructure:"max_input_chars"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RealtimeConfig configures the websocket fan-out.
type RealtimeConfig struct {
	WriteTimeoutSec int `mapstructure:"write_timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("queue.url", "")
	v.SetDefault("queue.job_queue", "analysis-jobs")
	v.SetDefault("queue.update_exchange", "job-updates")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_seconds", 5)
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.lock_duration_seconds", 120)
	v.SetDefault("archive.mirrors", []string{"archive.ph", "archive.today", "archive.is"})
	v.SetDefault("archive.probe_delay_ms", 500)
	v.SetDefault("archive.timeout_seconds", 10)
	v.SetDefault("archive.image_host_suffix", "archive.ph")
	v.SetDefault("archive.proactive_hosts", []string{})
	v.SetDefault("extract.firecrawl_url", "")
	v.SetDefault("extract.firecrawl_api_key", "")
	v.SetDefault("extract.mirror_enabled", true)
	v.SetDefault("extract.user_agent", "newslens-bot/0.1")
	v.SetDefault("extract.timeout_seconds", 30)
	v.SetDefault("llm.prefer_gemini", false)
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.google_api_key", "")
	v.SetDefault("llm.gemini_model", "gemini-2.0-flash")
	v.SetDefault("llm.max_input_chars", 24000)
	v.SetDefault("llm.timeout_seconds", 90)
	v.SetDefault("logging.development", true)
	v.SetDefault("realtime.write_timeout_seconds", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if len(c.Archive.Mirrors) == 0 {
		return fmt.Errorf("archive.mirrors must not be empty")
	}
	if c.LLM.MaxInputChars <= 0 {
		return fmt.Errorf("llm.max_input_chars must be > 0")
	}
	return nil
}

// QueueBackoff returns the exponential backoff base delay.
func (c Config) QueueBackoff() time.Duration {
	return time.Duration(c.Queue.BackoffBaseSec) * time.Second
}

// LockDuration returns the job lease the worker must stay within.
func (c Config) LockDuration() time.Duration {
	return time.Duration(c.Worker.LockDurationSec) * time.Second
}
