package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Market   MarketConfig   `mapstructure:"market"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DiscordConfig holds Discord webhook configuration.
// An empty WebhookURL means console-only delivery.
type DiscordConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	MentionID  string        `mapstructure:"mention_id"`
	Username   string        `mapstructure:"username"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// LLMConfig holds language model provider configuration
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig holds market-data and news endpoint configuration
type MarketConfig struct {
	ChartAPIURL    string        `mapstructure:"chart_api_url"`
	SearchAPIURL   string        `mapstructure:"search_api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestSpacing time.Duration `mapstructure:"request_spacing"`
	NewsLimit      int           `mapstructure:"news_limit"`
}

// RulesConfig holds defaults applied to parsed watch rules
type RulesConfig struct {
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	DefaultLanguage  string  `mapstructure:"default_language"`
	DefaultTimezone  string  `mapstructure:"default_timezone"`
}

// PromptsConfig points at an optional directory of prompt overrides
type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig holds run journal configuration
type StorageConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DBPath     string `mapstructure:"db_path"`
	MaxRecords int    `mapstructure:"max_records"`
}

// MetricsConfig holds Prometheus Pushgateway configuration
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file and environment variables.
// A missing file is not an error: defaults apply and delivery is console-only.
func Load(path string) (*Config, error) {
	// Secrets may live in a local .env file
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("STOCKAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "STOCKAGENT_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind llm api key: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Discord defaults
	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.mention_id", "")
	v.SetDefault("discord.username", "stock agent bot")
	v.SetDefault("discord.timeout", "10s")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)

	// LLM defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", "60s")

	// Market defaults
	v.SetDefault("market.chart_api_url", "https://query1.finance.yahoo.com/v8/finance/chart")
	v.SetDefault("market.search_api_url", "https://query1.finance.yahoo.com/v1/finance/search")
	v.SetDefault("market.timeout", "15s")
	v.SetDefault("market.max_retries", 1) // single attempt
	v.SetDefault("market.request_spacing", "300ms")
	v.SetDefault("market.news_limit", 5)

	// Rule defaults
	v.SetDefault("rules.default_threshold", 5.0)
	v.SetDefault("rules.default_language", "zh")
	v.SetDefault("rules.default_timezone", "America/Toronto")

	v.SetDefault("prompts.dir", "")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", "./data/stockagent.db")
	v.SetDefault("storage.max_records", 10000)

	// Metrics defaults
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "stockagent")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Discord config
	if c.Discord.WebhookURL != "" && !strings.HasPrefix(c.Discord.WebhookURL, "http") {
		return fmt.Errorf("discord.webhook_url must be an http(s) URL")
	}
	if c.Discord.Timeout <= 0 {
		return fmt.Errorf("discord.timeout must be positive")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Market config
	if c.Market.ChartAPIURL == "" {
		return fmt.Errorf("market.chart_api_url is required")
	}
	if c.Market.SearchAPIURL == "" {
		return fmt.Errorf("market.search_api_url is required")
	}
	if c.Market.MaxRetries < 1 {
		return fmt.Errorf("market.max_retries must be at least 1")
	}
	if c.Market.RequestSpacing < 0 {
		return fmt.Errorf("market.request_spacing must not be negative")
	}
	if c.Market.NewsLimit < 1 || c.Market.NewsLimit > 50 {
		return fmt.Errorf("market.news_limit must be between 1 and 50")
	}

	// Validate Rules config
	if c.Rules.DefaultThreshold <= 0 || c.Rules.DefaultThreshold > 50 {
		return fmt.Errorf("rules.default_threshold must be in (0, 50]")
	}
	validLanguages := map[string]bool{"en": true, "zh": true, "jp": true}
	if !validLanguages[c.Rules.DefaultLanguage] {
		return fmt.Errorf("rules.default_language must be one of: en, zh, jp")
	}
	if _, err := time.LoadLocation(c.Rules.DefaultTimezone); err != nil {
		return fmt.Errorf("rules.default_timezone is invalid: %w", err)
	}

	// Validate Storage config
	if c.Storage.Enabled {
		if c.Storage.MaxRecords < 1 {
			return fmt.Errorf("storage.max_records must be at least 1")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ValidateLLM checks the language model settings. Only runs that parse or
// write briefs need them; reading the journal does not.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set OPENAI_API_KEY)")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	return nil
}

// DiscordEnabled reports whether a webhook is configured.
func (c *Config) DiscordEnabled() bool {
	return c.Discord.WebhookURL != ""
}
