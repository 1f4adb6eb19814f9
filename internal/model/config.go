package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailboxConfig holds the IMAP settings for the shared assistant
// mailbox.
type MailboxConfig struct {
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	SearchWindowHrs int    `mapstructure:"search_window_hrs" yaml:"search_window_hrs"`
}

// SMTPConfig holds the outbound mail submission settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	From     string `mapstructure:"from" yaml:"from"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// AIConfig selects and tunes the LLM provider backend.
type AIConfig struct {
	// Provider is "anthropic" or "openai". The backend is chosen once
	// at startup.
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	// BaseURL overrides the provider endpoint, mainly for tests and
	// proxies.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// SchedulerConfig bounds concurrency and time spent on provider calls.
type SchedulerConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	GenTimeoutSec    int `mapstructure:"gen_timeout_sec" yaml:"gen_timeout_sec"`
	ActionTimeoutSec int `mapstructure:"action_timeout_sec" yaml:"action_timeout_sec"`
	MaxRetries       int `mapstructure:"max_retries" yaml:"max_retries"`
}

// ContextConfig tunes the per-user context log.
type ContextConfig struct {
	FilePath          string `mapstructure:"file_path" yaml:"file_path"`
	CompressThreshold int    `mapstructure:"compress_threshold" yaml:"compress_threshold"`
	KeepRecentEntries int    `mapstructure:"keep_recent_entries" yaml:"keep_recent_entries"`
	FlushDebounceMsec int    `mapstructure:"flush_debounce_msec" yaml:"flush_debounce_msec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// AdminEmail is the bootstrap administrator and the default
	// recipient for replies with no explicit destination.
	AdminEmail string          `mapstructure:"admin_email" yaml:"admin_email"`
	DBPath     string          `mapstructure:"db_path" yaml:"db_path"`
	Mailbox    MailboxConfig   `mapstructure:"mailbox" yaml:"mailbox"`
	SMTP       SMTPConfig      `mapstructure:"smtp" yaml:"smtp"`
	AI         AIConfig        `mapstructure:"ai" yaml:"ai"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Context    ContextConfig   `mapstructure:"context" yaml:"context"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/email-assistant/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "email-assistant", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "email-assistant")
	return &AppConfig{
		DBPath: filepath.Join(dataDir, "directory.db"),
		Mailbox: MailboxConfig{
			Port:            "993",
			TLS:             true,
			PollIntervalSec: 60,
			SearchWindowHrs: 24,
		},
		SMTP: SMTPConfig{
			Port: "465",
			TLS:  true,
		},
		AI: AIConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:    2,
			GenTimeoutSec:    60,
			ActionTimeoutSec: 180,
			MaxRetries:       2,
		},
		Context: ContextConfig{
			FilePath:          filepath.Join(dataDir, "context.json"),
			CompressThreshold: 20000,
			KeepRecentEntries: 10,
			FlushDebounceMsec: 3000,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := defaultAppConfig()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("mailbox.port", def.Mailbox.Port)
	v.SetDefault("mailbox.tls", def.Mailbox.TLS)
	v.SetDefault("mailbox.poll_interval_sec", def.Mailbox.PollIntervalSec)
	v.SetDefault("mailbox.search_window_hrs", def.Mailbox.SearchWindowHrs)
	v.SetDefault("smtp.port", def.SMTP.Port)
	v.SetDefault("smtp.tls", def.SMTP.TLS)
	v.SetDefault("ai.provider", def.AI.Provider)
	v.SetDefault("ai.model", def.AI.Model)
	v.SetDefault("ai.max_tokens", def.AI.MaxTokens)
	v.SetDefault("scheduler.max_concurrent", def.Scheduler.MaxConcurrent)
	v.SetDefault("scheduler.gen_timeout_sec", def.Scheduler.GenTimeoutSec)
	v.SetDefault("scheduler.action_timeout_sec", def.Scheduler.ActionTimeoutSec)
	v.SetDefault("scheduler.max_retries", def.Scheduler.MaxRetries)
	v.SetDefault("context.file_path", def.Context.FilePath)
	v.SetDefault("context.compress_threshold", def.Context.CompressThreshold)
	v.SetDefault("context.keep_recent_entries", def.Context.KeepRecentEntries)
	v.SetDefault("context.flush_debounce_msec", def.Context.FlushDebounceMsec)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := def
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("admin_email", cfg.AdminEmail)
	v.Set("db_path", cfg.DBPath)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("smtp", cfg.SMTP)
	v.Set("ai", cfg.AI)
	v.Set("scheduler", cfg.Scheduler)
	v.Set("context", cfg.Context)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
