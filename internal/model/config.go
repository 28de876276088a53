package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nhle/mail-agent/internal/credential"
)

// ConfigError indicates malformed or missing required settings. It is
// fatal: the process must not start with a broken configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}

// MailConfig holds the IMAP and SMTP connection settings for the
// monitored mailbox.
type MailConfig struct {
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// TLS selects implicit TLS; when false the clients use STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// ArchiveFolder is the mailbox messages are moved to on archive.
	// When empty, common archive folder names are tried in order.
	ArchiveFolder string `mapstructure:"archive_folder" yaml:"archive_folder"`
}

// AIConfig holds the classifier provider selection and model settings.
type AIConfig struct {
	// Provider selects the hosted model API: "anthropic" or "openai".
	Provider string `mapstructure:"provider" yaml:"provider"`

	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	// TimeoutSec bounds a single provider call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// AgentConfig holds the processing loop behavior settings.
type AgentConfig struct {
	// PollIntervalSec is the sleep between processing cycles.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// BatchSize caps the number of unread messages fetched per cycle.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// Concurrency bounds how many messages are classified in parallel.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// AutoReply enables AI-generated responses for messages the
	// classifier flags as requiring one.
	AutoReply bool `mapstructure:"auto_reply" yaml:"auto_reply"`

	// ExclusiveRules switches rule evaluation to first-match-wins.
	// By default every matching rule contributes its actions.
	ExclusiveRules bool `mapstructure:"exclusive_rules" yaml:"exclusive_rules"`

	// BackoffSec is the initial delay after a transport failure; it
	// doubles per consecutive failure up to MaxBackoffSec.
	BackoffSec    int `mapstructure:"backoff_sec" yaml:"backoff_sec"`
	MaxBackoffSec int `mapstructure:"max_backoff_sec" yaml:"max_backoff_sec"`

	// ProcessedRetentionHours bounds the processed-message set: entries
	// older than this are pruned each cycle.
	ProcessedRetentionHours int `mapstructure:"processed_retention_hours" yaml:"processed_retention_hours"`

	// DBPath locates the sqlite database holding processed-message
	// state and the action audit log.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// NotifyConfig maps notification channel names to webhook URLs.
// The "log" channel is always available and needs no entry here.
type NotifyConfig struct {
	Webhooks map[string]string `mapstructure:"webhooks" yaml:"webhooks"`
}

// LoggingConfig holds the log output settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	File        string `mapstructure:"file" yaml:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail      MailConfig        `mapstructure:"mail" yaml:"mail"`
	AI        AIConfig          `mapstructure:"ai" yaml:"ai"`
	Agent     AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Rules     []Rule            `mapstructure:"rules" yaml:"rules"`
	Notify    NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	Templates map[string]string `mapstructure:"templates" yaml:"templates"`
	Logging   LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/mail-agent/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mail-agent", "config.yaml")
}

// DefaultDBPath returns the default sqlite database path next to the
// default configuration file.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "agent.db")
	}
	return filepath.Join(home, ".config", "mail-agent", "agent.db")
}

// LoadConfig reads configuration from the given YAML file path using
// Viper, resolves ${ENV_VAR} placeholders, and validates the result.
// A missing or malformed file is a ConfigError.
func LoadConfig(path string) (*AppConfig, error) {
	// Optional .env in the working directory; real environment
	// variables take precedence over it.
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("mail.imap_port", "993")
	v.SetDefault("mail.smtp_port", "587")
	v.SetDefault("mail.tls", true)
	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.timeout_sec", 60)
	v.SetDefault("agent.poll_interval_sec", 300)
	v.SetDefault("agent.batch_size", 10)
	v.SetDefault("agent.concurrency", 3)
	v.SetDefault("agent.backoff_sec", 10)
	v.SetDefault("agent.max_backoff_sec", 600)
	v.SetDefault("agent.processed_retention_hours", 720)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("reading %s: %v", path, err),
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("parsing %s: %v", path, err),
		}
	}

	if cfg.Agent.DBPath == "" {
		cfg.Agent.DBPath = DefaultDBPath()
	}

	if err := cfg.resolvePlaceholders(); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("resolving secrets: %v", err),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePlaceholders expands ${ENV_VAR} and keyring: references in
// the fields that carry secrets or deployment-specific values.
func (c *AppConfig) resolvePlaceholders() error {
	var err error
	if c.Mail.Username, err = credential.Resolve(c.Mail.Username); err != nil {
		return err
	}
	if c.Mail.Password, err = credential.Resolve(c.Mail.Password); err != nil {
		return err
	}
	if c.AI.APIKey, err = credential.Resolve(c.AI.APIKey); err != nil {
		return err
	}
	for name, url := range c.Notify.Webhooks {
		c.Notify.Webhooks[name] = ExpandEnv(url)
	}
	return nil
}

// ExpandEnv resolves a "${NAME}" placeholder to the value of the NAME
// environment variable. Any other string is returned unchanged, so
// literal values pass through.
func ExpandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Validate checks required settings and rule well-formedness. Any
// failure is a ConfigError.
func (c *AppConfig) Validate() error {
	if c.Mail.IMAPHost == "" {
		return &ConfigError{Message: "mail.imap_host is required"}
	}
	if c.Mail.SMTPHost == "" {
		return &ConfigError{Message: "mail.smtp_host is required"}
	}
	if c.Mail.Username == "" {
		return &ConfigError{Message: "mail.username is required"}
	}
	if c.Mail.Password == "" {
		return &ConfigError{Message: "mail.password is required"}
	}

	switch c.AI.Provider {
	case "anthropic", "openai":
	default:
		return &ConfigError{
			Message: fmt.Sprintf("unsupported ai.provider %q", c.AI.Provider),
		}
	}
	if c.AI.APIKey == "" {
		return &ConfigError{Message: "ai.api_key is required"}
	}

	if c.Agent.BatchSize < 1 {
		return &ConfigError{Message: "agent.batch_size must be positive"}
	}
	if c.Agent.PollIntervalSec < 1 {
		return &ConfigError{Message: "agent.poll_interval_sec must be positive"}
	}
	if c.Agent.Concurrency < 1 {
		return &ConfigError{Message: "agent.concurrency must be positive"}
	}

	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return &ConfigError{Message: err.Error()}
		}
	}

	return nil
}
