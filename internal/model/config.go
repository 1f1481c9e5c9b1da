package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig holds the connection settings for one remote mailbox.
type IMAPConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the IMAP server port (usually 993 for TLS).
	Port string `mapstructure:"port" yaml:"port"`

	// Username and Password authenticate the mailbox session.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// TLS enables an implicit-TLS connection. When false the client
	// dials plaintext and upgrades via STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// InsecureSkipVerify disables TLS certificate verification.
	// Intended for test servers only.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// DialTimeoutSec bounds connect plus greeting. Zero means the
	// default of 30 seconds.
	DialTimeoutSec int `mapstructure:"dial_timeout_sec" yaml:"dial_timeout_sec"`
}

// DialTimeout returns the configured dial timeout as a duration.
func (c IMAPConfig) DialTimeout() time.Duration {
	if c.DialTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// Address returns the host:port dial address.
func (c IMAPConfig) Address() string {
	return c.Host + ":" + c.Port
}

// TenantConfig identifies one tenant mailbox and how to reach it.
// Tenant identity and credentials are always passed explicitly; the
// core keeps no ambient per-tenant state.
type TenantConfig struct {
	// TenantID is the unique identifier scoping all stored messages.
	TenantID string `mapstructure:"tenant_id" yaml:"tenant_id"`

	// Mailbox is the mailbox to synchronize (e.g. "INBOX").
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// Enabled controls whether this tenant is included in periodic runs.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to run a sync.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// IMAP holds the mailbox connection settings.
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// DatabasePath is the SQLite database location.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// LogLevel is a logrus level name ("debug", "info", ...).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Tenants lists the mailboxes to synchronize.
	Tenants []TenantConfig `mapstructure:"tenants" yaml:"tenants"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// DefaultDatabasePath returns the default SQLite database path,
// located at ~/.local/share/mailsync/mailsync.db.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailsync.db")
	}
	return filepath.Join(home, ".local", "share", "mailsync", "mailsync.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DatabasePath: DefaultDatabasePath(),
		LogLevel:     "info",
		Tenants:      []TenantConfig{},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database_path", DefaultDatabasePath())
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each tenant entry.
	for i := range cfg.Tenants {
		if cfg.Tenants[i].Mailbox == "" {
			cfg.Tenants[i].Mailbox = "INBOX"
		}
		if cfg.Tenants[i].PollIntervalSec == 0 {
			cfg.Tenants[i].PollIntervalSec = 120
		}
		if !cfg.Tenants[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("tenants.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Tenants[i].Enabled = true
			}
		}
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

	v.Set("database_path", cfg.DatabasePath)
	v.Set("log_level", cfg.LogLevel)
	v.Set("tenants", cfg.Tenants)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}
