package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credential source kinds.
const (
	CredentialPlain   = "plain"
	CredentialPass    = "pass"
	CredentialKeyring = "keyring"
)

// IMAP connection security modes.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityInsecure = "insecure"
)

// EnvPrefix prefixes environment variables that override config keys,
// e.g. SCANRELAY_IMAP_HOST for imap.host.
const EnvPrefix = "SCANRELAY"

// IMAPConfig holds the server connection settings.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Security is one of "tls", "starttls" or "insecure".
	Security string `mapstructure:"security" yaml:"security"`
}

// Addr returns host:port.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CredentialConfig selects where the IMAP password comes from.
type CredentialConfig struct {
	// Source is one of "plain", "pass" or "keyring".
	Source string `mapstructure:"source" yaml:"source"`

	Password    string `mapstructure:"password" yaml:"password,omitempty"`
	PassEntry   string `mapstructure:"pass_entry" yaml:"pass_entry,omitempty"`
	PassCommand string `mapstructure:"pass_command" yaml:"pass_command,omitempty"`
	KeyringKey  string `mapstructure:"keyring_key" yaml:"keyring_key,omitempty"`
}

// PipelineConfig holds the polling settings. It does not change for the
// lifetime of the process.
type PipelineConfig struct {
	// Mailbox is matched case-insensitively against the server's mailboxes.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// LocalStore is the directory attachments are written to.
	LocalStore string `mapstructure:"local_store" yaml:"local_store"`

	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// Marker must appear in an attachment title for it to be downloaded.
	Marker string `mapstructure:"marker" yaml:"marker"`
}

// PollInterval returns the poll interval as a duration.
func (c PipelineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// JournalConfig locates the download journal. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	Credential CredentialConfig `mapstructure:"credential" yaml:"credential"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/scanrelay/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "scanrelay", "config.yaml")
}

// DefaultConfig returns the configuration used for keys the file omits.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		IMAP: IMAPConfig{
			Port:     143,
			Security: SecurityStartTLS,
		},
		Credential: CredentialConfig{
			Source:     CredentialPass,
			KeyringKey: "imap",
		},
		Pipeline: PipelineConfig{
			Mailbox:         "INBOX",
			PollIntervalSec: 10,
			Marker:          "CANON",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", d.IMAP.Port)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.security", d.IMAP.Security)
	v.SetDefault("credential.source", d.Credential.Source)
	v.SetDefault("credential.password", "")
	v.SetDefault("credential.pass_entry", "")
	v.SetDefault("credential.pass_command", "")
	v.SetDefault("credential.keyring_key", d.Credential.KeyringKey)
	v.SetDefault("pipeline.mailbox", d.Pipeline.Mailbox)
	v.SetDefault("pipeline.local_store", "")
	v.SetDefault("pipeline.poll_interval_sec", d.Pipeline.PollIntervalSec)
	v.SetDefault("pipeline.marker", d.Pipeline.Marker)
	v.SetDefault("journal.path", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with SCANRELAY_ override file values. A
// missing file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Pipeline.LocalStore = expandHome(cfg.Pipeline.LocalStore)
	cfg.Journal.Path = expandHome(cfg.Journal.Path)

	return cfg, nil
}

// Validate reports the first setting that prevents the pipeline from
// running.
func (c *AppConfig) Validate() error {
	switch {
	case c.IMAP.Host == "":
		return errors.New("imap.host is required")
	case c.IMAP.Port <= 0:
		return fmt.Errorf("imap.port %d is invalid", c.IMAP.Port)
	case c.IMAP.Username == "":
		return errors.New("imap.username is required")
	case c.Pipeline.Mailbox == "":
		return errors.New("pipeline.mailbox is required")
	case c.Pipeline.LocalStore == "":
		return errors.New("pipeline.local_store is required")
	case c.Pipeline.PollIntervalSec <= 0:
		return fmt.Errorf(
			"pipeline.poll_interval_sec must be positive, got %d",
			c.Pipeline.PollIntervalSec,
		)
	}

	switch c.IMAP.Security {
	case SecurityTLS, SecurityStartTLS, SecurityInsecure:
	default:
		return fmt.Errorf("imap.security %q is not one of tls, starttls, insecure", c.IMAP.Security)
	}

	switch c.Credential.Source {
	case CredentialPlain, CredentialPass, CredentialKeyring:
	default:
		return fmt.Errorf("credential.source %q is not one of plain, pass, keyring", c.Credential.Source)
	}

	return nil
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

	v.Set("imap", cfg.IMAP)
	v.Set("credential", cfg.Credential)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("journal", cfg.Journal)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
