package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
imap:
  host: mail.example.org
  username: scans@example.org
  security: tls
  port: 993
credential:
  source: keyring
pipeline:
  local_store: /srv/scans
  poll_interval_sec: 30
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mail.example.org:993", cfg.IMAP.Addr())
	assert.Equal(t, SecurityTLS, cfg.IMAP.Security)
	assert.Equal(t, CredentialKeyring, cfg.Credential.Source)
	assert.Equal(t, "imap", cfg.Credential.KeyringKey)
	assert.Equal(t, "INBOX", cfg.Pipeline.Mailbox)
	assert.Equal(t, "CANON", cfg.Pipeline.Marker)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.PollInterval())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SCANRELAY_IMAP_HOST", "env.example.org")
	t.Setenv("SCANRELAY_PIPELINE_POLL_INTERVAL_SEC", "45")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env.example.org", cfg.IMAP.Host)
	assert.Equal(t, 45, cfg.Pipeline.PollIntervalSec)
}

func TestLoadConfigRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("imap: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	want := DefaultConfig()
	want.IMAP.Host = "mail.example.org"
	want.IMAP.Username = "scans"
	want.Pipeline.LocalStore = "/srv/scans"
	want.Journal.Path = "/srv/scans/journal.db"

	require.NoError(t, SaveConfig(path, want))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg := DefaultConfig()
		cfg.IMAP.Host = "mail.example.org"
		cfg.IMAP.Username = "scans"
		cfg.Pipeline.LocalStore = "/srv/scans"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no host", func(c *AppConfig) { c.IMAP.Host = "" }},
		{"bad port", func(c *AppConfig) { c.IMAP.Port = 0 }},
		{"no username", func(c *AppConfig) { c.IMAP.Username = "" }},
		{"no mailbox", func(c *AppConfig) { c.Pipeline.Mailbox = "" }},
		{"no local store", func(c *AppConfig) { c.Pipeline.LocalStore = "" }},
		{"zero interval", func(c *AppConfig) { c.Pipeline.PollIntervalSec = 0 }},
		{"bad security", func(c *AppConfig) { c.IMAP.Security = "ssl" }},
		{"bad credential source", func(c *AppConfig) { c.Credential.Source = "ldap" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "scans"), expandHome("~/scans"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "", expandHome(""))
}
