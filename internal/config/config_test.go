package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  run_history: 10
auth:
  enabled: true
  api_key: secret
source:
  name: e621-safe
  base_url: https://e926.net
  tags: "rating:s"
  limit: 50
  timeout: 5s
delivery:
  backend: amqp
  timeout: 3s
  rate_per_sec: 2
amqp:
  url: amqp://localhost:5672
  target: posts
cursor:
  backend: postgres
db:
  dsn: postgres://relay@localhost/relay
  table: cursors
schedule:
  enabled: true
  interval: 30m
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 10, cfg.Server.RunHistory)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, "e621-safe", cfg.Source.Name)
	require.Equal(t, "rating:s", cfg.Source.Tags)
	require.Equal(t, 50, cfg.Source.Limit)
	require.Equal(t, 5*time.Second, cfg.Source.Timeout)
	require.Equal(t, int64(2_000_000_000), cfg.Source.StartAnchor)
	require.Equal(t, DeliveryAMQP, cfg.Delivery.Backend)
	require.Equal(t, 3*time.Second, cfg.Delivery.Timeout)
	require.InDelta(t, 2.0, cfg.Delivery.RatePerSec, 0.001)
	require.Equal(t, "posts", cfg.AMQP.Target)
	require.Equal(t, CursorPostgres, cfg.Cursor.Backend)
	require.Equal(t, "cursors", cfg.DB.Table)
	require.True(t, cfg.Schedule.Enabled)
	require.Equal(t, 30*time.Minute, cfg.Schedule.Interval)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTRELAY_DELIVERY_BACKEND", "log")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "e621", cfg.Source.Name)
	require.Equal(t, 10*time.Second, cfg.Source.Timeout)
	require.Equal(t, 15*time.Second, cfg.Delivery.Timeout)
	require.Equal(t, CursorSQLite, cfg.Cursor.Backend)
	require.Equal(t, time.Hour, cfg.Schedule.Interval)
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("TELOXIDE_TOKEN", "123:abc")
	t.Setenv("CHANNEL_ID", "@relay")
	t.Setenv("PORT", "9999")
	t.Setenv("POSTRELAY_SOURCE_TAGS", "wolf")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, "@relay", cfg.Telegram.ChannelID)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "wolf", cfg.Source.Tags)
}

func TestLoadPrefixedEnvWinsOverAlias(t *testing.T) {
	t.Setenv("POSTRELAY_DELIVERY_BACKEND", "log")
	t.Setenv("POSTRELAY_SERVER_PORT", "7000")
	t.Setenv("PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080, RunHistory: 100},
		Source: SourceConfig{
			Name:        "e621",
			BaseURL:     "https://e621.net",
			Limit:       20,
			StartAnchor: 2_000_000_000,
			Timeout:     10 * time.Second,
			UserAgent:   "postrelay/test",
		},
		Delivery: DeliveryConfig{Backend: DeliveryLog, Timeout: time.Second},
		Cursor:   CursorConfig{Backend: CursorMemory},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid history", mutate: func(c *Config) { c.Server.RunHistory = 0 }, want: "server.run_history"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "missing source name", mutate: func(c *Config) { c.Source.Name = "" }, want: "source.name"},
		{name: "missing base url", mutate: func(c *Config) { c.Source.BaseURL = "" }, want: "source.base_url is required"},
		{name: "relative base url", mutate: func(c *Config) { c.Source.BaseURL = "e621.net" }, want: "source.base_url must be"},
		{name: "invalid limit", mutate: func(c *Config) { c.Source.Limit = 0 }, want: "source.limit"},
		{name: "invalid anchor", mutate: func(c *Config) { c.Source.StartAnchor = 0 }, want: "source.start_anchor"},
		{name: "invalid fetch timeout", mutate: func(c *Config) { c.Source.Timeout = 0 }, want: "source.timeout"},
		{name: "missing user agent", mutate: func(c *Config) { c.Source.UserAgent = "" }, want: "source.user_agent"},
		{name: "invalid delivery timeout", mutate: func(c *Config) { c.Delivery.Timeout = 0 }, want: "delivery.timeout"},
		{name: "negative rate", mutate: func(c *Config) { c.Delivery.RatePerSec = -1 }, want: "delivery.rate_per_sec"},
		{name: "unknown delivery", mutate: func(c *Config) { c.Delivery.Backend = "smtp" }, want: "delivery.backend"},
		{
			name:   "telegram missing token",
			mutate: func(c *Config) { c.Delivery.Backend = DeliveryTelegram; c.Telegram.ChannelID = "@c" },
			want:   "telegram.token",
		},
		{
			name:   "telegram missing channel",
			mutate: func(c *Config) { c.Delivery.Backend = DeliveryTelegram; c.Telegram.Token = "t" },
			want:   "telegram.channel_id",
		},
		{name: "amqp missing url", mutate: func(c *Config) { c.Delivery.Backend = DeliveryAMQP }, want: "amqp.url"},
		{name: "unknown cursor", mutate: func(c *Config) { c.Cursor.Backend = "redis" }, want: "cursor.backend"},
		{name: "postgres missing dsn", mutate: func(c *Config) { c.Cursor.Backend = CursorPostgres }, want: "db.dsn"},
		{name: "gcs missing bucket", mutate: func(c *Config) { c.Cursor.Backend = CursorGCS }, want: "gcs.bucket"},
		{name: "sqlite missing path", mutate: func(c *Config) { c.Cursor.Backend = CursorSQLite }, want: "sqlite.path"},
		{name: "local missing dir", mutate: func(c *Config) { c.Cursor.Backend = CursorLocal }, want: "local.dir"},
		{
			name:   "schedule missing interval",
			mutate: func(c *Config) { c.Schedule.Enabled = true },
			want:   "schedule.interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %v, want %q", err, tt.want)
		})
	}
}
