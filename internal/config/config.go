// Package config loads and validates postrelay configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Delivery backends.
const (
	DeliveryTelegram = "telegram"
	DeliveryAMQP     = "amqp"
	DeliveryLog      = "log"
)

// Cursor store backends.
const (
	CursorMemory   = "memory"
	CursorLocal    = "local"
	CursorSQLite   = "sqlite"
	CursorPostgres = "postgres"
	CursorGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Source   SourceConfig   `mapstructure:"source"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Cursor   CursorConfig   `mapstructure:"cursor"`
	DB       DBConfig       `mapstructure:"db"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Local    LocalConfig    `mapstructure:"local"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	RunHistory  int           `mapstructure:"run_history"`
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the remote posts API.
type SourceConfig struct {
	Name        string        `mapstructure:"name"`
	BaseURL     string        `mapstructure:"base_url"`
	Tags        string        `mapstructure:"tags"`
	Limit       int           `mapstructure:"limit"`
	StartAnchor int64         `mapstructure:"start_anchor"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	Login       string        `mapstructure:"login"`
	APIKey      string        `mapstructure:"api_key"`
}

// DeliveryConfig selects and paces the messaging channel.
type DeliveryConfig struct {
	Backend     string        `mapstructure:"backend"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	PostURLBase string        `mapstructure:"post_url_base"`
}

// TelegramConfig holds Bot API credentials.
type TelegramConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
	APIURL    string `mapstructure:"api_url"`
}

// AMQPConfig holds the AMQP 1.0 broker settings.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Target   string `mapstructure:"target"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CursorConfig selects the cursor store backend.
type CursorConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteConfig points at the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LocalConfig points at the directory for JSON cursor files.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig names the bucket and object prefix for cursor objects.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ScheduleConfig drives the in-process interval trigger.
type ScheduleConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// envAliases are unprefixed variables honored for compatibility with common
// deployment conventions.
var envAliases = map[string]string{
	"server.port":         "PORT",
	"telegram.token":      "TELOXIDE_TOKEN",
	"telegram.channel_id": "CHANNEL_ID",
	"db.dsn":              "DATABASE_URL",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POSTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range envAliases {
		if err := v.BindEnv(key, "POSTRELAY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

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
	v.SetDefault("server.run_history", 100)
	v.SetDefault("server.sync_timeout", 2*time.Minute)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("source.name", "e621")
	v.SetDefault("source.base_url", "https://e621.net")
	v.SetDefault("source.tags", "")
	v.SetDefault("source.limit", 20)
	v.SetDefault("source.start_anchor", 2_000_000_000)
	v.SetDefault("source.timeout", 10*time.Second)
	v.SetDefault("source.user_agent", "postrelay/0.1 (channel relay)")
	v.SetDefault("source.login", "")
	v.SetDefault("source.api_key", "")
	v.SetDefault("delivery.backend", DeliveryTelegram)
	v.SetDefault("delivery.timeout", 15*time.Second)
	v.SetDefault("delivery.rate_per_sec", 0.5)
	v.SetDefault("delivery.burst", 1)
	v.SetDefault("delivery.post_url_base", "https://e621.net")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.channel_id", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.target", "postrelay.posts")
	v.SetDefault("amqp.username", "")
	v.SetDefault("amqp.password", "")
	v.SetDefault("cursor.backend", CursorSQLite)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "relay_cursors")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("sqlite.path", "postrelay.db")
	v.SetDefault("local.dir", "data/cursors")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "cursors")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.interval", time.Hour)
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RunHistory <= 0 {
		return fmt.Errorf("server.run_history must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateCursor(); err != nil {
		return err
	}
	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0 when schedule is enabled")
	}
	return nil
}

func (c Config) validateSource() error {
	if c.Source.Name == "" {
		return fmt.Errorf("source.name is required")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if u, err := url.Parse(c.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.base_url must be an absolute URL")
	}
	if c.Source.Limit <= 0 {
		return fmt.Errorf("source.limit must be > 0")
	}
	if c.Source.StartAnchor <= 0 {
		return fmt.Errorf("source.start_anchor must be > 0")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be > 0")
	}
	if c.Source.UserAgent == "" {
		return fmt.Errorf("source.user_agent is required")
	}
	return nil
}

func (c Config) validateDelivery() error {
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be > 0")
	}
	if c.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	switch c.Delivery.Backend {
	case DeliveryTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required for the telegram backend")
		}
		if c.Telegram.ChannelID == "" {
			return fmt.Errorf("telegram.channel_id is required for the telegram backend")
		}
	case DeliveryAMQP:
		if c.AMQP.URL == "" {
			return fmt.Errorf("amqp.url is required for the amqp backend")
		}
		if c.AMQP.Target == "" {
			return fmt.Errorf("amqp.target is required for the amqp backend")
		}
	case DeliveryLog:
	default:
		return fmt.Errorf("delivery.backend %q is not supported", c.Delivery.Backend)
	}
	return nil
}

func (c Config) validateCursor() error {
	switch c.Cursor.Backend {
	case CursorMemory:
	case CursorLocal:
		if c.Local.Dir == "" {
			return fmt.Errorf("local.dir is required for the local cursor backend")
		}
	case CursorSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite cursor backend")
		}
	case CursorPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres cursor backend")
		}
	case CursorGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket is required for the gcs cursor backend")
		}
	default:
		return fmt.Errorf("cursor.backend %q is not supported", c.Cursor.Backend)
	}
	return nil
}
