package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const AppName = "watchlane"

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Microsoft  OAuthConfig      `mapstructure:"microsoft" yaml:"microsoft"`
	Google     OAuthConfig      `mapstructure:"google" yaml:"google"`
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	InitialLookback time.Duration `mapstructure:"initial_lookback" yaml:"initial_lookback"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AccountTimeout  time.Duration `mapstructure:"account_timeout" yaml:"account_timeout"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	PageSize        int           `mapstructure:"page_size" yaml:"page_size"`
}

type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	Tenant       string `mapstructure:"tenant" yaml:"tenant,omitempty"`
}

type IMAPConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	SentFolder string `mapstructure:"sent_folder" yaml:"sent_folder"`
}

type EncryptionConfig struct {
	Key string `mapstructure:"key" yaml:"key"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWKSURL    string `mapstructure:"jwks_url" yaml:"jwks_url"`
	CookieName string `mapstructure:"cookie_name" yaml:"cookie_name"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

type EventsConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":3001",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "data/watchlane.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Sync: SyncConfig{
			Interval:        5 * time.Minute,
			InitialLookback: 14 * 24 * time.Hour,
			RequestTimeout:  30 * time.Second,
			AccountTimeout:  5 * time.Minute,
			Concurrency:     4,
			PageSize:        50,
		},
		Microsoft: OAuthConfig{
			Tenant: "common",
		},
		IMAP: IMAPConfig{
			Addr:       "outlook.office365.com:993",
			SentFolder: "Sent Items",
		},
		Auth: AuthConfig{
			CookieName: "token",
		},
		Redis: RedisConfig{
			LockTTL: 10 * time.Minute,
		},
		Events: EventsConfig{
			SubjectPrefix: AppName,
		},
	}
}

// Load reads the optional YAML file at path and applies WATCHLANE_* environment overrides.
// An empty path searches ./watchlane.yaml and /etc/watchlane/watchlane.yaml.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + AppName)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)

	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.initial_lookback", cfg.Sync.InitialLookback)
	v.SetDefault("sync.request_timeout", cfg.Sync.RequestTimeout)
	v.SetDefault("sync.account_timeout", cfg.Sync.AccountTimeout)
	v.SetDefault("sync.concurrency", cfg.Sync.Concurrency)
	v.SetDefault("sync.page_size", cfg.Sync.PageSize)

	v.SetDefault("microsoft.client_id", cfg.Microsoft.ClientID)
	v.SetDefault("microsoft.client_secret", cfg.Microsoft.ClientSecret)
	v.SetDefault("microsoft.tenant", cfg.Microsoft.Tenant)
	v.SetDefault("google.client_id", cfg.Google.ClientID)
	v.SetDefault("google.client_secret", cfg.Google.ClientSecret)

	v.SetDefault("imap.addr", cfg.IMAP.Addr)
	v.SetDefault("imap.sent_folder", cfg.IMAP.SentFolder)
	v.SetDefault("encryption.key", cfg.Encryption.Key)

	v.SetDefault("auth.jwt_secret", cfg.Auth.JWTSecret)
	v.SetDefault("auth.jwks_url", cfg.Auth.JWKSURL)
	v.SetDefault("auth.cookie_name", cfg.Auth.CookieName)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.lock_ttl", cfg.Redis.LockTTL)

	v.SetDefault("events.backend", cfg.Events.Backend)
	v.SetDefault("events.url", cfg.Events.URL)
	v.SetDefault("events.subject_prefix", cfg.Events.SubjectPrefix)
}

func Validate(cfg Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if cfg.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	if cfg.Sync.InitialLookback <= 0 {
		return errors.New("sync.initial_lookback must be positive")
	}
	if cfg.Sync.RequestTimeout <= 0 || cfg.Sync.AccountTimeout <= 0 {
		return errors.New("sync timeouts must be positive")
	}
	if cfg.Sync.Concurrency < 1 {
		return errors.New("sync.concurrency must be at least 1")
	}
	if cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 1000 {
		return errors.New("sync.page_size must be between 1 and 1000")
	}

	if cfg.Encryption.Key != "" {
		key, err := hex.DecodeString(cfg.Encryption.Key)
		if err != nil || len(key) != 32 {
			return errors.New("encryption.key must be 64 hex characters")
		}
	}

	switch cfg.Events.Backend {
	case "":
	case "nats", "amqp":
		if cfg.Events.URL == "" {
			return fmt.Errorf("events.url is required for backend %q", cfg.Events.Backend)
		}
	default:
		return fmt.Errorf("unsupported events backend %q", cfg.Events.Backend)
	}

	return nil
}

// ValidateServer checks the settings only the HTTP surface needs.
func ValidateServer(cfg Config) error {
	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWKSURL == "" {
		return errors.New("auth.jwt_secret or auth.jwks_url is required")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	return nil
}

func Redact(cfg Config) Config {
	masked := cfg
	for _, s := range []*string{
		&masked.Microsoft.ClientSecret,
		&masked.Google.ClientSecret,
		&masked.Encryption.Key,
		&masked.Auth.JWTSecret,
		&masked.Redis.Password,
	} {
		if *s != "" {
			*s = "****"
		}
	}
	return masked
}
