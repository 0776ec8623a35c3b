// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Clock   ClockConfig   `mapstructure:"clock"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProxyConfig locates the rotating proxy provider.
type ProxyConfig struct {
	ProviderURL string `mapstructure:"provider_url"`
	Token       string `mapstructure:"token"`
	PageSize    int    `mapstructure:"page_size"`
	Fallback    string `mapstructure:"fallback"`
}

// HTTPConfig configures the request dispatcher.
type HTTPConfig struct {
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	JitterMinMs        int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs        int     `mapstructure:"jitter_max_ms"`
	BackoffMinMs       int     `mapstructure:"backoff_min_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS       float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify"`
}

// SourceConfig holds per-marketplace knobs.
type SourceConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	Sources           []string     `mapstructure:"sources"`
	PageConcurrency   int          `mapstructure:"page_concurrency"`
	DetailConcurrency int          `mapstructure:"detail_concurrency"`
	DownloadPreviews  bool         `mapstructure:"download_previews"`
	Bobaedream        SourceConfig `mapstructure:"bobaedream"`
	KBChaChaCha       SourceConfig `mapstructure:"kbchachacha"`
	Encar             SourceConfig `mapstructure:"encar"`
}

// StorageConfig selects where preview images are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string     `mapstructure:"gcs_bucket"`
	Prefix    string     `mapstructure:"prefix"`
	SFTP      SFTPConfig `mapstructure:"sftp"`
}

// SFTPConfig points the sftp backend at a remote share.
type SFTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	KnownHosts string `mapstructure:"known_hosts"`
	RootDir    string `mapstructure:"root_dir"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ClockConfig sets the zone the soft-delete date is computed in.
type ClockConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.addr", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("proxy.provider_url", "https://proxy.webshare.io/api/v2/proxy/list/")
	v.SetDefault("proxy.token", "")
	v.SetDefault("proxy.page_size", 100)
	v.SetDefault("proxy.fallback", "")
	v.SetDefault("http.timeout_seconds", 120)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.jitter_min_ms", 1000)
	v.SetDefault("http.jitter_max_ms", 2000)
	v.SetDefault("http.backoff_min_ms", 2000)
	v.SetDefault("http.backoff_max_ms", 3000)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("crawler.sources", []string{
		string(car.SourceBobaedream), string(car.SourceKBChaChaCha), string(car.SourceEncar),
	})
	v.SetDefault("crawler.page_concurrency", 40)
	v.SetDefault("crawler.detail_concurrency", 30)
	v.SetDefault("crawler.download_previews", true)
	v.SetDefault("crawler.bobaedream.max_pages", 80)
	v.SetDefault("crawler.kbchachacha.max_pages", 60)
	v.SetDefault("crawler.encar.max_pages", 80)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "share")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.sftp.host", "")
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.user", "")
	v.SetDefault("storage.sftp.password", "")
	v.SetDefault("storage.sftp.known_hosts", "")
	v.SetDefault("storage.sftp.root_dir", "share")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("clock.timezone", "Asia/Seoul")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.JitterMinMs < 0 || c.HTTP.BackoffMinMs < 0 {
		return fmt.Errorf("http jitter and backoff must be >= 0")
	}
	if c.Crawler.PageConcurrency <= 0 {
		return fmt.Errorf("crawler.page_concurrency must be > 0")
	}
	if c.Crawler.DetailConcurrency <= 0 {
		return fmt.Errorf("crawler.detail_concurrency must be > 0")
	}
	for _, name := range c.Crawler.Sources {
		if !car.Source(name).Valid() {
			return fmt.Errorf("crawler.sources: unknown source %q", name)
		}
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "sftp":
		if c.Storage.SFTP.Host == "" || c.Storage.SFTP.User == "" {
			return fmt.Errorf("storage.sftp.host and storage.sftp.user must be set for the sftp backend")
		}
		if c.Storage.SFTP.RootDir == "" {
			return fmt.Errorf("storage.sftp.root_dir must be set for the sftp backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local, gcs or sftp, got %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// RequireDB reports a missing DSN for commands that need Postgres.
func (c Config) RequireDB() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	return nil
}

// Location resolves clock.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Clock.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock.timezone: %w", err)
	}
	return loc, nil
}

// SelectedSources returns the configured sources, or the requested subset when names is non-empty.
func (c Config) SelectedSources(names []string) ([]car.Source, error) {
	if len(names) == 0 {
		names = c.Crawler.Sources
	}
	out := make([]car.Source, 0, len(names))
	seen := make(map[car.Source]struct{}, len(names))
	for _, name := range names {
		src := car.Source(strings.TrimSpace(name))
		if !src.Valid() {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

// MaxPages returns the page cap configured for src.
func (c Config) MaxPages(src car.Source) int {
	switch src {
	case car.SourceBobaedream:
		return c.Crawler.Bobaedream.MaxPages
	case car.SourceKBChaChaCha:
		return c.Crawler.KBChaChaCha.MaxPages
	case car.SourceEncar:
		return c.Crawler.Encar.MaxPages
	default:
		return 0
	}
}

// Timeout converts http.timeout_seconds to a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
