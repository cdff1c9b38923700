// Package config resolves settings from defaults, an optional
// .linestat.yaml, a .env file, LINESTAT_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dsablic/linestat/internal/store"
)

const (
	EnvPrefix = "LINESTAT"
	FileName  = ".linestat"
)

// Archive configures the optional object-storage copy of each snapshot.
type Archive struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use-ssl"`
}

// Enabled reports whether an endpoint and bucket are configured.
func (a Archive) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// Config is the validated configuration.
type Config struct {
	DBBackend         string        `mapstructure:"db-backend"`
	DBConnect         string        `mapstructure:"db-connect"`
	Languages         string        `mapstructure:"languages"`
	MaxFileSize       int64         `mapstructure:"max-file-size"`
	FetchTimeout      time.Duration `mapstructure:"fetch-timeout"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	FallbackBranches  []string      `mapstructure:"fallback-branches"`
	ExcludeVendored   bool          `mapstructure:"exclude-vendored"`
	CacheSize         int           `mapstructure:"cache-size"`
	Listen            string        `mapstructure:"listen"`
	ScanInterval      time.Duration `mapstructure:"scan-interval"`
	Owner             string        `mapstructure:"owner"`
	LogLevel          string        `mapstructure:"log-level"`
	LogFormat         string        `mapstructure:"log-format"`
	Archive           Archive       `mapstructure:"archive"`

	// Backend is DBBackend parsed.
	Backend store.Backend `mapstructure:"-"`
}

// New returns a viper instance with defaults, file search paths and
// environment binding in place. A non-empty file overrides the search.
func New(file string) *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every known key so environment variables for
// nested keys are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db-backend", string(store.SQLite))
	v.SetDefault("db-connect", "")
	v.SetDefault("languages", "")
	v.SetDefault("max-file-size", 10<<20)
	v.SetDefault("fetch-timeout", "30s")
	v.SetDefault("requests-per-second", 0)
	v.SetDefault("fallback-branches", []string{"master", "main"})
	v.SetDefault("exclude-vendored", false)
	v.SetDefault("cache-size", 4096)
	v.SetDefault("listen", ":8080")
	v.SetDefault("scan-interval", "24h")
	v.SetDefault("owner", "default")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.access-key", "")
	v.SetDefault("archive.secret-key", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.use-ssl", true)
}

// Load reads the config file if present and returns the validated result.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and parses enumerations.
func (c *Config) Validate() error {
	backend, err := store.ParseBackend(c.DBBackend)
	if err != nil {
		return err
	}
	c.Backend = backend

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive, got %d", c.MaxFileSize)
	}
	if c.FetchTimeout < 0 || c.ScanInterval < 0 {
		return errors.New("fetch-timeout and scan-interval must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests-per-second must not be negative, got %v", c.RequestsPerSecond)
	}
	if c.Owner == "" {
		c.Owner = "default"
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", s, err)
	}
	return lvl, nil
}

// Logger builds the slog logger described by the config, writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
