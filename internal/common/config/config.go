// Package config provides configuration management for Firewatch.
// It supports loading configuration from environment variables, a TOML
// config file, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/firewatch/firewatch/internal/timeutil"
)

// ConfigError reports malformed or out-of-range configuration. Fatal at
// surface init.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Config holds all configuration sections for Firewatch.
type Config struct {
	GithubToken   string   `mapstructure:"github_token"`
	Repos         []string `mapstructure:"repos"`
	DefaultStates []string `mapstructure:"default_states"`
	DefaultSince  string   `mapstructure:"default_since"`
	GraphiteOn    bool     `mapstructure:"graphite_enabled"`
	DBPath        string   `mapstructure:"db_path"`

	Sync     SyncConfig     `mapstructure:"sync"`
	Filters  FiltersConfig  `mapstructure:"filters"`
	Output   OutputConfig   `mapstructure:"output"`
	User     UserConfig     `mapstructure:"user"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SyncConfig controls freshness and sync behaviour.
type SyncConfig struct {
	AutoSync       bool   `mapstructure:"auto_sync"`
	StaleThreshold string `mapstructure:"stale_threshold"` // duration, e.g. "5m"
	Concurrency    int    `mapstructure:"concurrency"`
	Timeout        string `mapstructure:"timeout"` // soft per-scope timeout, e.g. "10m"
}

// FiltersConfig holds the default query exclusions.
type FiltersConfig struct {
	ExcludeBots    bool     `mapstructure:"exclude_bots"`
	ExcludeAuthors []string `mapstructure:"exclude_authors"`
	BotPatterns    []string `mapstructure:"bot_patterns"`
}

// OutputConfig selects the default rendering mode.
type OutputConfig struct {
	DefaultFormat string `mapstructure:"default_format"` // text, jsonl
}

// UserConfig identifies the operator for perspective filters and
// thumbs-up-based ack detection.
type UserConfig struct {
	GithubUsername string `mapstructure:"github_username"`
}

// FeedbackConfig tunes actionable derivation.
type FeedbackConfig struct {
	CommitImpliesRead bool `mapstructure:"commit_implies_read"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// StaleThresholdDuration returns the parsed stale threshold. Validation
// guarantees parseability; the default covers a zero value.
func (s *SyncConfig) StaleThresholdDuration() time.Duration {
	d, err := timeutil.ParseDuration(s.StaleThreshold)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// TimeoutDuration returns the parsed soft sync timeout.
func (s *SyncConfig) TimeoutDuration() time.Duration {
	d, err := timeutil.ParseDuration(s.Timeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// DefaultSinceDuration returns the first-sync lookback window.
func (c *Config) DefaultSinceDuration() time.Duration {
	d, err := timeutil.ParseDuration(c.DefaultSince)
	if err != nil {
		return 14 * 24 * time.Hour
	}
	return d
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("github_token", "")
	v.SetDefault("repos", []string{})
	v.SetDefault("default_states", []string{"open"})
	v.SetDefault("default_since", "14d")
	v.SetDefault("graphite_enabled", false)
	v.SetDefault("db_path", "")

	v.SetDefault("sync.auto_sync", true)
	v.SetDefault("sync.stale_threshold", "5m")
	v.SetDefault("sync.concurrency", 8)
	v.SetDefault("sync.timeout", "10m")

	v.SetDefault("filters.exclude_bots", true)
	v.SetDefault("filters.exclude_authors", []string{})
	v.SetDefault("filters.bot_patterns", []string{`\[bot\]$`, `-bot$`})

	v.SetDefault("output.default_format", "text")

	v.SetDefault("user.github_username", "")

	v.SetDefault("feedback.commit_implies_read", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stderr")
}

// Load reads configuration from environment variables, the config file, and
// defaults. Environment variables use the prefix FIREWATCH_ with nested keys
// joined by underscores (FIREWATCH_SYNC_STALE_THRESHOLD).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified file or the default
// locations (the platform config root, then the working directory).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FIREWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("github_token", "FIREWATCH_GITHUB_TOKEN")
	_ = v.BindEnv("db_path", "FIREWATCH_DB")
	_ = v.BindEnv("user.github_username", "FIREWATCH_USER_GITHUB_USERNAME")

	v.SetConfigName("config")
	v.SetConfigType("toml")

	if configPath != "" {
		if fi, err := os.Stat(configPath); err == nil && !fi.IsDir() {
			v.SetConfigFile(configPath)
		} else {
			v.AddConfigPath(configPath)
		}
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "firewatch"))
		}
		v.AddConfigPath(".")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks every section and reports all problems at once.
func validate(cfg *Config) error {
	var errs []string

	for _, repo := range cfg.Repos {
		if !repoSlugRe.MatchString(repo) {
			errs = append(errs, fmt.Sprintf("repos: %q is not owner/name", repo))
		}
	}

	validStates := map[string]bool{"open": true, "draft": true, "closed": true, "merged": true}
	for _, st := range cfg.DefaultStates {
		if !validStates[strings.ToLower(st)] {
			errs = append(errs, fmt.Sprintf("default_states: unknown state %q", st))
		}
	}

	if _, err := timeutil.ParseDuration(cfg.DefaultSince); err != nil {
		errs = append(errs, fmt.Sprintf("default_since: %v", err))
	}
	if _, err := timeutil.ParseDuration(cfg.Sync.StaleThreshold); err != nil {
		errs = append(errs, fmt.Sprintf("sync.stale_threshold: %v", err))
	}
	if _, err := timeutil.ParseDuration(cfg.Sync.Timeout); err != nil {
		errs = append(errs, fmt.Sprintf("sync.timeout: %v", err))
	}
	if cfg.Sync.Concurrency <= 0 || cfg.Sync.Concurrency > 64 {
		errs = append(errs, "sync.concurrency must be between 1 and 64")
	}

	for _, p := range cfg.Filters.BotPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			errs = append(errs, fmt.Sprintf("filters.bot_patterns: bad pattern %q: %v", p, err))
		}
	}

	switch strings.ToLower(cfg.Output.DefaultFormat) {
	case "text", "jsonl":
	default:
		errs = append(errs, "output.default_format must be one of: text, jsonl")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return &ConfigError{Problems: errs}
	}
	return nil
}

var repoSlugRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// DatabasePath resolves the database file location: explicit config/env
// override first, else the platform cache root. The parent directory is
// created on demand.
func (c *Config) DatabasePath() (string, error) {
	path := c.DBPath
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("no cache dir for database: %w", err)
		}
		path = filepath.Join(dir, "firewatch", "firewatch.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create database dir: %w", err)
	}
	return path, nil
}
