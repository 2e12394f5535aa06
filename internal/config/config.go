// Package config loads the jukebox configuration from TOML files and
// JUKEBOX_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "JUKEBOX_"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

var ErrUnknownBackend = errors.New("unknown backend")

type Config struct {
	PlayerID string `koanf:"player_id"`
	Backend  string `koanf:"backend"` // "sqlite" (default) or "redis"

	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Redis    RedisConfig    `koanf:"redis"`
	Sync     SyncConfig     `koanf:"sync"`
	Playback PlaybackConfig `koanf:"playback"`
	Console  ConsoleConfig  `koanf:"console"`
	Desktop  DesktopConfig  `koanf:"desktop"`
	Log      LogConfig      `koanf:"log"`
}

// SQLiteConfig holds the local database settings.
type SQLiteConfig struct {
	Path string `koanf:"path"` // empty means $XDG_DATA_HOME/jukebox/jukebox.db
}

// RedisConfig holds the shared store and push channel settings.
type RedisConfig struct {
	Addr             string        `koanf:"addr"`
	Password         string        `koanf:"password"`
	DB               int           `koanf:"db"`
	SubscribeTimeout time.Duration `koanf:"subscribe_timeout"`
	CommandTTL       time.Duration `koanf:"command_ttl"`
}

// SyncConfig holds the command intake and state publishing parameters.
type SyncConfig struct {
	PollInterval            time.Duration `koanf:"poll_interval"`
	PollMaxInterval         time.Duration `koanf:"poll_max_interval"`
	EmptyPollsBeforeBackoff int           `koanf:"empty_polls_before_backoff"`
	CommandExpiry           time.Duration `koanf:"command_expiry"`
	Debounce                time.Duration `koanf:"debounce"`
	ErrorWindow             time.Duration `koanf:"error_window"`
	ReconnectBase           time.Duration `koanf:"reconnect_base"`
	ReconnectMax            time.Duration `koanf:"reconnect_max"`
	ReconnectAttempts       int           `koanf:"reconnect_attempts"`
	QueuedCommands          int           `koanf:"queued_commands"`
	ProcessedCapacity       int           `koanf:"processed_capacity"`
	CommandTimeout          time.Duration `koanf:"command_timeout"`
	Heartbeat               time.Duration `koanf:"heartbeat"`
}

// PlaybackConfig holds the output settings.
type PlaybackConfig struct {
	// Command is an external player command line run once per video, with
	// {locator}, {start} and {volume} placeholders. Empty drives a silent
	// clock that ends each video after its duration.
	Command         string        `koanf:"command"`
	DefaultDuration time.Duration `koanf:"default_duration"` // for videos of unknown length
	Autoplay        *bool         `koanf:"autoplay"`         // default: true
	MediaRoot       string        `koanf:"media_root"`       // base for relative locators
}

// ConsoleConfig holds the remote console gateway settings.
type ConsoleConfig struct {
	Listen string `koanf:"listen"` // empty disables the gateway
}

// DesktopConfig toggles the local desktop integrations (Linux only).
type DesktopConfig struct {
	MPRIS         *bool `koanf:"mpris"`         // default: true
	Notifications *bool `koanf:"notifications"` // default: true
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error (default: info)
}

// Load reads the layered config files, then path if not empty, then the
// environment. Later sources win.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, p := range getConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("loading %s: %w", p, err)
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(expandPath(path)), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.SQLite.Path != "" {
		cfg.SQLite.Path = expandPath(cfg.SQLite.Path)
	}
	if cfg.Playback.MediaRoot != "" {
		cfg.Playback.MediaRoot = expandPath(cfg.Playback.MediaRoot)
	}
	return cfg, nil
}

// envKey maps JUKEBOX_REDIS__PASSWORD to redis.password. A double
// underscore separates sections since keys contain single underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/jukebox/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "jukebox", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Validate reports settings no default can fix.
func (c *Config) Validate() error {
	switch c.GetBackend() {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis backend requires redis.addr")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}

// GetBackend returns the configured backend, sqlite by default.
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return BackendSQLite
	}
	return c.Backend
}

// GetPlayerID returns the configured player ID, or the host name.
func (c *Config) GetPlayerID() string {
	if c.PlayerID != "" {
		return c.PlayerID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "jukebox"
}

// GetSyncConfig returns the sync configuration with defaults applied.
func (c *Config) GetSyncConfig() SyncConfig {
	cfg := c.Sync

	// Apply defaults
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = max(30*time.Second, cfg.PollInterval)
	}
	if cfg.EmptyPollsBeforeBackoff <= 0 {
		cfg.EmptyPollsBeforeBackoff = 5
	}
	if cfg.CommandExpiry <= 0 {
		cfg.CommandExpiry = 5 * time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = time.Minute
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = max(30*time.Second, cfg.ReconnectBase)
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 10
	}
	if cfg.QueuedCommands <= 0 {
		cfg.QueuedCommands = 100
	}
	if cfg.ProcessedCapacity <= 0 {
		cfg.ProcessedCapacity = 1000
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}

	return cfg
}

// GetPlaybackConfig returns the playback configuration with defaults applied.
func (c *Config) GetPlaybackConfig() PlaybackConfig {
	cfg := c.Playback
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 3 * time.Minute
	}
	if cfg.Autoplay == nil {
		autoplay := true
		cfg.Autoplay = &autoplay
	}
	return cfg
}

// GetRedisConfig returns the redis configuration with defaults applied.
func (c *Config) GetRedisConfig() RedisConfig {
	cfg := c.Redis
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	if cfg.CommandTTL <= 0 {
		cfg.CommandTTL = 24 * time.Hour
	}
	return cfg
}

// HasMPRIS returns true unless MPRIS control is disabled.
func (c *Config) HasMPRIS() bool {
	return c.Desktop.MPRIS == nil || *c.Desktop.MPRIS
}

// HasNotifications returns true unless desktop notifications are disabled.
func (c *Config) HasNotifications() bool {
	return c.Desktop.Notifications == nil || *c.Desktop.Notifications
}

// HasConsole returns true if the console gateway is configured.
func (c *Config) HasConsole() bool {
	return c.Console.Listen != ""
}

// LogLevel parses the configured level, info by default.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
