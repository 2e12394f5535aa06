package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate runs the test from an empty directory with an empty home, so
// no real config file leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Could not get home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde expands to home",
			input:    "~/videos",
			expected: filepath.Join(home, "videos"),
		},
		{
			name:     "tilde with nested path",
			input:    "~/videos/bar/friday",
			expected: filepath.Join(home, "videos", "bar", "friday"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/srv/videos",
			expected: "/srv/videos",
		},
		{
			name:     "relative path unchanged",
			input:    "videos/friday",
			expected: "videos/friday",
		},
		{
			name:     "empty string unchanged",
			input:    "",
			expected: "",
		},
		{
			name:     "tilde only",
			input:    "~",
			expected: home,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetConfigPaths(t *testing.T) {
	paths := getConfigPaths()

	if len(paths) == 0 {
		t.Fatal("getConfigPaths() returned empty slice")
	}

	// Last path should be local config.toml
	lastPath := paths[len(paths)-1]
	if lastPath != "config.toml" {
		t.Errorf("last config path = %q, want %q", lastPath, "config.toml")
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"JUKEBOX_PLAYER_ID":           "player_id",
		"JUKEBOX_REDIS__PASSWORD":     "redis.password",
		"JUKEBOX_SYNC__POLL_INTERVAL": "sync.poll_interval",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	isolate(t)
	writeConfig(t, "config.toml", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GetBackend() != BackendSQLite {
		t.Errorf("GetBackend() = %q, want %q", cfg.GetBackend(), BackendSQLite)
	}
	if cfg.HasConsole() {
		t.Error("HasConsole() = true for empty config")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_BasicConfig(t *testing.T) {
	isolate(t)
	writeConfig(t, "config.toml", `
player_id = "bar"
backend = "Redis"

[redis]
addr = "localhost:6379"
db = 2

[sync]
poll_interval = "4s"
reconnect_attempts = 3

[playback]
command = "mpv --start={start} {locator}"
autoplay = false
media_root = "~/videos"

[console]
listen = ":8080"

[desktop]
notifications = false

[log]
level = "debug"
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.GetPlayerID() != "bar" {
		t.Errorf("GetPlayerID() = %q, want %q", cfg.GetPlayerID(), "bar")
	}
	if cfg.GetBackend() != BackendRedis {
		t.Errorf("GetBackend() = %q, want %q", cfg.GetBackend(), BackendRedis)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}

	sync := cfg.GetSyncConfig()
	if sync.PollInterval != 4*time.Second {
		t.Errorf("PollInterval = %v, want 4s", sync.PollInterval)
	}
	if sync.ReconnectAttempts != 3 {
		t.Errorf("ReconnectAttempts = %d, want 3", sync.ReconnectAttempts)
	}

	pb := cfg.GetPlaybackConfig()
	if *pb.Autoplay {
		t.Error("Autoplay = true, want false")
	}
	if pb.Command != "mpv --start={start} {locator}" {
		t.Errorf("Command = %q", pb.Command)
	}
	home, _ := os.UserHomeDir()
	if pb.MediaRoot != filepath.Join(home, "videos") {
		t.Errorf("MediaRoot = %q, want expanded", pb.MediaRoot)
	}

	if !cfg.HasConsole() {
		t.Error("HasConsole() = false")
	}
	if !cfg.HasMPRIS() {
		t.Error("HasMPRIS() = false, want default true")
	}
	if cfg.HasNotifications() {
		t.Error("HasNotifications() = true, want false")
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, want debug", cfg.LogLevel())
	}
}

func TestLoad_Layering(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, ".config", "jukebox", "config.toml"), `
player_id = "home"
[console]
listen = ":9000"
`)
	writeConfig(t, "config.toml", `player_id = "local"`)
	explicit := filepath.Join(dir, "explicit.toml")
	writeConfig(t, explicit, `
[sqlite]
path = "~/data/jukebox.db"
`)
	t.Setenv("JUKEBOX_REDIS__PASSWORD", "s3cret")
	t.Setenv("JUKEBOX_SYNC__HEARTBEAT", "20s")

	cfg, err := Load(explicit)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PlayerID != "local" {
		t.Errorf("PlayerID = %q, want local config to win", cfg.PlayerID)
	}
	if cfg.Console.Listen != ":9000" {
		t.Errorf("Console.Listen = %q, want value from home config", cfg.Console.Listen)
	}
	if cfg.SQLite.Path != filepath.Join(dir, "data", "jukebox.db") {
		t.Errorf("SQLite.Path = %q", cfg.SQLite.Path)
	}
	if cfg.Redis.Password != "s3cret" {
		t.Errorf("Redis.Password = %q, want value from environment", cfg.Redis.Password)
	}
	if cfg.GetSyncConfig().Heartbeat != 20*time.Second {
		t.Errorf("Heartbeat = %v, want 20s", cfg.GetSyncConfig().Heartbeat)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	if _, err := Load(filepath.Join(dir, "nope.toml")); err == nil {
		t.Error("Load() expected error for missing explicit file")
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	isolate(t)
	writeConfig(t, "config.toml", "invalid = [[[")

	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		fails   bool
	}{
		{name: "default sqlite", cfg: Config{}},
		{name: "redis with addr", cfg: Config{Backend: "redis", Redis: RedisConfig{Addr: "localhost:6379"}}},
		{name: "redis without addr", cfg: Config{Backend: "redis"}, fails: true},
		{name: "unknown backend", cfg: Config{Backend: "postgres"}, wantErr: ErrUnknownBackend, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.fails {
				t.Fatalf("Validate() error = %v, want failure %v", err, tt.fails)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetSyncConfig_Defaults(t *testing.T) {
	cfg := (&Config{}).GetSyncConfig()

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"PollInterval", cfg.PollInterval, 2 * time.Second},
		{"PollMaxInterval", cfg.PollMaxInterval, 30 * time.Second},
		{"CommandExpiry", cfg.CommandExpiry, 5 * time.Minute},
		{"Debounce", cfg.Debounce, 300 * time.Millisecond},
		{"ErrorWindow", cfg.ErrorWindow, time.Minute},
		{"ReconnectBase", cfg.ReconnectBase, time.Second},
		{"ReconnectMax", cfg.ReconnectMax, 30 * time.Second},
		{"CommandTimeout", cfg.CommandTimeout, 10 * time.Second},
		{"Heartbeat", cfg.Heartbeat, 15 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.EmptyPollsBeforeBackoff != 5 {
		t.Errorf("EmptyPollsBeforeBackoff = %d, want 5", cfg.EmptyPollsBeforeBackoff)
	}
	if cfg.ReconnectAttempts != 10 {
		t.Errorf("ReconnectAttempts = %d, want 10", cfg.ReconnectAttempts)
	}
	if cfg.QueuedCommands != 100 {
		t.Errorf("QueuedCommands = %d, want 100", cfg.QueuedCommands)
	}
	if cfg.ProcessedCapacity != 1000 {
		t.Errorf("ProcessedCapacity = %d, want 1000", cfg.ProcessedCapacity)
	}
}

func TestGetSyncConfig_MaxBelowBase(t *testing.T) {
	cfg := (&Config{Sync: SyncConfig{
		PollInterval:    time.Minute,
		PollMaxInterval: time.Second,
	}}).GetSyncConfig()

	if cfg.PollMaxInterval != time.Minute {
		t.Errorf("PollMaxInterval = %v, want clamped to PollInterval", cfg.PollMaxInterval)
	}
}

func TestGetPlaybackConfig_Defaults(t *testing.T) {
	cfg := (&Config{}).GetPlaybackConfig()

	if cfg.DefaultDuration != 3*time.Minute {
		t.Errorf("DefaultDuration = %v, want 3m", cfg.DefaultDuration)
	}
	if cfg.Autoplay == nil || !*cfg.Autoplay {
		t.Error("Autoplay should default to true")
	}
}

func TestGetRedisConfig_Defaults(t *testing.T) {
	cfg := (&Config{}).GetRedisConfig()

	if cfg.SubscribeTimeout != 10*time.Second {
		t.Errorf("SubscribeTimeout = %v, want 10s", cfg.SubscribeTimeout)
	}
	if cfg.CommandTTL != 24*time.Hour {
		t.Errorf("CommandTTL = %v, want 24h", cfg.CommandTTL)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{Log: LogConfig{Level: tt.in}}
		if got := cfg.LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
