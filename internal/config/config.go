package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultBackendURL is used when no backend url has been configured
const DefaultBackendURL = "http://localhost:5000"

// Config holds all application configuration
type Config struct {
	Backend       BackendConfig       `toml:"backend"`
	Jira          JiraConfig          `toml:"jira"`
	Watcher       WatcherConfig       `toml:"watcher"`
	Browser       BrowserConfig       `toml:"browser"`
	Notifications NotificationsConfig `toml:"notifications"`
	Bridge        BridgeConfig        `toml:"bridge"`
	History       HistoryConfig       `toml:"history"`
	Log           LogConfig           `toml:"log"`
}

// BackendConfig holds the automation backend settings
type BackendConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// JiraConfig holds the board location and the domain used for browse links
type JiraConfig struct {
	Domain   string `toml:"domain"`
	BoardURL string `toml:"board_url"`
}

// WatcherConfig holds rescan settings
type WatcherConfig struct {
	Debounce   Duration `toml:"debounce"`
	RescanCron string   `toml:"rescan_cron"`
}

// BrowserConfig holds settings for the Chrome tab showing the board
type BrowserConfig struct {
	Headless    bool   `toml:"headless"`
	UserDataDir string `toml:"user_data_dir"`
	ExecPath    string `toml:"exec_path"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
	Icon         string `toml:"icon"`
}

// BridgeConfig holds the page/background websocket endpoint
type BridgeConfig struct {
	Listen string `toml:"listen"`
}

// HistoryConfig holds dispatch history storage settings
type HistoryConfig struct {
	DatabasePath string `toml:"database_path"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string ("500ms", "30s") in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration in Go notation
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backend: BackendConfig{
			URL:     DefaultBackendURL,
			Timeout: Duration{30 * time.Second},
		},
		Watcher: WatcherConfig{
			Debounce: Duration{500 * time.Millisecond},
		},
		Browser: BrowserConfig{
			UserDataDir: filepath.Join(home, ".boardwatch", "chrome"),
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:7777",
		},
		History: HistoryConfig{
			DatabasePath: filepath.Join(home, ".boardwatch", "history.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if strings.TrimSpace(cfg.Backend.URL) == "" {
		cfg.Backend.URL = DefaultBackendURL
	}
	if cfg.Watcher.Debounce.Duration <= 0 {
		cfg.Watcher.Debounce = Duration{500 * time.Millisecond}
	}

	// Expand paths
	cfg.Browser.UserDataDir = ExpandPath(cfg.Browser.UserDataDir)
	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)

	return cfg, nil
}

// Save writes cfg to path, creating the parent directory
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "boardwatch", "config.toml")
}
