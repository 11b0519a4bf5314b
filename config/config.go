package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "nearchat"
	// DefaultServiceID is the proximity service identifier shared by all peers.
	DefaultServiceID = "_nearchat._tcp"
	// DefaultAdvertisePort is the nominal port published with the mDNS record.
	DefaultAdvertisePort = 47474
	// DefaultLogLevel is used when the config does not name a level.
	DefaultLogLevel = "info"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "NEARCHAT_DATA_DIR"

	configFileName = "config.json"
	logFileName    = "nearchat.log"
)

// LocalConfig holds the persisted local identity and runtime settings.
//
// UserID stays empty until a profile has been created; an empty UserID is the
// signed-out state and keeps the advertiser from starting.
type LocalConfig struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	ShareableID   string `json:"shareable_id"`
	ServiceID     string `json:"service_id"`
	AdvertisePort int    `json:"advertise_port"`
	Discoverable  bool   `json:"discoverable"`
	LogLevel      string `json:"log_level"`
	// DatabasePath points at a document store shared with other installs.
	// Relative paths are taken from the data directory; empty keeps the
	// private database in the data directory.
	DatabasePath string `json:"database_path,omitempty"`
}

// SignedIn reports whether a durable identity is available.
func (c *LocalConfig) SignedIn() bool {
	return c != nil && strings.TrimSpace(c.UserID) != ""
}

// ResolveDatabasePath returns the shared store path, or "" when the install
// uses its private database.
func (c *LocalConfig) ResolveDatabasePath(dataDir string) string {
	path := strings.TrimSpace(c.DatabasePath)
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	return filepath.Clean(path)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If NEARCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// LogPath returns the log file used while the terminal UI is running.
func LogPath(dataDir string) string {
	return filepath.Join(dataDir, logFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*LocalConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg LocalConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *LocalConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
// An empty dataDir resolves the default location.
func LoadOrCreate(dataDir string) (*LocalConfig, string, error) {
	if dataDir == "" {
		resolved, err := ResolveDataDir()
		if err != nil {
			return nil, "", err
		}
		dataDir = resolved
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// NewUserID returns a fresh durable user identifier.
func NewUserID() string {
	return uuid.NewString()
}

// NewShareableID returns a short human-shareable handle, e.g. "NC-3F9A2C".
func NewShareableID() string {
	id := uuid.New()
	return fmt.Sprintf("NC-%X", id[:3])
}

func defaultConfig() *LocalConfig {
	return &LocalConfig{
		DisplayName:   defaultDisplayName(),
		ServiceID:     DefaultServiceID,
		AdvertisePort: DefaultAdvertisePort,
		Discoverable:  false,
		LogLevel:      DefaultLogLevel,
	}
}

func defaultDisplayName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Nearchat User"
}

func normalizeDefaults(cfg *LocalConfig) bool {
	updated := false

	if strings.TrimSpace(cfg.DisplayName) == "" {
		cfg.DisplayName = defaultDisplayName()
		updated = true
	}
	if cfg.UserID != "" && cfg.ShareableID == "" {
		cfg.ShareableID = NewShareableID()
		updated = true
	}
	if strings.TrimSpace(cfg.ServiceID) == "" {
		cfg.ServiceID = DefaultServiceID
		updated = true
	}
	if cfg.AdvertisePort <= 0 || cfg.AdvertisePort > 65535 {
		cfg.AdvertisePort = DefaultAdvertisePort
		updated = true
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}
