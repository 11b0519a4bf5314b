package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	firstCfg, firstPath, err := LoadOrCreate("")
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.SignedIn() {
		t.Fatalf("expected fresh config to have no user ID, got %q", firstCfg.UserID)
	}
	if firstCfg.ServiceID != DefaultServiceID {
		t.Fatalf("expected default service ID %q, got %q", DefaultServiceID, firstCfg.ServiceID)
	}
	if firstCfg.AdvertisePort != DefaultAdvertisePort {
		t.Fatalf("expected default advertise port %d, got %d", DefaultAdvertisePort, firstCfg.AdvertisePort)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	firstCfg.UserID = NewUserID()
	if err := Save(firstPath, firstCfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	secondCfg, secondPath, err := LoadOrCreate("")
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.UserID != firstCfg.UserID {
		t.Fatalf("expected stable user ID, got %q then %q", firstCfg.UserID, secondCfg.UserID)
	}
	if secondCfg.ShareableID == "" {
		t.Fatalf("expected shareable ID to be backfilled for a signed-in config")
	}
}

func TestLoadOrCreateNormalizesLegacyConfig(t *testing.T) {
	tempDir := t.TempDir()

	legacy := &LocalConfig{
		UserID:        "legacy-user",
		DisplayName:   "Legacy",
		AdvertisePort: -1,
	}
	if err := Save(ConfigPath(tempDir), legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.ServiceID != DefaultServiceID {
		t.Fatalf("expected service ID to normalize, got %q", cfg.ServiceID)
	}
	if cfg.AdvertisePort != DefaultAdvertisePort {
		t.Fatalf("expected invalid port to normalize, got %d", cfg.AdvertisePort)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
	if cfg.DisplayName != "Legacy" {
		t.Fatalf("expected display name to be retained, got %q", cfg.DisplayName)
	}
}

func TestNewShareableIDFormat(t *testing.T) {
	id := NewShareableID()
	if !strings.HasPrefix(id, "NC-") || len(id) != len("NC-")+6 {
		t.Fatalf("unexpected shareable ID %q", id)
	}
	if id == NewShareableID() {
		t.Fatalf("expected shareable IDs to differ")
	}
}

func TestResolveDatabasePath(t *testing.T) {
	dataDir := t.TempDir()
	shared := filepath.Join(t.TempDir(), "nearchat.db")

	cases := []struct {
		name string
		path string
		want string
	}{
		{name: "private", path: "", want: ""},
		{name: "blank", path: "  ", want: ""},
		{name: "absolute", path: shared, want: shared},
		{name: "relative", path: "../shared/nearchat.db", want: filepath.Join(filepath.Dir(dataDir), "shared", "nearchat.db")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &LocalConfig{DatabasePath: tc.path}
			if got := cfg.ResolveDatabasePath(dataDir); got != tc.want {
				t.Fatalf("ResolveDatabasePath = %q, want %q", got, tc.want)
			}
		})
	}
}
