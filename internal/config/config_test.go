package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		UserID:         7,
		Remote:         Remote{BaseURL: "https://api.stampcircle.example", APIKey: "k"},
		Realtime:       Realtime{URL: "wss://rt.stampcircle.example"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.UserID != 7 {
		t.Errorf("UserID = %d, want 7", loaded.UserID)
	}
	if loaded.Remote.BaseURL != "https://api.stampcircle.example" {
		t.Errorf("Remote.BaseURL = %q", loaded.Remote.BaseURL)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Remote.TimeoutSeconds != 15 {
		t.Errorf("Remote.TimeoutSeconds = %d, want default 15", loaded.Remote.TimeoutSeconds)
	}
	if loaded.Sync.IntervalSeconds != 30 {
		t.Errorf("Sync.IntervalSeconds = %d, want default 30", loaded.Sync.IntervalSeconds)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
