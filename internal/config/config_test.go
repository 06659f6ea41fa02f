package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.UserTimeout.Std() != 16*time.Second || cfg.EditorTimeout.Std() != 16*time.Second {
		t.Errorf("Unexpected default timeouts: %s %s", cfg.UserTimeout.Std(), cfg.EditorTimeout.Std())
	}
	if cfg.StatisticsRetention.Std() != time.Hour {
		t.Errorf("Expected 1h retention, got %s", cfg.StatisticsRetention.Std())
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WriterQueueSize != 256 {
		t.Errorf("Expected default queue size, got %d", cfg.WriterQueueSize)
	}
	if cfg.TransferDB == "" || cfg.StatisticsDB == "" || cfg.ArchiveDir == "" {
		t.Error("Derived paths should be resolved")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
listen: "127.0.0.1:9000"
data_dir: ` + dir + `
user_timeout: 30s
editor_timeout: 5s
project_id: alpha
test_commands: [go]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.ProjectID != "alpha" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.UserTimeout.Std() != 30*time.Second || cfg.EditorTimeout.Std() != 5*time.Second {
		t.Errorf("Durations not parsed: %s %s", cfg.UserTimeout.Std(), cfg.EditorTimeout.Std())
	}
	if cfg.StatisticsRetention.Std() != time.Hour {
		t.Error("Unset fields should keep their defaults")
	}
	if cfg.TransferDB != filepath.Join(dir, "transfer.db") {
		t.Errorf("Unexpected transfer db %s", cfg.TransferDB)
	}
	if !cfg.AllowsTestCommand("go") || cfg.AllowsTestCommand("rm") {
		t.Error("Unexpected test command allowlist")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
data_dir = "` + filepath.ToSlash(dir) + `"
statistics_retention = "2h"
writer_queue_size = 8
log_format = "console"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StatisticsRetention.Std() != 2*time.Hour || cfg.WriterQueueSize != 8 || cfg.LogFormat != "console" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("user_timeout: 0s\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "nested", name)

			cfg := DefaultConfig()
			cfg.DataDir = dir
			cfg.UserID = "dev"
			cfg.EditorTimeout = Duration(42 * time.Second)
			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.UserID != "dev" || loaded.EditorTimeout.Std() != 42*time.Second {
				t.Errorf("Round trip lost values: %+v", loaded)
			}
		})
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "nope"
	if err := Save(filepath.Join(t.TempDir(), "config.yaml"), cfg); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
	if err := Save(filepath.Join(t.TempDir(), "config.yaml"), nil); err == nil {
		t.Error("Expected error for nil config")
	}
}
