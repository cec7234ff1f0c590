package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mirage/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Worker.PollInterval != config.Default().Worker.PollInterval {
		t.Fatalf("expected default poll interval, got %d", cfg.Worker.PollInterval)
	}
	if cfg.Normalize.TargetFPS != 30 {
		t.Fatalf("expected default target fps 30, got %d", cfg.Normalize.TargetFPS)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[worker]
poll_interval = 9

[logging]
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved existing path %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Worker.PollInterval != 9 {
		t.Fatalf("expected overlaid poll interval 9, got %d", cfg.Worker.PollInterval)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %s", cfg.Logging.Format)
	}
	// Untouched sections keep defaults.
	if cfg.Worker.HeartbeatTimeout != config.Default().Worker.HeartbeatTimeout {
		t.Fatal("expected default heartbeat timeout to survive overlay")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero poll", func(c *config.Config) { c.Worker.PollInterval = 0 }, "poll_interval"},
		{"negative fps", func(c *config.Config) { c.Normalize.TargetFPS = -1 }, "target_fps"},
		{"timeout below interval", func(c *config.Config) {
			c.Worker.HeartbeatInterval = 60
			c.Worker.HeartbeatTimeout = 30
		}, "heartbeat_timeout"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"empty data dir", func(c *config.Config) { c.Paths.DataDir = "" }, "data_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[worker]") {
		t.Fatal("sample config missing worker section")
	}
	if err := config.CreateSample(path); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ArtifactDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}
