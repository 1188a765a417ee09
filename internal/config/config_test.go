package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"studio/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("STUDIO_API_TOKEN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantOutput := filepath.Join(tempHome, ".local", "share", "studio", "outputs")
	if cfg.Paths.OutputDir != wantOutput {
		t.Fatalf("unexpected output dir: got %q want %q", cfg.Paths.OutputDir, wantOutput)
	}
	if cfg.Paths.MetadataDir != filepath.Join(wantOutput, "metadata") {
		t.Fatalf("unexpected metadata dir: %q", cfg.Paths.MetadataDir)
	}
	dataDir := filepath.Join(tempHome, ".local", "share", "studio")
	if cfg.Paths.LogDir != filepath.Join(dataDir, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Queue.StateFile != filepath.Join(dataDir, "queue.json") {
		t.Fatalf("unexpected state file: %q", cfg.Queue.StateFile)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7860" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Refresh.StatsIntervalSeconds != 2 {
		t.Fatalf("expected 2s stats interval, got %d", cfg.Refresh.StatsIntervalSeconds)
	}
	if cfg.StatsInterval().Seconds() != 2 {
		t.Fatalf("unexpected stats interval duration: %s", cfg.StatsInterval())
	}
	if cfg.UI.LatentsDisplayTop {
		t.Fatal("expected inline latents preview by default")
	}
	if cfg.Runner.Enabled {
		t.Fatal("expected runner disabled by default")
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("STUDIO_API_TOKEN", "")

	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"output_dir":   "~/renders",
			"metadata_dir": "~/renders/meta",
			"data_dir":     "~/state",
			"api_token":    "  secret  ",
		},
		"ui": map[string]any{
			"latents_display_top": true,
		},
		"runner": map[string]any{
			"enabled": true,
			"command": []string{" generate ", "", "--json"},
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "DEBUG",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q (exists=%v)", resolved, exists)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempHome, "renders") {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.Paths.MetadataDir != filepath.Join(tempHome, "renders", "meta") {
		t.Fatalf("unexpected metadata dir: %q", cfg.Paths.MetadataDir)
	}
	if cfg.QueueDBPath() != filepath.Join(tempHome, "state", "queue.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected trimmed api token, got %q", cfg.Paths.APIToken)
	}
	if !cfg.UI.LatentsDisplayTop {
		t.Fatal("expected latents_display_top override")
	}
	if got := strings.Join(cfg.Runner.Command, " "); got != "generate --json" {
		t.Fatalf("unexpected runner command: %q", got)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestAPITokenFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STUDIO_API_TOKEN", "from-env")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "from-env" {
		t.Fatalf("expected token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"stats interval", func(c *config.Config) { c.Refresh.StatsIntervalSeconds = 0 }, "refresh.stats_interval_seconds"},
		{"poll timeout", func(c *config.Config) { c.Queue.PollTimeoutSeconds = -1 }, "queue.poll_timeout_seconds"},
		{"runner command", func(c *config.Config) { c.Runner.Enabled = true; c.Runner.Command = nil }, "runner.command"},
		{"rate burst", func(c *config.Config) { c.API.RateBurst = 0 }, "api.rate_burst"},
		{"bind", func(c *config.Config) { c.Paths.APIBind = "localhost" }, "paths.api_bind"},
		{"log level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }, "notifications.ntfy_topic"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.MetadataDir = "/tmp/meta"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureDirectoriesCreatesStateDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.MetadataDir = filepath.Join(base, "out", "meta")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfg.Paths.ExportDir = filepath.Join(base, "data", "exports")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.ExportDir, cfg.Paths.MetadataDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
}
