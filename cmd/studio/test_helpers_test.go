package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"studio/internal/config"
	"studio/internal/daemon"
	"studio/internal/sysstats"
	"studio/internal/testsupport"
)

type stubStats struct{}

func (stubStats) Sample(context.Context) sysstats.Stats {
	return sysstats.Stats{
		RAMUsed:      2_000_000_000,
		RAMTotal:     8_000_000_000,
		RAMAvailable: true,
		SampledAt:    time.Now(),
	}
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
}

// setupCLITestEnv starts an in-process daemon and writes a config file that
// points the CLI at it.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, nil, daemon.WithStatsSource(stubStats{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
	})

	written := *cfg
	written.Paths.APIBind = d.APIAddress()
	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		configPath: writeTestConfig(t, &written),
	}
}

// setupOfflineEnv writes a config whose API address has no listener, so every
// command takes its direct-access path.
func setupOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"
	return &cliTestEnv{cfg: cfg, configPath: writeTestConfig(t, cfg)}
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "studio.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// requireField checks for a "key: value" line from printKeyValues, ignoring
// the column padding.
func requireField(t *testing.T, output, key, value string) {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		rest, ok := strings.CutPrefix(line, key+":")
		if ok && strings.TrimSpace(rest) == value {
			return
		}
	}
	t.Fatalf("expected %q to contain field %s=%q", output, key, value)
}
