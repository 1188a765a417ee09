package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"studio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "outputs")
	cfgVal.Paths.MetadataDir = filepath.Join(base, "outputs", "metadata")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfgVal.Paths.ExportDir = filepath.Join(base, "data", "exports")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Queue.StateFile = filepath.Join(base, "data", "queue.json")
	cfgVal.Queue.PollTimeoutSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithoutStateFile disables the queue resume file.
func WithoutStateFile() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.StateFile = ""
	}
}

// WithStubGenerator writes a shell script generator that reports two progress
// lines and then the given result, and enables the runner with it.
func WithStubGenerator(result string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := "#!/bin/sh\ncat >/dev/null\n" +
			"echo '{\"percent\": 50, \"desc\": \"Sampling 1/2\"}'\n" +
			"echo '{\"percent\": 100, \"desc\": \"Sampling 2/2\"}'\n" +
			"echo '{\"result\": \"" + result + "\"}'\n"
		target := filepath.Join(binDir, "generate")
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write stub generator: %v", err)
		}
		b.cfg.Runner.Enabled = true
		b.cfg.Runner.Command = []string{target}
		b.cfg.Runner.PollIntervalSeconds = 1
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
