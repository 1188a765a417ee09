package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir   string `toml:"output_dir"`
	MetadataDir string `toml:"metadata_dir"`
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	ExportDir   string `toml:"export_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Queue contains settings for the job queue and its persisted state.
type Queue struct {
	// StateFile is the JSON file loaded by "load queue" when no path is given.
	StateFile          string `toml:"state_file"`
	PollTimeoutSeconds int    `toml:"poll_timeout_seconds"`
	// ExportRetentionDays prunes older queue_export_*.zip archives after each
	// export. Zero keeps every archive.
	ExportRetentionDays int `toml:"export_retention_days"`
}

// Refresh contains the polling cadence for the control panel.
type Refresh struct {
	StatsIntervalSeconds      int `toml:"stats_interval_seconds"`
	CurrentJobIntervalSeconds int `toml:"current_job_interval_seconds"`
}

// Runner contains configuration for the background generation worker.
type Runner struct {
	Enabled             bool     `toml:"enabled"`
	Command             []string `toml:"command"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	StopGraceSeconds    int      `toml:"stop_grace_seconds"`
}

// API contains HTTP server tuning.
type API struct {
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// UI contains display preferences shared by every client.
type UI struct {
	LatentsDisplayTop bool `toml:"latents_display_top"`
}

// Notifications contains ntfy delivery settings. An empty topic disables
// notifications.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	JobCompleted          bool   `toml:"job_completed"`
	JobFailed             bool   `toml:"job_failed"`
	QueueDrained          bool   `toml:"queue_drained"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
}

// Config encapsulates all configuration values for the studio daemon and CLI.
//
// Configuration sections by subsystem:
//   - Paths: output/metadata directories, state directories and API bind address
//   - Queue: resume file and collaborator call timeout
//   - Refresh: system stats and current job polling cadence
//   - Runner: external generator command
//   - API: rate limiting for mutating endpoints
//   - UI: preview layout
//   - Notifications: ntfy topic and which job events are published
//   - Logging: log format, level, rotation and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Refresh       Refresh       `toml:"refresh"`
	Runner        Runner        `toml:"runner"`
	API           API           `toml:"api"`
	UI            UI            `toml:"ui"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/studio/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("studio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The output and metadata directories are created on a best-effort basis; the
// gallery treats a missing directory as empty.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ExportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.MetadataDir} {
		if strings.TrimSpace(dir) != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	return nil
}

// QueueDBPath returns the location of the SQLite job database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "studiod.lock")
}

// PIDPath returns the file the daemon records its process id in.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "studiod.pid")
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "studio.log")
}

// PollTimeout bounds a single queue poll.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Queue.PollTimeoutSeconds) * time.Second
}

// StatsInterval is the system stats refresh period.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Refresh.StatsIntervalSeconds) * time.Second
}

// CurrentJobInterval is the period at which the current job id is checked for changes.
func (c *Config) CurrentJobInterval() time.Duration {
	return time.Duration(c.Refresh.CurrentJobIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
