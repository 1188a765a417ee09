package sysstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"studio/internal/logging"
)

const (
	defaultGPUCommand = "nvidia-smi"
	gpuQueryTimeout   = 2 * time.Second
	mebibyte          = 1 << 20
	unavailable       = "N/A"
)

// Stats is one sample of host resource usage.
type Stats struct {
	RAMUsed      uint64
	RAMTotal     uint64
	RAMAvailable bool

	VRAMUsed     uint64
	VRAMTotal    uint64
	GPUPercent   int
	GPUAvailable bool

	SampledAt time.Time
}

// RAMText renders "RAM: 7.9 GB / 33 GB".
func (s Stats) RAMText() string {
	if !s.RAMAvailable {
		return "RAM: " + unavailable
	}
	return fmt.Sprintf("RAM: %s / %s", humanize.Bytes(s.RAMUsed), humanize.Bytes(s.RAMTotal))
}

// VRAMText renders "VRAM: 3.1 GB / 26 GB".
func (s Stats) VRAMText() string {
	if !s.GPUAvailable {
		return "VRAM: " + unavailable
	}
	return fmt.Sprintf("VRAM: %s / %s", humanize.Bytes(s.VRAMUsed), humanize.Bytes(s.VRAMTotal))
}

// GPUText renders "GPU: 37%".
func (s Stats) GPUText() string {
	if !s.GPUAvailable {
		return "GPU: " + unavailable
	}
	return fmt.Sprintf("GPU: %d%%", s.GPUPercent)
}

// Toolbar returns the three toolbar strings in display order.
func (s Stats) Toolbar() []string {
	return []string{s.RAMText(), s.VRAMText(), s.GPUText()}
}

// CommandRunner executes a command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures a Sampler.
type Options struct {
	// GPUCommand defaults to nvidia-smi. Set Disabled to skip GPU sampling.
	GPUCommand  string
	GPUDisabled bool
	Run         CommandRunner
	Memory      func() (used, total uint64, err error)
	Logger      *slog.Logger
}

// Sampler reads host stats. It is safe for concurrent use.
type Sampler struct {
	gpuCommand string
	run        CommandRunner
	memory     func() (uint64, uint64, error)
	logger     *slog.Logger

	mu       sync.Mutex
	gpuGone  bool
	lastWarn time.Time
}

// NewSampler constructs a sampler.
func NewSampler(opts Options) *Sampler {
	s := &Sampler{
		gpuCommand: strings.TrimSpace(opts.GPUCommand),
		run:        opts.Run,
		memory:     opts.Memory,
		logger:     logging.NewComponentLogger(opts.Logger, "sysstats"),
		gpuGone:    opts.GPUDisabled,
	}
	if s.gpuCommand == "" {
		s.gpuCommand = defaultGPUCommand
	}
	if s.run == nil {
		s.run = runCommand
	}
	if s.memory == nil {
		s.memory = readMemory
	}
	return s
}

// Sample reads memory and GPU usage. Sources that fail are reported as
// unavailable; Sample never returns an error.
func (s *Sampler) Sample(ctx context.Context) Stats {
	stats := Stats{SampledAt: time.Now()}
	if used, total, err := s.memory(); err == nil && total > 0 {
		stats.RAMUsed, stats.RAMTotal, stats.RAMAvailable = used, total, true
	} else if err != nil {
		s.warnOnce("memory stats unavailable", err)
	}

	s.mu.Lock()
	skipGPU := s.gpuGone
	s.mu.Unlock()
	if skipGPU {
		return stats
	}

	gpuCtx, cancel := context.WithTimeout(ctx, gpuQueryTimeout)
	defer cancel()
	out, err := s.run(gpuCtx, s.gpuCommand,
		"--query-gpu=memory.used,memory.total,utilization.gpu",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			s.mu.Lock()
			s.gpuGone = true
			s.mu.Unlock()
			s.logger.Info("gpu stats disabled; query command not found", logging.String("command", s.gpuCommand))
			return stats
		}
		s.warnOnce("gpu stats query failed", err)
		return stats
	}
	used, total, util, err := ParseGPUQuery(string(out))
	if err != nil {
		s.warnOnce("gpu stats unparseable", err)
		return stats
	}
	stats.VRAMUsed, stats.VRAMTotal, stats.GPUPercent, stats.GPUAvailable = used, total, util, true
	return stats
}

// warnOnce limits repeated failures to one warning per minute.
func (s *Sampler) warnOnce(msg string, err error) {
	s.mu.Lock()
	if time.Since(s.lastWarn) < time.Minute {
		s.mu.Unlock()
		return
	}
	s.lastWarn = time.Now()
	s.mu.Unlock()
	s.logger.Warn(msg,
		logging.Error(err),
		logging.String(logging.FieldEventType, "sysstats_sample_failed"),
		logging.String(logging.FieldImpact, "toolbar shows N/A"),
	)
}

// ParseGPUQuery parses the first line of nvidia-smi CSV output
// ("used MiB, total MiB, util %") into bytes and percent.
func ParseGPUQuery(out string) (used, total uint64, util int, err error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 fields, got %d in %q", len(fields), line)
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		v, perr := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("field %d: %w", i+1, perr)
		}
		values[i] = v
	}
	return uint64(values[0] * mebibyte), uint64(values[1] * mebibyte), int(values[2] + 0.5), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
