package jobqueue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const maxStderrTail = 4096

// CommandGenerator runs an external process per job. The job parameters are
// written to stdin; stdout carries one JSON object per line, either a progress
// update or the final result:
//
//	{"percent": 42.5, "desc": "Sampling 12/30", "preview": "data:image/png;base64,..."}
//	{"result": "/outputs/video_3.mp4"}
type CommandGenerator struct {
	command   []string
	stopGrace time.Duration
	workDir   string
}

// NewCommandGenerator returns a generator for argv. stopGrace bounds how long
// a cancelled process may take to exit after SIGINT.
func NewCommandGenerator(argv []string, stopGrace time.Duration, workDir string) *CommandGenerator {
	if stopGrace <= 0 {
		stopGrace = 10 * time.Second
	}
	return &CommandGenerator{command: append([]string(nil), argv...), stopGrace: stopGrace, workDir: workDir}
}

type generatorLine struct {
	Percent *float64 `json:"percent"`
	Desc    string   `json:"desc"`
	Preview string   `json:"preview"`
	HTML    string   `json:"html"`
	Result  string   `json:"result"`
	Error   string   `json:"error"`
}

// Generate runs the command for job.
func (g *CommandGenerator) Generate(ctx context.Context, job *Job, progress func(ProgressData)) (string, error) {
	if len(g.command) == 0 {
		return "", errors.New("runner command not configured")
	}
	cmd := exec.CommandContext(ctx, g.command[0], g.command[1:]...)
	cmd.Dir = g.workDir
	cmd.Env = append(os.Environ(),
		"STUDIO_JOB_ID="+job.ID,
		"STUDIO_GENERATION_TYPE="+job.TypeLabel(),
	)
	cmd.Stdin = strings.NewReader(job.ParamsJSON)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = g.stopGrace

	var stderr tailBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("generator stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start generator: %w", err)
	}

	var (
		result    string
		reportErr string
		last      ProgressData
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg generatorLine
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Result != "" {
			result = msg.Result
		}
		if msg.Error != "" {
			reportErr = msg.Error
		}
		if msg.Percent == nil && msg.Desc == "" && msg.Preview == "" && msg.HTML == "" {
			continue
		}
		if msg.Percent != nil {
			last.Percent = *msg.Percent
		}
		if msg.Desc != "" {
			last.Desc = msg.Desc
		}
		if msg.Preview != "" {
			last.Preview = msg.Preview
		}
		if msg.HTML != "" {
			last.HTML = msg.HTML
		}
		if progress != nil {
			progress(last)
		}
	}
	scanErr := scanner.Err()
	// An oversized line stops the scanner; keep draining so the child never
	// blocks writing to a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(reportErr)
		if detail == "" {
			detail = stderr.Tail()
		}
		if detail != "" {
			return "", fmt.Errorf("generator exited: %w: %s", err, detail)
		}
		return "", fmt.Errorf("generator exited: %w", err)
	}
	if scanErr != nil {
		return "", fmt.Errorf("read generator output: %w", scanErr)
	}
	if reportErr != "" {
		return "", errors.New(reportErr)
	}
	if result == "" {
		return "", errors.New("generator exited without reporting a result")
	}
	return result, nil
}

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > maxStderrTail {
		t.buf = t.buf[len(t.buf)-maxStderrTail:]
	}
	return len(p), nil
}

func (t *tailBuffer) Tail() string {
	return strings.TrimSpace(string(t.buf))
}
