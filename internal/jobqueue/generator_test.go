package jobqueue_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studio/internal/jobqueue"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gen.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommandGeneratorReportsProgressAndResult(t *testing.T) {
	script := writeScript(t, `read params
echo "log noise"
echo '{"percent": 10, "desc": "Loading"}'
echo '{"preview": "data:image/png;base64,AA=="}'
echo "{\"result\": \"$params\"}"
`)
	gen := jobqueue.NewCommandGenerator([]string{script}, time.Second, "")

	var updates []jobqueue.ProgressData
	result, err := gen.Generate(context.Background(), &jobqueue.Job{ID: "j", ParamsJSON: "out.mp4"}, func(p jobqueue.ProgressData) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result != "out.mp4" {
		t.Fatalf("unexpected result %q", result)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(updates))
	}
	if updates[1].Desc != "Loading" || updates[1].Preview == "" || updates[1].Percent != 10 {
		t.Fatalf("progress should accumulate, got %#v", updates[1])
	}
}

func TestCommandGeneratorFailureIncludesStderr(t *testing.T) {
	script := writeScript(t, "echo 'CUDA out of memory' >&2\nexit 3\n")
	gen := jobqueue.NewCommandGenerator([]string{script}, time.Second, "")
	_, err := gen.Generate(context.Background(), &jobqueue.Job{ID: "j"}, nil)
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestCommandGeneratorRequiresResult(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	gen := jobqueue.NewCommandGenerator([]string{script}, time.Second, "")
	if _, err := gen.Generate(context.Background(), &jobqueue.Job{ID: "j"}, nil); err == nil {
		t.Fatal("expected error when no result reported")
	}
}

func TestCommandGeneratorOversizedLineDoesNotHang(t *testing.T) {
	script := writeScript(t, `head -c 17000000 /dev/zero | tr '\0' a
echo
head -c 2000000 /dev/zero | tr '\0' b
echo
`)
	gen := jobqueue.NewCommandGenerator([]string{script}, time.Second, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := gen.Generate(ctx, &jobqueue.Job{ID: "j"}, nil)
	if ctx.Err() != nil {
		t.Fatal("generator hung after an oversized output line")
	}
	if err == nil || !strings.Contains(err.Error(), "read generator output") {
		t.Fatalf("expected scan error, got %v", err)
	}
}
