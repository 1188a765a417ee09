package jobqueue_test

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studio/internal/jobqueue"
	"studio/internal/testsupport"
)

func TestSaveAndLoadStateFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.NewQueue(t, cfg)
	ctx := context.Background()

	job := testsupport.Enqueue(t, q, "Extend")
	if _, err := os.Stat(cfg.Queue.StateFile); err != nil {
		t.Fatalf("expected resume file after enqueue: %v", err)
	}

	fresh := jobqueue.NewFromConfig(testsupport.MustOpenStore(t, testsupport.NewConfig(t)), cfg, nil)
	added, err := fresh.LoadQueueFromJSON(ctx, "")
	if err != nil {
		t.Fatalf("LoadQueueFromJSON: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 job restored, got %d", added)
	}
	restored, err := fresh.Store().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if restored.GenerationType != "Extend" || restored.ParamsJSON != `{"prompt":"test"}` {
		t.Fatalf("unexpected restored job %#v", restored)
	}

	again, err := fresh.LoadQueueFromJSON(ctx, "")
	if err != nil || again != 0 {
		t.Fatalf("reload should skip existing ids, got %d, %v", again, err)
	}
}

func TestLoadMissingStateFileIsEmpty(t *testing.T) {
	q := testsupport.NewQueue(t, testsupport.NewConfig(t))
	added, err := q.LoadQueueFromJSON(context.Background(), "")
	if err != nil || added != 0 {
		t.Fatalf("LoadQueueFromJSON = %d, %v", added, err)
	}
}

func TestLoadRequeuesRunningAndRejectsUnknownStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.NewQueue(t, cfg)
	ctx := context.Background()
	dir := testsupport.BaseDir(cfg)

	good := filepath.Join(dir, "good.json")
	content := `[{"id":"r1","status":"Running","started_at":"2026-01-01T10:00:00Z","created_at":"2026-01-01T09:59:00Z"}]`
	if err := os.WriteFile(good, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if added, err := q.LoadQueueFromJSON(ctx, good); err != nil || added != 1 {
		t.Fatalf("LoadQueueFromJSON = %d, %v", added, err)
	}
	job, err := q.Store().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != jobqueue.StatusPending || job.StartedAt != nil {
		t.Fatalf("expected running job to be requeued, got %#v", job)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"version":1,"jobs":[{"id":"x","status":"paused"}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := q.LoadQueueFromJSON(ctx, bad); err == nil || !strings.Contains(err.Error(), "paused") {
		t.Fatalf("expected unknown status error, got %v", err)
	}

	if _, err := q.LoadQueueFromJSON(ctx, filepath.Join(dir, "queue.txt")); !errors.Is(err, jobqueue.ErrUnsupportedImport) {
		t.Fatalf("expected ErrUnsupportedImport, got %v", err)
	}
}

func TestExportZipRoundTripsThumbnails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.NewQueue(t, cfg)
	ctx := context.Background()

	png := []byte("\x89PNG fake image")
	thumb := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	job, err := q.Enqueue(ctx, jobqueue.JobRequest{ParamsJSON: `{"seed":7}`, Thumbnail: thumb})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	archive, err := q.ExportQueueToZip(ctx)
	if err != nil {
		t.Fatalf("ExportQueueToZip: %v", err)
	}
	if filepath.Dir(archive) != cfg.Paths.ExportDir || !strings.HasPrefix(filepath.Base(archive), "queue_export_") {
		t.Fatalf("unexpected archive path %s", archive)
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	zr.Close()
	if !names["queue.json"] || !names["images/"+job.ID+".png"] {
		t.Fatalf("unexpected archive entries %v", names)
	}

	other := jobqueue.New(testsupport.MustOpenStore(t, testsupport.NewConfig(t)), jobqueue.Options{})
	added, err := other.LoadQueueFromJSON(ctx, archive)
	if err != nil || added != 1 {
		t.Fatalf("import = %d, %v", added, err)
	}
	imported, err := other.Store().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if imported.Thumbnail != thumb {
		t.Fatalf("thumbnail not restored: %q", imported.Thumbnail)
	}
	if imported.ParamsJSON != `{"seed":7}` {
		t.Fatalf("params not restored: %q", imported.ParamsJSON)
	}
}

func TestExportPrunesExpiredArchives(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.ExportRetentionDays = 7
	q := testsupport.NewQueue(t, cfg)
	ctx := context.Background()

	stale := filepath.Join(cfg.Paths.ExportDir, "queue_export_20200101_000000.zip")
	recent := filepath.Join(cfg.Paths.ExportDir, "queue_export_20260101_000000.zip")
	unrelated := filepath.Join(cfg.Paths.ExportDir, "notes.zip")
	old := time.Now().AddDate(0, 0, -30)
	testsupport.WriteFileAt(t, stale, "old", old)
	testsupport.WriteFileAt(t, recent, "new", time.Now().AddDate(0, 0, -1))
	testsupport.WriteFileAt(t, unrelated, "keep", old)

	archive, err := q.ExportQueueToZip(ctx)
	if err != nil {
		t.Fatalf("ExportQueueToZip: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected expired archive removed, stat err=%v", err)
	}
	for _, path := range []string{recent, unrelated, archive} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", filepath.Base(path), err)
		}
	}
}

func TestExportSanitizesImageEntryNames(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.NewQueue(t, cfg)
	ctx := context.Background()

	thumb := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("img"))
	job := &jobqueue.Job{ID: "../../escape", Status: jobqueue.StatusPending, Thumbnail: thumb}
	if err := q.Store().Insert(ctx, job); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	archive, err := q.ExportQueueToZip(ctx)
	if err != nil {
		t.Fatalf("ExportQueueToZip: %v", err)
	}
	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if strings.Contains(f.Name, "..") {
			t.Fatalf("entry %q escapes the archive root", f.Name)
		}
	}
}
