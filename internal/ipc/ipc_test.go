package ipc_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studio/internal/api"
	"studio/internal/daemon"
	"studio/internal/ipc"
	"studio/internal/sysstats"
	"studio/internal/testsupport"
)

type idleStats struct{}

func (idleStats) Sample(context.Context) sysstats.Stats {
	return sysstats.Stats{SampledAt: time.Now()}
}

func newClient(t *testing.T, token string) (*ipc.Client, *daemon.Daemon) {
	t.Helper()
	opts := []testsupport.ConfigOption{testsupport.WithoutStateFile()}
	if token != "" {
		opts = append(opts, testsupport.WithAPIToken(token))
	}
	cfg := testsupport.NewConfig(t, opts...)
	d, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), nil, daemon.WithStatsSource(idleStats{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(srv.URL, token)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, d
}

func TestClientQueueRoundTrip(t *testing.T) {
	client, _ := newClient(t, "tok")
	ctx := context.Background()

	job, err := client.Enqueue(ctx, api.EnqueueRequest{GenerationType: "F1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	view, err := client.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(view.Rows) != 1 || view.Rows[0].ID != job.ID {
		t.Fatalf("unexpected queue view: %+v", view)
	}

	described, err := client.Job(ctx, job.ID)
	if err != nil || described == nil {
		t.Fatalf("Job: %v %v", described, err)
	}
	missing, err := client.Job(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing job, got %v %v", missing, err)
	}

	resp, err := client.Action(ctx, "clear", "")
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if resp.Affected != 1 || resp.Queue.Counts.Pending != 0 {
		t.Fatalf("unexpected clear response: %+v", resp)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.QueueStats["cancelled"] != 1 {
		t.Fatalf("unexpected status stats: %v", status.QueueStats)
	}
}

func TestClientWrongToken(t *testing.T) {
	client, _ := newClient(t, "right")
	bad, err := ipc.NewClient(clientURL(t, client), "wrong")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = bad.Queue(context.Background())
	var statusErr *ipc.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 401 {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestClientImportReturnsViewOnFailure(t *testing.T) {
	client, _ := newClient(t, "")
	path := filepath.Join(t.TempDir(), "queue.txt")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := client.Import(context.Background(), path)
	if err == nil {
		t.Fatal("expected import error")
	}
	if resp == nil || resp.Action != "import" {
		t.Fatalf("expected action view alongside error, got %+v", resp)
	}
}

func TestClientEvents(t *testing.T) {
	client, d := newClient(t, "tok")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	select {
	case evt := <-events:
		if evt.Kind != "queue" {
			t.Fatalf("unexpected first event kind %q", evt.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no initial event")
	}

	d.Driver().Refresh(ctx)
	select {
	case evt := <-events:
		if evt.Queue == nil {
			t.Fatalf("expected queue payload, got %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no pushed event")
	}

	cancel()
	for range events {
	}
}

func TestDialFailsWhenDaemonOffline(t *testing.T) {
	if _, err := ipc.Dial("127.0.0.1:1", ""); err == nil {
		t.Fatal("expected dial to fail")
	}
}

func clientURL(t *testing.T, c *ipc.Client) string {
	t.Helper()
	return c.BaseURL()
}
