package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"studio/internal/api"
	"studio/internal/config"
	"studio/internal/jobqueue"
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

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *httptest.Server) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, store, nil, WithStatsSource(stubStats{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return d, srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPIQueueView(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	d, srv := newTestDaemon(t, cfg)
	testsupport.Enqueue(t, d.Queue(), "")
	testsupport.Enqueue(t, d.Queue(), "F1")

	var view api.QueueView
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/queue", nil, &view); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(view.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(view.Rows))
	}
	if view.Rows[0].Type != "Original" || view.Rows[1].Type != "F1" {
		t.Fatalf("unexpected types: %q %q", view.Rows[0].Type, view.Rows[1].Type)
	}
	if view.Rows[0].QueuePosition != 1 || view.Rows[1].QueuePosition != 2 {
		t.Fatalf("unexpected positions: %+v", view.Rows)
	}
	if view.StatsText != "Queue: 2 | Running: 0 | Completed: 0" {
		t.Fatalf("unexpected stats text %q", view.StatsText)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile(), testsupport.WithAPIToken("secret"))
	_, srv := newTestDaemon(t, cfg)

	resp, err := http.Get(srv.URL + "/api/queue")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/queue", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz open, got %d", resp.StatusCode)
	}
}

func TestAPIClearQueueRunsChain(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	cfg.UI.LatentsDisplayTop = true
	d, srv := newTestDaemon(t, cfg)
	testsupport.Enqueue(t, d.Queue(), "")
	testsupport.Enqueue(t, d.Queue(), "")

	var resp api.ActionResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/queue/clear", nil, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Action != "clear" || resp.Affected != 2 {
		t.Fatalf("unexpected action response: %+v", resp)
	}
	if resp.Queue.Counts.Pending != 0 || len(resp.Queue.Rows) != 2 {
		t.Fatalf("unexpected queue after clear: %+v", resp.Queue)
	}
	for _, row := range resp.Queue.Rows {
		if row.Status != string(jobqueue.StatusCancelled) {
			t.Fatalf("expected cancelled rows, got %q", row.Status)
		}
	}
	if !resp.Layout.DisplayTop || !resp.Layout.TopPreviewVisible || resp.Layout.InlinePreviewVisible {
		t.Fatalf("unexpected layout: %+v", resp.Layout)
	}
	if resp.EndButton != nil {
		t.Fatalf("clear must not touch the end button")
	}
}

func TestAPIUnknownQueueAction(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	var resp api.ErrorResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/queue/shuffle", nil, &resp); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func postImport(t *testing.T, url, filename, content string) (int, api.ActionResponse) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/api/queue/import", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post import: %v", err)
	}
	defer resp.Body.Close()
	var out api.ActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode import response: %v", err)
	}
	return resp.StatusCode, out
}

func TestAPIImportJSON(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	content := `[
		{"id": "imp-1", "status": "pending", "params": {"prompt": "a"}, "created_at": "2026-01-01T00:00:00Z"},
		{"id": "imp-2", "status": "running", "generation_type": "F1", "created_at": "2026-01-01T00:01:00Z"}
	]`
	code, resp := postImport(t, srv.URL, "queue.json", content)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, resp.Error)
	}
	if resp.Action != "import" || resp.Affected != 2 {
		t.Fatalf("unexpected import response: %+v", resp)
	}
	if resp.Queue.Counts.Pending != 2 {
		t.Fatalf("expected running import to be requeued, counts %+v", resp.Queue.Counts)
	}
}

func TestAPIImportWithoutFileIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, srv := newTestDaemon(t, cfg)
	testsupport.Enqueue(t, d.Queue(), "")

	code, resp := postImport(t, srv.URL, "", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Affected != 0 || resp.Error != "" || len(resp.Queue.Rows) != 1 {
		t.Fatalf("expected no-op import, got %+v", resp)
	}
}

func TestAPIImportUnsupportedExtension(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	code, resp := postImport(t, srv.URL, "queue.txt", "[]")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if resp.Error == "" || resp.Action != "import" {
		t.Fatalf("expected error on action response, got %+v", resp)
	}
}

func TestAPIEnqueueAndDescribe(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	var job api.Job
	body := map[string]any{"generationType": "Video", "params": map[string]any{"prompt": "fox"}}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", body, &job); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if job.ID == "" || job.Status != "pending" {
		t.Fatalf("unexpected job: %+v", job)
	}

	var described api.Job
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+job.ID, nil, &described); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if described.QueuePosition != 1 || string(described.Params) != `{"prompt":"fox"}` {
		t.Fatalf("unexpected described job: %+v", described)
	}

	var missing api.ErrorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/nope", nil, &missing); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestAPIListJobsRejectsUnknownStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	var resp api.ErrorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs?status=paused", nil, &resp); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestAPIEndProcessIsOptimistic(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	var resp api.ActionResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/current/cancel", nil, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.EndButton == nil || resp.EndButton.Label != "Cancelling..." || resp.EndButton.Enabled {
		t.Fatalf("unexpected end button: %+v", resp.EndButton)
	}
	if resp.Affected != 0 || resp.Monitor.Active {
		t.Fatalf("expected no running job, got %+v", resp)
	}
}

func TestAPIGallery(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	now := time.Now()
	testsupport.WriteFileAt(t, filepath.Join(cfg.Paths.MetadataDir, "older.png"), "png", now)
	testsupport.WriteFileAt(t, filepath.Join(cfg.Paths.MetadataDir, "older.json"), `{"prompt":"a"}`, now)
	testsupport.WriteFileAt(t, filepath.Join(cfg.Paths.OutputDir, "older_1.mp4"), "mp4", now.Add(-time.Hour))
	testsupport.WriteFileAt(t, filepath.Join(cfg.Paths.MetadataDir, "newer.png"), "png", now)
	testsupport.WriteFileAt(t, filepath.Join(cfg.Paths.OutputDir, "newer.mp4"), "mp4", now)
	testsupport.WriteFileAt(t, filepath.Join(cfg.Paths.MetadataDir, "orphan.png"), "png", now)

	var list api.GalleryListResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/gallery", nil, &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Entries) != 2 || list.Entries[0].Prefix != "newer" || list.Entries[1].Prefix != "older" {
		t.Fatalf("unexpected gallery order: %+v", list.Entries)
	}

	var sel api.GallerySelection
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/gallery/1", nil, &sel); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !sel.Found || !sel.VideoVisible || !strings.HasSuffix(sel.VideoPath, "older_1.mp4") {
		t.Fatalf("unexpected selection: %+v", sel)
	}
	if sel.Info != "{\n  \"prompt\": \"a\"\n}" {
		t.Fatalf("unexpected info %q", sel.Info)
	}

	var missing api.GallerySelection
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/gallery/0", nil, &missing); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if missing.Found || missing.Message != "Video or JSON not found." {
		t.Fatalf("expected not found for json-less entry, got %+v", missing)
	}

	var none api.GallerySelection
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/gallery/9", nil, &none); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if none.Selected || none.VideoVisible {
		t.Fatalf("expected nothing selected, got %+v", none)
	}
}

func TestAPIStats(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	_, srv := newTestDaemon(t, cfg)

	var stats api.SystemStats
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if stats.RAM != "RAM: 2.0 GB / 8.0 GB" || stats.GPU != "GPU: N/A" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAPIRateLimitsMutations(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	cfg.API.RateLimit = 0.001
	cfg.API.RateBurst = 1
	_, srv := newTestDaemon(t, cfg)

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/queue/clear-completed", nil, nil); code != http.StatusOK {
		t.Fatalf("expected first mutation allowed, got %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/queue/clear-completed", nil, nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/queue", nil, nil); code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", code)
	}
}

func TestAPIEventsSendsInitialSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStateFile())
	d, srv := newTestDaemon(t, cfg)
	testsupport.Enqueue(t, d.Queue(), "")
	d.Driver().Refresh(context.Background())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt api.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	if evt.Kind != "queue" || evt.Queue == nil || len(evt.Queue.Rows) != 1 {
		t.Fatalf("unexpected initial event: %+v", evt)
	}

	d.Driver().Refresh(context.Background())
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read pushed event: %v", err)
	}
	if evt.Kind != "queue" || evt.Sequence == 0 {
		t.Fatalf("unexpected pushed event: %+v", evt)
	}
}
