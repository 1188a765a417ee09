package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"studio/internal/api"
)

const (
	dialTimeout    = 2 * time.Second
	defaultTimeout = 30 * time.Second
)

// ErrNotFound is returned when the daemon answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client provides HTTP access to the daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Dial connects to the daemon API at bind ("host:port" or a full URL) and
// checks that it answers.
func Dial(bind, token string) (*Client, error) {
	c, err := NewClient(bind, token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/healthz", nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return c, nil
}

// NewClient builds a client without contacting the daemon.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address not configured")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats retrieves the latest toolbar stats.
func (c *Client) Stats(ctx context.Context) (*api.SystemStats, error) {
	var resp api.SystemStats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Queue polls the queue table.
func (c *Client) Queue(ctx context.Context) (*api.QueueView, error) {
	var resp api.QueueView
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Action runs a queue action by route name (clear, clear-completed, load,
// export). path is only sent for load.
func (c *Client) Action(ctx context.Context, action, path string) (*api.ActionResponse, error) {
	var body any
	if strings.TrimSpace(path) != "" {
		body = map[string]string{"path": path}
	}
	var resp api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(action), nil, body, &resp)
	return actionResult(&resp, err)
}

// Import uploads a .json or .zip queue file.
func (c *Client) Import(ctx context.Context, path string) (*api.ActionResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open import file: %w", err)
		}
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("encode import file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/queue/import", nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp api.ActionResponse
	return actionResult(&resp, c.send(req, &resp))
}

// EndProcess asks the daemon to cancel the running job.
func (c *Client) EndProcess(ctx context.Context) (*api.ActionResponse, error) {
	var resp api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/current/cancel", nil, nil, &resp)
	return actionResult(&resp, err)
}

// Enqueue adds a job.
func (c *Client) Enqueue(ctx context.Context, req api.EnqueueRequest) (*api.Job, error) {
	var resp api.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Jobs lists jobs, optionally filtered by status.
func (c *Client) Jobs(ctx context.Context, statuses []string) ([]api.Job, error) {
	query := url.Values{}
	for _, s := range statuses {
		query.Add("status", s)
	}
	var resp api.JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Job describes one job. A missing job yields nil without error.
func (c *Client) Job(ctx context.Context, id string) (*api.Job, error) {
	var resp api.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentJob returns the running job's monitor state.
func (c *Client) CurrentJob(ctx context.Context) (*api.MonitorState, error) {
	var resp api.MonitorState
	if err := c.do(ctx, http.MethodGet, "/api/jobs/current", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gallery lists gallery entries.
func (c *Client) Gallery(ctx context.Context) ([]api.GalleryEntry, error) {
	var resp api.GalleryListResponse
	if err := c.do(ctx, http.MethodGet, "/api/gallery", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// GallerySelect resolves the entry at index.
func (c *Client) GallerySelect(ctx context.Context, index int) (*api.GallerySelection, error) {
	var resp api.GallerySelection
	if err := c.do(ctx, http.MethodGet, "/api/gallery/"+strconv.Itoa(index), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GalleryPrefix resolves an output by prefix.
func (c *Client) GalleryPrefix(ctx context.Context, prefix string) (*api.GallerySelection, error) {
	var resp api.GallerySelection
	if err := c.do(ctx, http.MethodGet, "/api/gallery/prefix/"+url.PathEscape(prefix), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events subscribes to the daemon's push channel. The returned channel is
// closed when ctx ends or the connection drops.
func (c *Client) Events(ctx context.Context) (<-chan api.Event, error) {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/api/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		return nil, err
	}

	out := make(chan api.Event, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt api.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// actionResult keeps the action view when the daemon reports a failed
// action, so callers can still render the refreshed queue.
func actionResult(resp *api.ActionResponse, err error) (*api.ActionResponse, error) {
	if err == nil {
		return resp, nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && resp.Action != "" {
		return resp, errors.New(resp.Error)
	}
	return nil, err
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send decodes the body into out for every status; a non-2xx status is also
// returned as a StatusError.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode}
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil {
			statusErr.Message = apiErr.Error
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return statusErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// BaseURL returns the daemon address the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}
