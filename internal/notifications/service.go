package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"studio/internal/config"
)

const userAgent = "Studio/0.1.0"

// JobOutcome describes a finished job.
type JobOutcome struct {
	ID             string
	GenerationType string
	Result         string
	Error          string
	Elapsed        time.Duration
}

// Service is the notification surface used by the runner and the CLI.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job JobOutcome) error
	NotifyJobFailed(ctx context.Context, job JobOutcome) error
	NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.JobCompleted,
		failed:    cfg.Notifications.JobFailed,
		drained:   cfg.Notifications.QueueDrained,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	completed bool
	failed    bool
	drained   bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job JobOutcome) error {
	if !n.completed {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s job %s finished", typeLabel(job.GenerationType), shortID(job.ID))
	if job.Elapsed > 0 {
		fmt.Fprintf(&b, " in %s", job.Elapsed.Round(time.Second))
	}
	if result := strings.TrimSpace(job.Result); result != "" {
		b.WriteString("\n")
		b.WriteString(result)
	}
	return n.send(ctx, payload{
		title:   "Studio - Job Complete",
		message: b.String(),
		tags:    []string{"studio", "job", "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job JobOutcome) error {
	if !n.failed {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❌ %s job %s failed", typeLabel(job.GenerationType), shortID(job.ID))
	if detail := strings.TrimSpace(job.Error); detail != "" {
		b.WriteString("\n")
		b.WriteString(detail)
	}
	return n.send(ctx, payload{
		title:    "Studio - Job Failed",
		message:  b.String(),
		tags:     []string{"studio", "job", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.drained || processed == 0 {
		return nil
	}
	message := fmt.Sprintf("🏁 Queue empty: %d %s processed", processed, pluralJobs(processed))
	if failed > 0 {
		message += fmt.Sprintf(", %d failed", failed)
	}
	if duration > 0 {
		message += fmt.Sprintf(" (started %s)", humanize.RelTime(time.Now().Add(-duration), time.Now(), "ago", "from now"))
	}
	return n.send(ctx, payload{
		title:   "Studio - Queue Drained",
		message: message,
		tags:    []string{"studio", "queue", "drained"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Studio - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"studio", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func typeLabel(generationType string) string {
	if label := strings.TrimSpace(generationType); label != "" {
		return label
	}
	return "Unknown"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pluralJobs(n int) string {
	if n == 1 {
		return "job"
	}
	return "jobs"
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, JobOutcome) error              { return nil }
func (noopService) NotifyJobFailed(context.Context, JobOutcome) error                 { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
