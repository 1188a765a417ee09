package jobqueue

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultGenerationType is shown for jobs that do not carry a type label.
const DefaultGenerationType = "Original"

// UserCancelReason is recorded on jobs stopped through "end process".
const UserCancelReason = "Cancelled by user"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = func() []Status {
	var out []Status
	for _, status := range allStatuses {
		if status.IsTerminal() {
			out = append(out, status)
		}
	}
	return out
}()

var labelCaser = cases.Title(language.Und)

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts user or file input into a Status. Matching ignores case.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Label returns the display form ("Pending", "Running", ...).
func (s Status) Label() string {
	return labelCaser.String(string(s))
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ProgressData is the live progress of the running job. Preview is an image
// reference, HTML the rendered progress bar markup.
type ProgressData struct {
	Preview string  `json:"preview,omitempty"`
	Desc    string  `json:"desc,omitempty"`
	HTML    string  `json:"html,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// IsZero reports whether no progress has been published.
func (p ProgressData) IsZero() bool {
	return p.Preview == "" && p.Desc == "" && p.HTML == "" && p.Percent == 0
}

// Job is one generation request tracked by the queue.
type Job struct {
	ID             string
	GenerationType string
	Status         Status
	ParamsJSON     string
	Thumbnail      string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Result         string
	ErrorMessage   string
	UpdatedAt      time.Time

	// QueuePosition is display-only; it is never persisted.
	QueuePosition int
	// Progress is populated only on the current job.
	Progress *ProgressData
}

// TypeLabel returns the generation type, defaulting to "Original".
func (j Job) TypeLabel() string {
	if t := strings.TrimSpace(j.GenerationType); t != "" {
		return t
	}
	return DefaultGenerationType
}

// JobRequest describes a job to enqueue.
type JobRequest struct {
	GenerationType string
	ParamsJSON     string
	Thumbnail      string
}

// CurrentSnapshot is the copy of the current job taken under the cell lock.
type CurrentSnapshot struct {
	ID        string
	Result    string
	Progress  ProgressData
	StartedAt time.Time
}
