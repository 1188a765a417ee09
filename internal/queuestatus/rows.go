package queuestatus

import (
	"fmt"
	"html"
	"time"

	"studio/internal/jobqueue"
)

const (
	clockLayout  = "15:04:05"
	shortIDLen   = 6
	runningLabel = " (running)"
)

// Row is one line of the queue table.
type Row struct {
	ID            string
	ShortID       string
	Type          string
	Status        jobqueue.Status
	QueuePosition int
	Created       string
	Started       string
	Completed     string
	Elapsed       string
	// Preview is inline <img> markup for the thumbnail, empty without one.
	Preview string
}

// Columns are the queue table headers in display order.
var Columns = []string{"Job ID", "Type", "Status", "Created", "Started", "Completed", "Elapsed", "Preview"}

func (r *Reconciler) row(job jobqueue.Job, now time.Time) Row {
	return Row{
		ID:            job.ID,
		ShortID:       ShortID(job.ID),
		Type:          job.TypeLabel(),
		Status:        job.Status,
		QueuePosition: job.QueuePosition,
		Created:       r.clock(&job.CreatedAt),
		Started:       r.clock(job.StartedAt),
		Completed:     r.clock(job.CompletedAt),
		Elapsed:       Elapsed(job.StartedAt, job.CompletedAt, now),
		Preview:       PreviewHTML(job.Thumbnail),
	}
}

func (r *Reconciler) clock(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(r.location).Format(clockLayout)
}

// ShortID truncates id to six characters followed by "...".
func ShortID(id string) string {
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	return id + "..."
}

// Elapsed formats (completed or now) - started with two decimals. Jobs that
// have not completed get a " (running)" suffix; unstarted jobs yield "".
func Elapsed(started, completed *time.Time, now time.Time) string {
	if started == nil || started.IsZero() {
		return ""
	}
	end, suffix := now, runningLabel
	if completed != nil && !completed.IsZero() {
		end, suffix = *completed, ""
	}
	seconds := float64(end.Sub(*started)) / float64(time.Second)
	return fmt.Sprintf("%.2fs%s", seconds, suffix)
}

// PreviewHTML renders the 64px thumbnail cell.
func PreviewHTML(thumbnail string) string {
	if thumbnail == "" {
		return ""
	}
	return fmt.Sprintf(`<img src="%s" width="64" height="64" style="object-fit: contain;">`, html.EscapeString(thumbnail))
}
