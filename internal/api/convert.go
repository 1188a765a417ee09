package api

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"studio/internal/deps"
	"studio/internal/gallery"
	"studio/internal/jobqueue"
	"studio/internal/queuestatus"
	"studio/internal/refresh"
	"studio/internal/sysstats"
)

// FromSnapshot converts a reconciler snapshot into the queue view.
func FromSnapshot(snap queuestatus.Snapshot) QueueView {
	view := QueueView{
		Columns:      append([]string(nil), queuestatus.Columns...),
		Rows:         make([]QueueRow, 0, len(snap.Rows)),
		Counts:       FromCounts(snap.Counts),
		StatsText:    snap.Counts.StatsText(),
		CurrentJobID: snap.CurrentJobID,
		PolledAt:     formatTime(snap.PolledAt),
	}
	for _, row := range snap.Rows {
		view.Rows = append(view.Rows, FromRow(row))
	}
	return view
}

// FromRow converts one queue table row.
func FromRow(row queuestatus.Row) QueueRow {
	return QueueRow{
		ID:            row.ID,
		ShortID:       row.ShortID,
		Type:          row.Type,
		Status:        string(row.Status),
		StatusLabel:   row.Status.Label(),
		QueuePosition: row.QueuePosition,
		Created:       row.Created,
		Started:       row.Started,
		Completed:     row.Completed,
		Elapsed:       row.Elapsed,
		Preview:       row.Preview,
	}
}

// FromCounts converts aggregate counts.
func FromCounts(c queuestatus.Counts) QueueCounts {
	return QueueCounts{Pending: c.Pending, Running: c.Running, Completed: c.Completed}
}

// FromMonitor converts the current-job monitor.
func FromMonitor(m queuestatus.MonitorState) MonitorState {
	return MonitorState{
		Active:  m.Active,
		JobID:   m.JobID,
		Result:  m.Result,
		Preview: m.Preview,
		Desc:    m.Desc,
		HTML:    m.HTML,
		Percent: m.Percent,
	}
}

// FromLayout converts the preview layout.
func FromLayout(l refresh.Layout) LayoutState {
	return LayoutState{
		DisplayTop:           l.DisplayTop,
		TopPreviewVisible:    l.TopPreviewVisible,
		InlinePreviewVisible: l.InlinePreviewVisible,
	}
}

// FromResult converts an action chain result.
func FromResult(res refresh.Result) ActionResponse {
	resp := ActionResponse{
		Action:   string(res.Action),
		Affected: res.Affected,
		Path:     res.Path,
		Queue:    FromSnapshot(res.Queue),
		Monitor:  FromMonitor(res.Monitor),
		Layout:   FromLayout(res.Layout),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if res.EndButton != nil {
		resp.EndButton = &EndButtonState{Label: res.EndButton.Label, Enabled: res.EndButton.Enabled}
	}
	return resp
}

// FromEntries converts the gallery list, numbering entries by position.
func FromEntries(entries []gallery.Entry) GalleryListResponse {
	out := GalleryListResponse{Entries: make([]GalleryEntry, 0, len(entries))}
	for i, entry := range entries {
		out.Entries = append(out.Entries, GalleryEntry{
			Index:         i,
			Prefix:        entry.Prefix,
			ThumbnailPath: entry.ThumbnailPath,
			ModifiedAt:    formatTime(entry.ModTime),
		})
	}
	return out
}

// FromSelection converts a gallery selection.
func FromSelection(sel gallery.Selection) GallerySelection {
	out := GallerySelection{
		Selected:     sel.Selected(),
		Index:        sel.Index,
		Prefix:       sel.Asset.Prefix,
		Found:        sel.Asset.Found,
		VideoPath:    sel.Asset.VideoPath,
		Info:         sel.Asset.Info,
		Message:      sel.Asset.Message,
		VideoVisible: sel.VideoVisible,
		InfoVisible:  sel.InfoVisible,
		SendVisible:  sel.SendVisible,
	}
	return out
}

// FromAsset converts a directly resolved asset.
func FromAsset(asset gallery.Asset) GallerySelection {
	return GallerySelection{
		Selected:     true,
		Prefix:       asset.Prefix,
		Found:        asset.Found,
		VideoPath:    asset.VideoPath,
		Info:         asset.Info,
		Message:      asset.Message,
		VideoVisible: asset.Found,
		InfoVisible:  asset.Found,
		SendVisible:  asset.Found,
	}
}

// FromStats converts a system stats sample.
func FromStats(s sysstats.Stats) SystemStats {
	return SystemStats{
		RAM:          s.RAMText(),
		VRAM:         s.VRAMText(),
		GPU:          s.GPUText(),
		RAMUsed:      s.RAMUsed,
		RAMTotal:     s.RAMTotal,
		VRAMUsed:     s.VRAMUsed,
		VRAMTotal:    s.VRAMTotal,
		GPUPercent:   s.GPUPercent,
		GPUAvailable: s.GPUAvailable,
		SampledAt:    formatTime(s.SampledAt),
	}
}

// FromJob converts a job record.
func FromJob(job jobqueue.Job) Job {
	dto := Job{
		ID:             job.ID,
		GenerationType: job.TypeLabel(),
		Status:         string(job.Status),
		QueuePosition:  job.QueuePosition,
		Thumbnail:      job.Thumbnail,
		CreatedAt:      formatTime(job.CreatedAt),
		Result:         job.Result,
		ErrorMessage:   job.ErrorMessage,
	}
	if job.StartedAt != nil {
		dto.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	if raw := strings.TrimSpace(job.ParamsJSON); raw != "" && json.Valid([]byte(raw)) {
		dto.Params = json.RawMessage(raw)
	}
	return dto
}

// FromJobs converts a slice of job records.
func FromJobs(jobs []*jobqueue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job != nil {
			out = append(out, FromJob(*job))
		}
	}
	return out
}

// ToJobRequest converts an enqueue body into a queue request.
func ToJobRequest(req EnqueueRequest) jobqueue.JobRequest {
	params := strings.TrimSpace(string(req.Params))
	if params == "null" {
		params = ""
	}
	return jobqueue.JobRequest{
		GenerationType: req.GenerationType,
		ParamsJSON:     params,
		Thumbnail:      req.Thumbnail,
	}
}

// FromEvent converts a refresh event for the websocket.
func FromEvent(evt refresh.Event) Event {
	out := Event{
		Sequence:  evt.Sequence,
		Kind:      string(evt.Kind),
		Timestamp: formatTime(evt.Timestamp),
	}
	if evt.Stats != nil {
		s := FromStats(*evt.Stats)
		out.Stats = &s
	}
	if evt.Queue != nil {
		q := FromSnapshot(*evt.Queue)
		out.Queue = &q
	}
	if evt.Monitor != nil {
		m := FromMonitor(*evt.Monitor)
		out.Monitor = &m
	}
	if evt.Layout != nil {
		l := FromLayout(*evt.Layout)
		out.Layout = &l
	}
	return out
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

// MergeQueueStats returns counts for every known status, zero-filled.
func MergeQueueStats(stats map[jobqueue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range jobqueue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// SortedStatusKeys returns the keys of a stats map in lifecycle order.
func SortedStatusKeys(stats map[string]int) []string {
	order := make(map[string]int)
	for i, status := range jobqueue.AllStatuses() {
		order[string(status)] = i
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := order[keys[i]]
		oj, jok := order[keys[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return keys[i] < keys[j]
	})
	return keys
}

// ParseTime parses an API timestamp. Empty or invalid values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
