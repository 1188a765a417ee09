package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueRow is one line of the queue table.
type QueueRow struct {
	ID            string `json:"id"`
	ShortID       string `json:"shortId"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	StatusLabel   string `json:"statusLabel"`
	QueuePosition int    `json:"queuePosition,omitempty"`
	Created       string `json:"created"`
	Started       string `json:"started"`
	Completed     string `json:"completed"`
	Elapsed       string `json:"elapsed"`
	Preview       string `json:"preview"`
}

// QueueCounts aggregates jobs by status.
type QueueCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
}

// QueueView is the polled queue table.
type QueueView struct {
	Columns      []string    `json:"columns"`
	Rows         []QueueRow  `json:"rows"`
	Counts       QueueCounts `json:"counts"`
	StatsText    string      `json:"statsText"`
	CurrentJobID string      `json:"currentJobId,omitempty"`
	PolledAt     string      `json:"polledAt,omitempty"`
}

// MonitorState is the in-progress monitor for the current job.
type MonitorState struct {
	Active  bool    `json:"active"`
	JobID   string  `json:"jobId,omitempty"`
	Result  string  `json:"result,omitempty"`
	Preview string  `json:"preview,omitempty"`
	Desc    string  `json:"desc"`
	HTML    string  `json:"html"`
	Percent float64 `json:"percent"`
}

// LayoutState says which preview location is active.
type LayoutState struct {
	DisplayTop           bool `json:"displayTop"`
	TopPreviewVisible    bool `json:"topPreviewVisible"`
	InlinePreviewVisible bool `json:"inlinePreviewVisible"`
}

// EndButtonState is the end-process control after an action.
type EndButtonState struct {
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// ActionResponse is returned by every mutating queue endpoint.
type ActionResponse struct {
	Action    string          `json:"action"`
	Affected  int             `json:"affected"`
	Path      string          `json:"path,omitempty"`
	Error     string          `json:"error,omitempty"`
	Queue     QueueView       `json:"queue"`
	Monitor   MonitorState    `json:"monitor"`
	Layout    LayoutState     `json:"layout"`
	EndButton *EndButtonState `json:"endButton,omitempty"`
}

// GalleryEntry is one output in the gallery list.
type GalleryEntry struct {
	Index         int    `json:"index"`
	Prefix        string `json:"prefix"`
	ThumbnailPath string `json:"thumbnailPath"`
	ModifiedAt    string `json:"modifiedAt"`
}

// GalleryListResponse wraps the gallery list.
type GalleryListResponse struct {
	Entries []GalleryEntry `json:"entries"`
}

// GallerySelection is the detail pane for a selected output.
type GallerySelection struct {
	Selected     bool   `json:"selected"`
	Index        *int   `json:"index,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	Found        bool   `json:"found"`
	VideoPath    string `json:"videoPath,omitempty"`
	Info         string `json:"info,omitempty"`
	Message      string `json:"message,omitempty"`
	VideoVisible bool   `json:"videoVisible"`
	InfoVisible  bool   `json:"infoVisible"`
	SendVisible  bool   `json:"sendVisible"`
}

// SystemStats is the toolbar resource summary.
type SystemStats struct {
	RAM          string `json:"ram"`
	VRAM         string `json:"vram"`
	GPU          string `json:"gpu"`
	RAMUsed      uint64 `json:"ramUsedBytes,omitempty"`
	RAMTotal     uint64 `json:"ramTotalBytes,omitempty"`
	VRAMUsed     uint64 `json:"vramUsedBytes,omitempty"`
	VRAMTotal    uint64 `json:"vramTotalBytes,omitempty"`
	GPUPercent   int    `json:"gpuPercent,omitempty"`
	GPUAvailable bool   `json:"gpuAvailable"`
	SampledAt    string `json:"sampledAt,omitempty"`
}

// Job is the full record of a queued job.
type Job struct {
	ID             string          `json:"id"`
	GenerationType string          `json:"generationType"`
	Status         string          `json:"status"`
	QueuePosition  int             `json:"queuePosition,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Thumbnail      string          `json:"thumbnail,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	StartedAt      string          `json:"startedAt,omitempty"`
	CompletedAt    string          `json:"completedAt,omitempty"`
	Result         string          `json:"result,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// EnqueueRequest is the body of POST /api/jobs.
type EnqueueRequest struct {
	GenerationType string          `json:"generationType"`
	Params         json.RawMessage `json:"params"`
	Thumbnail      string          `json:"thumbnail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	QueueDBPath   string             `json:"queueDbPath"`
	LockFilePath  string             `json:"lockFilePath"`
	RunnerEnabled bool               `json:"runnerEnabled"`
	CurrentJobID  string             `json:"currentJobId,omitempty"`
	QueueStats    map[string]int     `json:"queueStats"`
	Subscribers   int                `json:"subscribers"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}

// Event is a websocket push payload.
type Event struct {
	Sequence  uint64        `json:"seq"`
	Kind      string        `json:"kind"`
	Timestamp string        `json:"ts"`
	Stats     *SystemStats  `json:"stats,omitempty"`
	Queue     *QueueView    `json:"queue,omitempty"`
	Monitor   *MonitorState `json:"monitor,omitempty"`
	Layout    *LayoutState  `json:"layout,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DependencySummary aggregates dependency readiness for status output.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}
