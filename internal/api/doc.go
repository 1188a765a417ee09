// Package api defines wire-format types and converters for the HTTP API. It
// translates queue snapshots, gallery selections and system stats into
// transport-friendly DTOs that the CLI, the terminal monitor and browser
// clients can render without coupling to internal types.
//
// # Key Types
//
// QueueView: queue table rows, aggregate counts and the toolbar summary.
//
// ActionResponse: the view returned after a mutating queue action, including
// the current-job monitor and preview layout that follow it.
//
// GallerySelection: detail pane state for a chosen output.
//
// Event: websocket push payload mirroring refresh.Event.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Job statuses are exposed as lowercase strings
// with a separate display label. Timestamps use RFC3339 with milliseconds;
// the queue table's clock columns are preformatted local times. Job parameters
// are passed through as json.RawMessage to avoid double-encoding.
package api
