package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"studio/internal/api"
	"studio/internal/jobqueue"
	"studio/internal/refresh"
)

var queueTableHeaders = []string{"Job ID", "Type", "Status", "Created", "Started", "Completed", "Elapsed", "Preview"}

// buildQueueStatusRows lists non-zero counts in lifecycle order.
func buildQueueStatusRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, key := range api.SortedStatusKeys(stats) {
		if stats[key] == 0 {
			continue
		}
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildQueueViewRows(view *api.QueueView, statuses []string) [][]string {
	if view == nil {
		return nil
	}
	keep := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		keep[strings.ToLower(strings.TrimSpace(s))] = true
	}
	rows := make([][]string, 0, len(view.Rows))
	for _, row := range view.Rows {
		if len(keep) > 0 && !keep[row.Status] {
			continue
		}
		status := row.StatusLabel
		if row.QueuePosition > 0 {
			status = fmt.Sprintf("%s #%d", status, row.QueuePosition)
		}
		preview := "-"
		if row.Preview != "" {
			preview = "yes"
		}
		rows = append(rows, []string{
			row.ShortID,
			row.Type,
			status,
			row.Created,
			row.Started,
			row.Completed,
			row.Elapsed,
			preview,
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	if parsed, ok := jobqueue.ParseStatus(status); ok {
		return parsed.Label()
	}
	return strings.TrimSpace(status)
}

func formatDisplayTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return strings.TrimSpace(value)
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func jobDetailPairs(job *api.Job) []keyValue {
	pairs := []keyValue{
		{"ID", job.ID},
		{"Type", job.GenerationType},
		{"Status", formatStatusLabel(job.Status)},
	}
	if job.QueuePosition > 0 {
		pairs = append(pairs, keyValue{"Queue position", fmt.Sprintf("%d", job.QueuePosition)})
	}
	pairs = append(pairs,
		keyValue{"Created", formatDisplayTime(job.CreatedAt)},
		keyValue{"Started", formatDisplayTime(job.StartedAt)},
		keyValue{"Completed", formatDisplayTime(job.CompletedAt)},
		keyValue{"Result", job.Result},
		keyValue{"Error", job.ErrorMessage},
		keyValue{"Thumbnail", job.Thumbnail},
	)
	return pairs
}

func indentParams(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// actionSummary is the one-line outcome of a queue action.
func actionSummary(resp *api.ActionResponse) string {
	if resp == nil {
		return ""
	}
	switch refresh.Action(resp.Action) {
	case refresh.ActionClearQueue:
		return fmt.Sprintf("Cancelled %d pending jobs", resp.Affected)
	case refresh.ActionClearCompleted:
		return fmt.Sprintf("Removed %d finished jobs", resp.Affected)
	case refresh.ActionLoad, refresh.ActionImport:
		return fmt.Sprintf("Loaded %d jobs", resp.Affected)
	case refresh.ActionExport:
		return fmt.Sprintf("Exported queue to %s", resp.Path)
	case refresh.ActionEndProcess:
		if resp.Affected == 0 {
			return "No job is running"
		}
		if resp.EndButton != nil && resp.EndButton.Label != "" {
			return resp.EndButton.Label
		}
		return refresh.CancellingLabel
	default:
		return resp.Action
	}
}
