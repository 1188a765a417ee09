package jobqueue

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio/internal/logging"
)

const (
	queueFileVersion = 1
	queueFileName    = "queue.json"
	imagesDir        = "images"
	maxImportEntry   = 64 << 20
)

type queueFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Jobs    []fileJob `json:"jobs"`
}

type fileJob struct {
	ID             string          `json:"id"`
	GenerationType string          `json:"generation_type,omitempty"`
	Status         string          `json:"status"`
	Params         json.RawMessage `json:"params,omitempty"`
	Thumbnail      string          `json:"thumbnail,omitempty"`
	ThumbnailFile  string          `json:"thumbnail_file,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Result         string          `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// SaveQueueToJSON writes the pending and running jobs to path so a later
// LoadQueueFromJSON can resume them.
func (q *Queue) SaveQueueToJSON(ctx context.Context, target string) error {
	jobs, err := q.store.List(ctx, StatusPending, StatusRunning)
	if err != nil {
		return err
	}
	doc := queueFile{Version: queueFileVersion, SavedAt: time.Now().UTC()}
	for _, job := range jobs {
		doc.Jobs = append(doc.Jobs, toFileJob(job))
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}
	return writeFileAtomic(target, data)
}

// LoadQueueFromJSON imports jobs from a .json queue file or a .zip export.
// An empty path loads the configured resume file; a missing resume file is
// not an error. Jobs whose id already exists are skipped and running jobs are
// requeued as pending. It returns the number of jobs added.
func (q *Queue) LoadQueueFromJSON(ctx context.Context, source string) (int, error) {
	source = strings.TrimSpace(source)
	usingDefault := source == ""
	if usingDefault {
		source = q.stateFile
	}
	if source == "" {
		return 0, errors.New("no queue file given and no resume file configured")
	}

	var (
		doc    queueFile
		images map[string][]byte
		err    error
	)
	switch strings.ToLower(filepath.Ext(source)) {
	case ".json":
		doc, err = readQueueJSON(source)
	case ".zip":
		doc, images, err = readQueueZip(source)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedImport, filepath.Base(source))
	}
	if err != nil {
		if usingDefault && errors.Is(err, fs.ErrNotExist) {
			q.logger.Info("no saved queue to load", logging.String("path", source))
			return 0, nil
		}
		return 0, err
	}

	jobs, err := fromQueueFile(doc, images)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", filepath.Base(source), err)
	}
	added, err := q.store.InsertMany(ctx, jobs)
	if err != nil {
		return 0, err
	}
	q.logger.Info("queue loaded",
		logging.String("path", source),
		logging.Int("jobs_in_file", len(jobs)),
		logging.Int("jobs_added", added),
		logging.String(logging.FieldEventType, "queue_loaded"),
	)
	if added > 0 {
		q.signal()
		q.persistState(ctx)
	}
	return added, nil
}

// ExportQueueToZip writes every job plus its thumbnail images to a timestamped
// zip in the export directory and returns the archive path.
func (q *Queue) ExportQueueToZip(ctx context.Context) (string, error) {
	if q.exportDir == "" {
		return "", errors.New("export directory not configured")
	}
	jobs, err := q.store.List(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(q.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	doc := queueFile{Version: queueFileVersion, SavedAt: time.Now().UTC()}
	for _, job := range jobs {
		entry := toFileJob(job)
		if data, ext, ok := decodeDataURI(job.Thumbnail); ok {
			name := imageEntryName(job.ID, ext)
			w, err := zw.Create(name)
			if err != nil {
				return "", fmt.Errorf("add %s: %w", name, err)
			}
			if _, err := w.Write(data); err != nil {
				return "", fmt.Errorf("write %s: %w", name, err)
			}
			entry.Thumbnail = ""
			entry.ThumbnailFile = name
		}
		doc.Jobs = append(doc.Jobs, entry)
	}
	manifest, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode queue export: %w", err)
	}
	w, err := zw.Create(queueFileName)
	if err != nil {
		return "", fmt.Errorf("add %s: %w", queueFileName, err)
	}
	if _, err := w.Write(manifest); err != nil {
		return "", fmt.Errorf("write %s: %w", queueFileName, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize zip: %w", err)
	}

	target := filepath.Join(q.exportDir, fmt.Sprintf("queue_export_%s.zip", time.Now().Format("20060102_150405")))
	if err := writeFileAtomic(target, buf.Bytes()); err != nil {
		return "", err
	}
	q.logger.Info("queue exported",
		logging.String("path", target),
		logging.Int("jobs", len(jobs)),
		logging.String(logging.FieldEventType, "queue_exported"),
	)
	q.pruneExports(target, time.Now())
	return target, nil
}

func toFileJob(job *Job) fileJob {
	entry := fileJob{
		ID:             job.ID,
		GenerationType: job.GenerationType,
		Status:         string(job.Status),
		Thumbnail:      job.Thumbnail,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		Result:         job.Result,
		Error:          job.ErrorMessage,
	}
	if params := strings.TrimSpace(job.ParamsJSON); params != "" {
		if json.Valid([]byte(params)) {
			entry.Params = json.RawMessage(params)
		} else if encoded, err := json.Marshal(params); err == nil {
			entry.Params = encoded
		}
	}
	return entry
}

func fromQueueFile(doc queueFile, images map[string][]byte) ([]*Job, error) {
	jobs := make([]*Job, 0, len(doc.Jobs))
	for i, entry := range doc.Jobs {
		status, ok := ParseStatus(entry.Status)
		if !ok {
			return nil, fmt.Errorf("job %d: unknown status %q", i+1, entry.Status)
		}
		job := &Job{
			ID:             strings.TrimSpace(entry.ID),
			GenerationType: entry.GenerationType,
			Status:         status,
			Thumbnail:      entry.Thumbnail,
			CreatedAt:      entry.CreatedAt,
			StartedAt:      entry.StartedAt,
			CompletedAt:    entry.CompletedAt,
			Result:         entry.Result,
			ErrorMessage:   entry.Error,
		}
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if len(entry.Params) > 0 {
			job.ParamsJSON = compactParams(entry.Params)
		}
		if job.Thumbnail == "" && entry.ThumbnailFile != "" {
			if data, ok := images[path.Clean(entry.ThumbnailFile)]; ok {
				job.Thumbnail = encodeDataURI(data, path.Ext(entry.ThumbnailFile))
			}
		}
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.StartedAt = nil
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// imageEntryName keeps imported ids from escaping the images directory.
func imageEntryName(id, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if strings.Trim(safe, "_") == "" {
		safe = uuid.NewString()
	}
	return path.Join(imagesDir, safe+ext)
}

// compactParams undoes the indentation applied when the file was written.
// Params stored as a JSON string are unwrapped.
func compactParams(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func readQueueJSON(source string) (queueFile, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return queueFile{}, fmt.Errorf("read queue file: %w", err)
	}
	return decodeQueueFile(data)
}

func readQueueZip(source string) (queueFile, map[string][]byte, error) {
	zr, err := zip.OpenReader(source)
	if err != nil {
		return queueFile{}, nil, fmt.Errorf("open queue archive: %w", err)
	}
	defer zr.Close()

	var (
		manifest []byte
		images   = make(map[string][]byte)
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || f.UncompressedSize64 > maxImportEntry {
			continue
		}
		name := path.Clean(f.Name)
		isManifest := path.Base(name) == queueFileName
		isImage := strings.HasPrefix(name, imagesDir+"/")
		if !isManifest && !isImage {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return queueFile{}, nil, err
		}
		if isManifest {
			manifest = data
		} else {
			images[name] = data
		}
	}
	if manifest == nil {
		return queueFile{}, nil, fmt.Errorf("queue archive %s has no %s", filepath.Base(source), queueFileName)
	}
	doc, err := decodeQueueFile(manifest)
	return doc, images, err
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxImportEntry))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// decodeQueueFile accepts the versioned document or a bare job array.
func decodeQueueFile(data []byte) (queueFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var jobs []fileJob
		if err := json.Unmarshal(trimmed, &jobs); err != nil {
			return queueFile{}, fmt.Errorf("decode queue file: %w", err)
		}
		return queueFile{Version: queueFileVersion, Jobs: jobs}, nil
	}
	var doc queueFile
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return queueFile{}, fmt.Errorf("decode queue file: %w", err)
	}
	return doc, nil
}

func decodeDataURI(value string) ([]byte, string, bool) {
	if !strings.HasPrefix(value, "data:") {
		return nil, "", false
	}
	header, payload, ok := strings.Cut(value[len("data:"):], ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", false
	}
	ext := ".png"
	if exts, err := mime.ExtensionsByType(strings.TrimSuffix(header, ";base64")); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return data, ext, true
}

func encodeDataURI(data []byte, ext string) string {
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "image/png"
	}
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", target, err)
	}
	return nil
}
