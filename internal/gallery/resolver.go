package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"studio/internal/config"
	"studio/internal/logging"
)

const (
	videoExt     = ".mp4"
	thumbnailExt = ".png"
	metadataExt  = ".json"
	combinedTag  = "combined"

	// NotFoundMessage is shown in place of the generation info when the
	// video or its metadata is missing.
	NotFoundMessage = "Video or JSON not found."
)

// Entry is one logical generation in the output browser.
type Entry struct {
	// ThumbnailPath is the metadata-directory png that defines the entry.
	ThumbnailPath string
	Prefix        string
	// ModTime is the newest modification time among the matching videos.
	ModTime time.Time
}

// Asset is a prefix resolved to its latest video and pretty-printed metadata.
type Asset struct {
	Prefix    string
	VideoPath string
	Info      string
	Found     bool
	// Message carries the placeholder text when Found is false.
	Message string
}

// Resolver scans the output and metadata directories.
type Resolver struct {
	videoDir    string
	metadataDir string
	logger      *slog.Logger
}

// NewResolver constructs a resolver over explicit directories.
func NewResolver(videoDir, metadataDir string, logger *slog.Logger) *Resolver {
	return &Resolver{
		videoDir:    videoDir,
		metadataDir: metadataDir,
		logger:      logging.NewComponentLogger(logger, "gallery"),
	}
}

// NewResolverFromConfig uses the configured output and metadata directories.
func NewResolverFromConfig(cfg *config.Config, logger *slog.Logger) *Resolver {
	return NewResolver(cfg.Paths.OutputDir, cfg.Paths.MetadataDir, logger)
}

// ListEntries returns every generation that has at least one rendered video,
// newest first. A missing metadata directory yields an empty list.
func (r *Resolver) ListEntries(ctx context.Context) ([]Entry, error) {
	metaEntries, err := os.ReadDir(r.metadataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Info("metadata directory missing; gallery empty", logging.String("path", r.metadataDir))
		} else {
			logging.WarnWithContext(r.logger, "metadata directory unreadable; gallery empty", "gallery_scan_failed",
				logging.String("path", r.metadataDir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on paths.metadata_dir"),
			)
		}
		return []Entry{}, nil
	}

	videos := r.listVideos()
	mtimes := make(map[string]time.Time, len(videos))
	statVideo := func(name string) (time.Time, bool) {
		if t, ok := mtimes[name]; ok {
			return t, !t.IsZero()
		}
		info, err := os.Stat(filepath.Join(r.videoDir, name))
		if err != nil || !info.Mode().IsRegular() {
			mtimes[name] = time.Time{}
			return time.Time{}, false
		}
		mtimes[name] = info.ModTime()
		return info.ModTime(), true
	}

	entries := make([]Entry, 0, len(metaEntries))
	for _, item := range metaEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := item.Name()
		if item.IsDir() || !strings.HasSuffix(name, thumbnailExt) {
			continue
		}
		prefix := strings.TrimSuffix(name, thumbnailExt)
		var newest time.Time
		for _, video := range videos {
			if !strings.HasPrefix(video, prefix) {
				continue
			}
			if mtime, ok := statVideo(video); ok && mtime.After(newest) {
				newest = mtime
			}
		}
		if newest.IsZero() {
			continue
		}
		entries = append(entries, Entry{
			ThumbnailPath: filepath.Join(r.metadataDir, name),
			Prefix:        prefix,
			ModTime:       newest,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Prefix < entries[j].Prefix
	})
	r.logger.Debug("gallery scanned", logging.Int("entries", len(entries)), logging.Int("videos", len(videos)))
	return entries, nil
}

// listVideos returns the .mp4 filenames in the video directory. It is read
// once per ListEntries call.
func (r *Resolver) listVideos() []string {
	items, err := os.ReadDir(r.videoDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("output directory unreadable",
				logging.String("path", r.videoDir),
				logging.Error(err),
				logging.String(logging.FieldEventType, "gallery_scan_failed"),
			)
		}
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsDir() && strings.HasSuffix(item.Name(), videoExt) {
			names = append(names, item.Name())
		}
	}
	return names
}

// LatestVideo returns the filename of the highest numbered {prefix}_{N}.mp4,
// skipping combined outputs. It returns "" when no numbered variant exists.
func (r *Resolver) LatestVideo(prefix string) string {
	items, err := os.ReadDir(r.videoDir)
	if err != nil {
		return ""
	}
	stem := prefix + "_"
	best, selected := -1, ""
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, videoExt) {
			continue
		}
		if strings.Contains(name, combinedTag) {
			continue
		}
		n, ok := parseVersion(strings.TrimSuffix(strings.TrimPrefix(name, stem), videoExt))
		if ok && n > best {
			best, selected = n, name
		}
	}
	return selected
}

func parseVersion(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ResolveAsset resolves prefix to its latest video and metadata. A missing
// video or metadata file is reported through Asset.Found; malformed metadata
// is returned as an error.
func (r *Resolver) ResolveAsset(ctx context.Context, prefix string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	asset := Asset{Prefix: prefix}
	if strings.TrimSpace(prefix) == "" || strings.ContainsAny(prefix, `/\`) {
		asset.Message = NotFoundMessage
		return asset, nil
	}

	videoFile := r.LatestVideo(prefix)
	if videoFile == "" {
		videoFile = prefix + videoExt
	}
	videoPath := filepath.Join(r.videoDir, videoFile)
	jsonPath := filepath.Join(r.metadataDir, prefix+metadataExt)
	if !fileExists(videoPath) || !fileExists(jsonPath) {
		asset.Message = NotFoundMessage
		return asset, nil
	}

	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return Asset{}, fmt.Errorf("read metadata %s: %w", filepath.Base(jsonPath), err)
	}
	info, err := prettyJSON(raw)
	if err != nil {
		return Asset{}, fmt.Errorf("parse metadata %s: %w", filepath.Base(jsonPath), err)
	}

	asset.VideoPath = videoPath
	asset.Info = info
	asset.Found = true
	return asset, nil
}

// prettyJSON re-serialises raw with two-space indentation, keeping the
// original key order. Non-ASCII and HTML characters are written as-is.
func prettyJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var buf bytes.Buffer
	if err := writeIndented(dec, &buf, 0); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", errors.New("unexpected data after top-level value")
	}
	return buf.String(), nil
}

func writeIndented(dec *json.Decoder, buf *bytes.Buffer, depth int) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		open, closing := byte(v), byte('}')
		if v == '[' {
			closing = ']'
		}
		buf.WriteByte(open)
		empty := true
		for dec.More() {
			if !empty {
				buf.WriteByte(',')
			}
			empty = false
			newline(buf, depth+1)
			if open == '{' {
				key, err := dec.Token()
				if err != nil {
					return err
				}
				if err := writeString(buf, key.(string)); err != nil {
					return err
				}
				buf.WriteString(": ")
			}
			if err := writeIndented(dec, buf, depth+1); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
		if !empty {
			newline(buf, depth)
		}
		buf.WriteByte(closing)
	case string:
		return writeString(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(unescapeLineSeparators(bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))))
	return nil
}

// unescapeLineSeparators restores U+2028 and U+2029, which encoding/json
// escapes even with HTML escaping off. A \u that follows an escaped
// backslash is literal text and stays as is.
func unescapeLineSeparators(encoded []byte) []byte {
	if !bytes.Contains(encoded, []byte(`\u202`)) {
		return encoded
	}
	out := make([]byte, 0, len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c != '\\' || i+1 >= len(encoded) {
			out = append(out, c)
			continue
		}
		if encoded[i+1] != 'u' {
			out = append(out, c, encoded[i+1])
			i++
			continue
		}
		switch string(encoded[i+2 : min(i+6, len(encoded))]) {
		case "2028":
			out = append(out, "\u2028"...)
			i += 5
		case "2029":
			out = append(out, "\u2029"...)
			i += 5
		default:
			out = append(out, c)
		}
	}
	return out
}

func newline(buf *bytes.Buffer, depth int) {
	buf.WriteByte('\n')
	buf.WriteString(strings.Repeat("  ", depth))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
