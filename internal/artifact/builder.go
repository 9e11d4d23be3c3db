package artifact

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/sentient-agi/ROMA-sub000/internal/observability"
	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
)

// DefaultPreviewBytes bounds how much file content the builder reads into
// the metadata preview.
const DefaultPreviewBytes = 2048

// BuildRequest describes a file to enrich into an Artifact.
type BuildRequest struct {
	Path            string
	Name            string
	Type            Type
	Description     string
	CreatedByTask   string
	CreatedByModule string
	UsageHints      string
	Custom          map[string]string
	DerivedFrom     []string
}

// Builder enriches produced files into artifact records.
type Builder struct {
	logger       *observability.Logger
	previewBytes int
	now          func() time.Time
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithPreviewBytes overrides the preview size bound.
func WithPreviewBytes(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.previewBytes = n
		}
	}
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder constructs a Builder.
func NewBuilder(logger *observability.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		logger:       observability.OrNop(logger),
		previewBytes: DefaultPreviewBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the request, inspects the file, and returns a new
// Artifact. Validation failures return a taskerr.ValidationError before any
// filesystem work beyond the existence check.
func (b *Builder) Build(req BuildRequest) (*Artifact, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, taskerr.NewValidation("name", "name is required")
	}
	if err := req.Type.Validate(); err != nil {
		return nil, err
	}
	path, err := normalizePath(req.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, taskerr.NewValidation("storage_path", fmt.Sprintf("path does not exist: %s", path))
	}
	if info.IsDir() {
		return nil, taskerr.NewValidation("storage_path", fmt.Sprintf("path is a directory: %s", path))
	}

	art := &Artifact{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		Type:            req.Type,
		StoragePath:     path,
		CreatedByTask:   req.CreatedByTask,
		CreatedByModule: req.CreatedByModule,
		CreatedAt:       b.now().UTC(),
		Metadata: Metadata{
			Description: strings.TrimSpace(req.Description),
			SizeBytes:   info.Size(),
			UsageHints:  req.UsageHints,
		},
		DerivedFrom: unionLineage(req.DerivedFrom, nil),
	}
	if len(req.Custom) > 0 {
		art.Metadata.Custom = make(map[string]string, len(req.Custom))
		for k, v := range req.Custom {
			art.Metadata.Custom[k] = v
		}
	}

	b.enrich(art)
	return art, nil
}

// enrich fills content-derived metadata. Failures here degrade the record
// instead of failing the build.
func (b *Builder) enrich(art *Artifact) {
	mtype, err := mimetype.DetectFile(art.StoragePath)
	if err != nil {
		b.logger.Warn("media detection failed", "path", art.StoragePath, "error", err)
		art.Media = MediaFile
	} else {
		art.Metadata.MimeType = mtype.String()
		art.Media = mediaFromMime(mtype.String())
	}

	if art.Media == MediaText {
		if preview, err := readPreview(art.StoragePath, b.previewBytes); err == nil {
			art.Metadata.Preview = preview
		} else {
			b.logger.Warn("preview read failed", "path", art.StoragePath, "error", err)
		}
	}

	if isTabular(art.StoragePath, art.Metadata.MimeType) {
		if rows, cols, schema, err := inspectCSV(art.StoragePath); err == nil {
			art.Metadata.RowCount = &rows
			art.Metadata.ColumnCount = &cols
			art.Metadata.Schema = schema
		} else {
			b.logger.Warn("tabular inspection failed", "path", art.StoragePath, "error", err)
		}
	}
}

// normalizePath enforces the storage-path contract: absolute, cleaned, and
// free of parent traversal. The returned value is the registry dedup key.
func normalizePath(raw string) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", taskerr.NewValidation("storage_path", "storage path is required")
	}
	if strings.Contains(path, "..") {
		return "", taskerr.NewValidation("storage_path", "storage path must not contain parent traversal")
	}
	if !filepath.IsAbs(path) {
		return "", taskerr.NewValidation("storage_path", fmt.Sprintf("storage path must be absolute: %s", path))
	}
	return filepath.Clean(path), nil
}

func mediaFromMime(mime string) MediaType {
	base := mime
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	switch {
	case strings.HasPrefix(base, "text/"),
		base == "application/json",
		base == "application/xml",
		base == "application/x-ndjson",
		strings.HasSuffix(base, "+json"),
		strings.HasSuffix(base, "+xml"):
		return MediaText
	case strings.HasPrefix(base, "image/"):
		return MediaImage
	case strings.HasPrefix(base, "audio/"):
		return MediaAudio
	case strings.HasPrefix(base, "video/"):
		return MediaVideo
	default:
		return MediaFile
	}
}

func readPreview(path string, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}
	preview := string(buf[:n])
	// Chop a trailing partial rune left by the byte cut.
	for len(preview) > 0 && !utf8.ValidString(preview) {
		preview = preview[:len(preview)-1]
	}
	return preview, nil
}

func isTabular(path, mime string) bool {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return true
	}
	return strings.HasPrefix(mime, "text/csv")
}

// inspectCSV counts data rows and columns and captures the header as schema.
func inspectCSV(path string) (rows, cols int, schema []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if first {
			first = false
			schema = splitCSVHeader(line)
			cols = len(schema)
			continue
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, nil, err
	}
	return rows, cols, schema, nil
}

func splitCSVHeader(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return out
}
