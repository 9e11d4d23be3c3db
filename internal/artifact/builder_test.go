package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildValidation(t *testing.T) {
	dir := t.TempDir()
	existing := writeFile(t, dir, "ok.txt", "hello")
	builder := NewBuilder(nil)

	cases := []struct {
		name string
		req  BuildRequest
	}{
		{"empty name", BuildRequest{Path: existing, Type: TypeReport}},
		{"unknown type", BuildRequest{Path: existing, Name: "x", Type: Type("bogus")}},
		{"empty path", BuildRequest{Name: "x", Type: TypeReport}},
		{"relative path", BuildRequest{Path: "relative/file.txt", Name: "x", Type: TypeReport}},
		{"traversal", BuildRequest{Path: dir + "/../escape.txt", Name: "x", Type: TypeReport}},
		{"missing file", BuildRequest{Path: filepath.Join(dir, "missing.txt"), Name: "x", Type: TypeReport}},
		{"directory", BuildRequest{Path: dir, Name: "x", Type: TypeReport}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builder.Build(tc.req)
			require.Error(t, err)
			assert.True(t, taskerr.IsValidation(err), "want validation error, got %v", err)
		})
	}
}

func TestBuildEnrichesTextFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "plain text artifact body")

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	builder := NewBuilder(nil, WithClock(func() time.Time { return fixed }))

	art, err := builder.Build(BuildRequest{
		Path:            path,
		Name:            "notes",
		Type:            TypeReport,
		Description:     "  some notes  ",
		CreatedByTask:   "task-1",
		CreatedByModule: "executor",
		DerivedFrom:     []string{"p1", "p1", ""},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, art.ID)
	assert.Equal(t, fixed, art.CreatedAt)
	assert.Equal(t, MediaText, art.Media)
	assert.Equal(t, "some notes", art.Metadata.Description)
	assert.Equal(t, int64(len("plain text artifact body")), art.Metadata.SizeBytes)
	assert.Contains(t, art.Metadata.Preview, "plain text")
	// Lineage is deduplicated and blank-free.
	assert.Equal(t, []string{"p1"}, art.DerivedFrom)
}

func TestBuildPreviewBounded(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.txt", strings.Repeat("a", 10_000))

	builder := NewBuilder(nil, WithPreviewBytes(100))
	art, err := builder.Build(BuildRequest{Path: path, Name: "big", Type: TypeReport})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(art.Metadata.Preview), 100)
}

func TestBuildInspectsCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.csv", "city,population\nparis,2100000\nlyon,520000\n")

	builder := NewBuilder(nil)
	art, err := builder.Build(BuildRequest{Path: path, Name: "data", Type: TypeDataFetch})
	require.NoError(t, err)

	require.NotNil(t, art.Metadata.RowCount)
	require.NotNil(t, art.Metadata.ColumnCount)
	assert.Equal(t, 2, *art.Metadata.RowCount)
	assert.Equal(t, 2, *art.Metadata.ColumnCount)
	assert.Equal(t, []string{"city", "population"}, art.Metadata.Schema)
}

func TestBuildDetectsBinaryAsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, 0o644))

	builder := NewBuilder(nil)
	art, err := builder.Build(BuildRequest{Path: path, Name: "blob", Type: TypeFile})
	require.NoError(t, err)
	assert.Equal(t, MediaFile, art.Media)
	assert.Empty(t, art.Metadata.Preview)
}

func TestNormalizePathCleans(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.txt", "x")
	messy := filepath.Join(dir, ".", "f.txt")

	builder := NewBuilder(nil)
	art, err := builder.Build(BuildRequest{Path: messy, Name: "f", Type: TypeFile})
	require.NoError(t, err)
	assert.Equal(t, path, art.StoragePath)
}
