// Package artifact implements the deduplicated artifact catalogue: records
// describing files produced during an execution, their provenance, and the
// registry that stores and indexes them.
package artifact

import (
	"time"

	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
)

// Type is the semantic category of an artifact.
type Type string

const (
	TypeDataFetch Type = "data_fetch"
	TypeReport    Type = "report"
	TypePlot      Type = "plot"
	TypeCode      Type = "code"
	TypeAnalysis  Type = "analysis"
	TypeFile      Type = "file"
)

// KnownTypes lists every accepted semantic category.
func KnownTypes() []Type {
	return []Type{TypeDataFetch, TypeReport, TypePlot, TypeCode, TypeAnalysis, TypeFile}
}

// Validate rejects unknown semantic categories.
func (t Type) Validate() error {
	for _, known := range KnownTypes() {
		if t == known {
			return nil
		}
	}
	return taskerr.NewValidation("artifact_type", "unknown artifact type: "+string(t))
}

// MediaType is the broad content class derived from inspecting the file.
type MediaType string

const (
	MediaText  MediaType = "text"
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaFile  MediaType = "file"
)

// Metadata carries the enrichment attached to an artifact by the builder.
type Metadata struct {
	Description string            `json:"description"`
	MimeType    string            `json:"mime_type,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	RowCount    *int              `json:"row_count,omitempty"`
	ColumnCount *int              `json:"column_count,omitempty"`
	Schema      []string          `json:"schema,omitempty"`
	Preview     string            `json:"preview,omitempty"`
	UsageHints  string            `json:"usage_hints,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// Artifact is one catalogue entry. Instances stored in the registry are
// treated as immutable; every change constructs a new value.
type Artifact struct {
	ID              string    `json:"artifact_id"`
	Name            string    `json:"name"`
	Type            Type      `json:"artifact_type"`
	Media           MediaType `json:"media_type"`
	StoragePath     string    `json:"storage_path"`
	CreatedByTask   string    `json:"created_by_task"`
	CreatedByModule string    `json:"created_by_module"`
	CreatedAt       time.Time `json:"created_at"`
	Metadata        Metadata  `json:"metadata"`
	DerivedFrom     []string  `json:"derived_from,omitempty"`
}

// Reference is the slim projection injected into role context.
type Reference struct {
	ID            string   `json:"artifact_id"`
	Name          string   `json:"name"`
	Type          Type     `json:"artifact_type"`
	Path          string   `json:"storage_path"`
	Description   string   `json:"description"`
	CreatedByTask string   `json:"created_by_task"`
	Relevance     *float64 `json:"relevance,omitempty"`
}

// Summary is the flat record returned to callers and tool collaborators.
type Summary struct {
	ID          string    `json:"artifact_id"`
	Name        string    `json:"name"`
	Type        Type      `json:"artifact_type"`
	Media       MediaType `json:"media_type"`
	Path        string    `json:"storage_path"`
	Creator     string    `json:"creator"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
}

// Ref projects the artifact into a context-injectable reference.
func (a *Artifact) Ref() Reference {
	return Reference{
		ID:            a.ID,
		Name:          a.Name,
		Type:          a.Type,
		Path:          a.StoragePath,
		Description:   a.Metadata.Description,
		CreatedByTask: a.CreatedByTask,
	}
}

// Summarize projects the artifact into the caller-facing flat record.
func (a *Artifact) Summarize() Summary {
	creator := a.CreatedByModule
	if a.CreatedByTask != "" {
		creator = a.CreatedByModule + "/" + a.CreatedByTask
	}
	return Summary{
		ID:          a.ID,
		Name:        a.Name,
		Type:        a.Type,
		Media:       a.Media,
		Path:        a.StoragePath,
		Creator:     creator,
		CreatedAt:   a.CreatedAt,
		Description: a.Metadata.Description,
	}
}

// clone returns a deep copy so registry snapshots never alias caller memory.
func (a *Artifact) clone() *Artifact {
	cp := *a
	cp.DerivedFrom = append([]string(nil), a.DerivedFrom...)
	cp.Metadata.Schema = append([]string(nil), a.Metadata.Schema...)
	if a.Metadata.Custom != nil {
		cp.Metadata.Custom = make(map[string]string, len(a.Metadata.Custom))
		for k, v := range a.Metadata.Custom {
			cp.Metadata.Custom[k] = v
		}
	}
	if a.Metadata.RowCount != nil {
		rc := *a.Metadata.RowCount
		cp.Metadata.RowCount = &rc
	}
	if a.Metadata.ColumnCount != nil {
		cc := *a.Metadata.ColumnCount
		cp.Metadata.ColumnCount = &cc
	}
	return &cp
}

// merge combines two artifacts that share a storage path. The artifact with
// the later CreatedAt acts as source and supplies every scalar field; the
// result keeps existing.ID so issued references stay valid, unions custom
// metadata with source winning key conflicts, and unions lineage from both.
func merge(existing, incoming *Artifact) *Artifact {
	source, other := incoming, existing
	if existing.CreatedAt.After(incoming.CreatedAt) {
		source, other = existing, incoming
	}

	merged := source.clone()
	merged.ID = existing.ID

	if merged.Metadata.Custom == nil && len(other.Metadata.Custom) > 0 {
		merged.Metadata.Custom = make(map[string]string, len(other.Metadata.Custom))
	}
	for k, v := range other.Metadata.Custom {
		if _, taken := merged.Metadata.Custom[k]; !taken {
			merged.Metadata.Custom[k] = v
		}
	}

	merged.DerivedFrom = unionLineage(source.DerivedFrom, other.DerivedFrom)
	return merged
}

func unionLineage(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
