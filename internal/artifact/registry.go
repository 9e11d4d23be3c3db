package artifact

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sentient-agi/ROMA-sub000/internal/observability"
	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
)

// Observer receives registry mutation events, typically for metrics.
type Observer interface {
	ArtifactRegistered()
	ArtifactMerged()
}

// Stats summarises registry contents.
type Stats struct {
	Total   int               `json:"total"`
	ByType  map[Type]int      `json:"by_type"`
	ByMedia map[MediaType]int `json:"by_media"`
}

// snapshot is an immutable view of the registry. Readers load the current
// snapshot without locking; writers build a successor and swap it in whole.
type snapshot struct {
	byID   map[string]*Artifact
	byPath map[string]*Artifact
	order  []string // ids in first-registration order
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:   map[string]*Artifact{},
		byPath: map[string]*Artifact{},
	}
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		byID:   make(map[string]*Artifact, len(s.byID)+1),
		byPath: make(map[string]*Artifact, len(s.byPath)+1),
		order:  append([]string(nil), s.order...),
	}
	for id, art := range s.byID {
		next.byID[id] = art
	}
	for path, art := range s.byPath {
		next.byPath[path] = art
	}
	return next
}

// Registry is the deduplicated artifact catalogue for one execution.
// Mutations serialize behind a single lock; reads run lock-free against the
// latest snapshot and never observe a partially constructed entry.
type Registry struct {
	mu       sync.Mutex
	current  atomic.Pointer[snapshot]
	logger   *observability.Logger
	observer Observer
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithObserver wires mutation metrics.
func WithObserver(obs Observer) RegistryOption {
	return func(r *Registry) { r.observer = obs }
}

// NewRegistry constructs an empty registry scoped to one execution.
func NewRegistry(logger *observability.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{logger: observability.OrNop(logger)}
	r.current.Store(emptySnapshot())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts art, or merges it into the entry sharing its storage
// path. The returned artifact is the stored value after dedup.
func (r *Registry) Register(art *Artifact) (*Artifact, error) {
	if art == nil {
		return nil, taskerr.NewValidation("artifact", "artifact is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	stored := r.registerLocked(next, art)
	r.current.Store(next)
	return stored, nil
}

// RegisterBatch registers every artifact in one critical section. The final
// registry state is identical to calling Register sequentially.
func (r *Registry) RegisterBatch(arts []*Artifact) ([]*Artifact, error) {
	if len(arts) == 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	out := make([]*Artifact, 0, len(arts))
	for _, art := range arts {
		if art == nil {
			continue
		}
		out = append(out, r.registerLocked(next, art))
	}
	r.current.Store(next)
	return out, nil
}

// registerLocked applies the dedup contract to a snapshot under the write
// lock: stable id, newer scalars win, lineage unions.
func (r *Registry) registerLocked(s *snapshot, art *Artifact) *Artifact {
	incoming := art.clone()
	existing, ok := s.byPath[incoming.StoragePath]
	if !ok {
		s.byID[incoming.ID] = incoming
		s.byPath[incoming.StoragePath] = incoming
		s.order = append(s.order, incoming.ID)
		if r.observer != nil {
			r.observer.ArtifactRegistered()
		}
		return incoming.clone()
	}

	merged := merge(existing, incoming)
	s.byID[merged.ID] = merged
	s.byPath[merged.StoragePath] = merged
	if r.observer != nil {
		r.observer.ArtifactMerged()
	}
	r.logger.Debug("artifact merged",
		"artifact_id", merged.ID,
		"storage_path", merged.StoragePath)
	return merged.clone()
}

// GetByID returns the artifact with the given id.
func (r *Registry) GetByID(id string) (*Artifact, bool) {
	art, ok := r.current.Load().byID[id]
	if !ok {
		return nil, false
	}
	return art.clone(), true
}

// GetByPath returns the artifact stored under the given normalized path.
func (r *Registry) GetByPath(path string) (*Artifact, bool) {
	art, ok := r.current.Load().byPath[path]
	if !ok {
		return nil, false
	}
	return art.clone(), true
}

// GetByTask returns every artifact created by the given task.
func (r *Registry) GetByTask(taskID string) []*Artifact {
	return r.collect(func(a *Artifact) bool { return a.CreatedByTask == taskID })
}

// GetByType returns every artifact of the given semantic category.
func (r *Registry) GetByType(t Type) []*Artifact {
	return r.collect(func(a *Artifact) bool { return a.Type == t })
}

// GetByMedia returns every artifact of the given media class.
func (r *Registry) GetByMedia(m MediaType) []*Artifact {
	return r.collect(func(a *Artifact) bool { return a.Media == m })
}

// GetAll returns every stored artifact in first-registration order.
func (r *Registry) GetAll() []*Artifact {
	return r.collect(func(*Artifact) bool { return true })
}

func (r *Registry) collect(keep func(*Artifact) bool) []*Artifact {
	s := r.current.Load()
	var out []*Artifact
	for _, id := range s.order {
		art, ok := s.byID[id]
		if !ok || !keep(art) {
			continue
		}
		out = append(out, art.clone())
	}
	return out
}

// GetLineage returns the direct ancestors of id that still resolve.
// Lineage entries pointing at evicted artifacts are skipped silently.
func (r *Registry) GetLineage(id string) []*Artifact {
	s := r.current.Load()
	art, ok := s.byID[id]
	if !ok {
		return nil
	}
	var out []*Artifact
	for _, parentID := range art.DerivedFrom {
		if parent, ok := s.byID[parentID]; ok {
			out = append(out, parent.clone())
		}
	}
	return out
}

// GetDescendants returns every artifact whose lineage names id directly.
// The relation is one hop; callers needing transitive closure walk it.
func (r *Registry) GetDescendants(id string) []*Artifact {
	return r.collect(func(a *Artifact) bool {
		for _, parentID := range a.DerivedFrom {
			if parentID == id {
				return true
			}
		}
		return false
	})
}

// Remove deletes the artifact with the given id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	art, ok := cur.byID[id]
	if !ok {
		return false
	}
	next := cur.clone()
	delete(next.byID, id)
	delete(next.byPath, art.StoragePath)
	for i, oid := range next.order {
		if oid == id {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	r.current.Store(next)
	return true
}

// Clear discards every entry. Used at end-of-execution teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(emptySnapshot())
}

// GetStats returns counts by semantic and media type.
func (r *Registry) GetStats() Stats {
	s := r.current.Load()
	stats := Stats{
		Total:   len(s.order),
		ByType:  map[Type]int{},
		ByMedia: map[MediaType]int{},
	}
	for _, art := range s.byID {
		stats.ByType[art.Type]++
		stats.ByMedia[art.Media]++
	}
	return stats
}

// References projects artifacts into context references, newest first, with
// a recency-derived relevance score in [0,1].
func References(arts []*Artifact) []Reference {
	if len(arts) == 0 {
		return nil
	}
	sorted := append([]*Artifact(nil), arts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	out := make([]Reference, 0, len(sorted))
	for i, art := range sorted {
		ref := art.Ref()
		score := 1.0
		if len(sorted) > 1 {
			score = 1.0 - float64(i)/float64(len(sorted)-1)*0.5
		}
		ref.Relevance = &score
		out = append(out, ref)
	}
	return out
}
