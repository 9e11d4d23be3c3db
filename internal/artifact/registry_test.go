package artifact

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact(id, path, task string, createdAt time.Time) *Artifact {
	return &Artifact{
		ID:              id,
		Name:            "artifact-" + id,
		Type:            TypeReport,
		Media:           MediaText,
		StoragePath:     path,
		CreatedByTask:   task,
		CreatedByModule: "test",
		CreatedAt:       createdAt,
		Metadata:        Metadata{Description: "desc-" + id},
	}
}

func TestRegisterInsertsAndIndexes(t *testing.T) {
	reg := NewRegistry(nil)
	art := testArtifact("a1", "/tmp/a1.txt", "task-1", time.Now())

	stored, err := reg.Register(art)
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.ID)

	byID, ok := reg.GetByID("a1")
	require.True(t, ok)
	assert.Equal(t, "/tmp/a1.txt", byID.StoragePath)

	byPath, ok := reg.GetByPath("/tmp/a1.txt")
	require.True(t, ok)
	assert.Equal(t, "a1", byPath.ID)

	assert.Len(t, reg.GetByTask("task-1"), 1)
	assert.Len(t, reg.GetByType(TypeReport), 1)
	assert.Len(t, reg.GetByMedia(MediaText), 1)
	assert.Empty(t, reg.GetByTask("task-2"))
}

func TestMergeKeepsFirstIDAndNewerScalars(t *testing.T) {
	reg := NewRegistry(nil)
	t1 := time.Now()
	t2 := t1.Add(time.Minute)

	first := testArtifact("a1", "/tmp/shared.txt", "task-1", t1)
	first.DerivedFrom = []string{"p1"}
	first.Metadata.Custom = map[string]string{"k": "old", "only_first": "yes"}

	second := testArtifact("a2", "/tmp/shared.txt", "task-2", t2)
	second.Name = "newer-name"
	second.Type = TypePlot
	second.DerivedFrom = []string{"p2"}
	second.Metadata.Custom = map[string]string{"k": "new"}

	_, err := reg.Register(first)
	require.NoError(t, err)
	merged, err := reg.Register(second)
	require.NoError(t, err)

	// Stable id, newer wins, lineage unions.
	assert.Equal(t, "a1", merged.ID)
	assert.Equal(t, "newer-name", merged.Name)
	assert.Equal(t, TypePlot, merged.Type)
	assert.Equal(t, "task-2", merged.CreatedByTask)
	assert.ElementsMatch(t, []string{"p1", "p2"}, merged.DerivedFrom)
	assert.Equal(t, "new", merged.Metadata.Custom["k"])
	assert.Equal(t, "yes", merged.Metadata.Custom["only_first"])

	// Only one live entry per path.
	assert.Equal(t, 1, reg.GetStats().Total)
	_, ok := reg.GetByID("a2")
	assert.False(t, ok)
}

func TestMergeOlderRegistrationSecondStillWinsByTimestamp(t *testing.T) {
	reg := NewRegistry(nil)
	t1 := time.Now()

	newer := testArtifact("a1", "/tmp/shared.txt", "task-1", t1.Add(time.Minute))
	older := testArtifact("a2", "/tmp/shared.txt", "task-2", t1)

	_, err := reg.Register(newer)
	require.NoError(t, err)
	merged, err := reg.Register(older)
	require.NoError(t, err)

	// The later CreatedAt is the source regardless of registration order.
	assert.Equal(t, "a1", merged.ID)
	assert.Equal(t, "task-1", merged.CreatedByTask)
}

func TestRegisterBatchMatchesSequentialRegister(t *testing.T) {
	base := time.Now()
	build := func() []*Artifact {
		arts := make([]*Artifact, 0, 6)
		for i := 0; i < 5; i++ {
			arts = append(arts, testArtifact(
				fmt.Sprintf("a%d", i),
				fmt.Sprintf("/tmp/f%d.txt", i),
				"task-1",
				base.Add(time.Duration(i)*time.Second)))
		}
		// A duplicate path exercises merge inside the batch.
		dup := testArtifact("dup", "/tmp/f0.txt", "task-9", base.Add(time.Hour))
		dup.DerivedFrom = []string{"a1"}
		arts = append(arts, dup)
		return arts
	}

	batch := NewRegistry(nil)
	out, err := batch.RegisterBatch(build())
	require.NoError(t, err)
	assert.Len(t, out, 6)

	sequential := NewRegistry(nil)
	for _, art := range build() {
		_, err := sequential.Register(art)
		require.NoError(t, err)
	}

	require.Equal(t, sequential.GetStats().Total, batch.GetStats().Total)
	for _, want := range sequential.GetAll() {
		got, ok := batch.GetByPath(want.StoragePath)
		require.True(t, ok, "missing %s", want.StoragePath)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.CreatedByTask, got.CreatedByTask)
		assert.ElementsMatch(t, want.DerivedFrom, got.DerivedFrom)
	}
}

func TestDiamondLineage(t *testing.T) {
	reg := NewRegistry(nil)
	now := time.Now()

	a := testArtifact("A", "/tmp/a", "t", now)
	b := testArtifact("B", "/tmp/b", "t", now)
	b.DerivedFrom = []string{"A"}
	c := testArtifact("C", "/tmp/c", "t", now)
	c.DerivedFrom = []string{"A"}
	d := testArtifact("D", "/tmp/d", "t", now)
	d.DerivedFrom = []string{"B", "C"}

	for _, art := range []*Artifact{a, b, c, d} {
		_, err := reg.Register(art)
		require.NoError(t, err)
	}

	ids := func(arts []*Artifact) []string {
		out := make([]string, 0, len(arts))
		for _, art := range arts {
			out = append(out, art.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"B", "C"}, ids(reg.GetDescendants("A")))
	assert.ElementsMatch(t, []string{"B", "C"}, ids(reg.GetLineage("D")))
	assert.Empty(t, reg.GetLineage("A"))
	// Descendants are direct only.
	assert.NotContains(t, ids(reg.GetDescendants("A")), "D")
}

func TestLineageSkipsEvictedAncestors(t *testing.T) {
	reg := NewRegistry(nil)
	now := time.Now()
	child := testArtifact("child", "/tmp/child", "t", now)
	child.DerivedFrom = []string{"ghost"}
	_, err := reg.Register(child)
	require.NoError(t, err)
	assert.Empty(t, reg.GetLineage("child"))
}

func TestRemoveAndClear(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Register(testArtifact("a1", "/tmp/a1", "t", time.Now()))
	require.NoError(t, err)

	assert.True(t, reg.Remove("a1"))
	assert.False(t, reg.Remove("a1"))
	_, ok := reg.GetByPath("/tmp/a1")
	assert.False(t, ok)

	_, err = reg.Register(testArtifact("a2", "/tmp/a2", "t", time.Now()))
	require.NoError(t, err)
	reg.Clear()
	assert.Equal(t, 0, reg.GetStats().Total)
	assert.Empty(t, reg.GetAll())
}

func TestConcurrentBatchRegistrationNoLostUpdates(t *testing.T) {
	reg := NewRegistry(nil)
	const workers = 10
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			arts := make([]*Artifact, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				arts = append(arts, testArtifact(id, "/tmp/"+id, "t", time.Now()))
			}
			_, err := reg.RegisterBatch(arts)
			assert.NoError(t, err)
		}()
	}

	// Concurrent readers must never observe a partial entry.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				for _, art := range reg.GetAll() {
					assert.NotEmpty(t, art.ID)
					assert.NotEmpty(t, art.StoragePath)
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	assert.Equal(t, workers*perWorker, reg.GetStats().Total)
	assert.Len(t, reg.GetAll(), workers*perWorker)
}

func TestReferencesScoreNewestFirst(t *testing.T) {
	now := time.Now()
	arts := []*Artifact{
		testArtifact("old", "/tmp/old", "t", now.Add(-time.Hour)),
		testArtifact("new", "/tmp/new", "t", now),
	}
	refs := References(arts)
	require.Len(t, refs, 2)
	assert.Equal(t, "new", refs[0].ID)
	require.NotNil(t, refs[0].Relevance)
	require.NotNil(t, refs[1].Relevance)
	assert.Greater(t, *refs[0].Relevance, *refs[1].Relevance)
	assert.LessOrEqual(t, *refs[0].Relevance, 1.0)
	assert.GreaterOrEqual(t, *refs[1].Relevance, 0.0)
}

func TestGetAllReturnsCopies(t *testing.T) {
	reg := NewRegistry(nil)
	src := testArtifact("a1", "/tmp/a1", "t", time.Now())
	src.Metadata.Custom = map[string]string{"k": "v"}
	_, err := reg.Register(src)
	require.NoError(t, err)

	got := reg.GetAll()[0]
	got.Metadata.Custom["k"] = "mutated"
	got.DerivedFrom = append(got.DerivedFrom, "x")

	fresh, ok := reg.GetByID("a1")
	require.True(t, ok)
	assert.Equal(t, "v", fresh.Metadata.Custom["k"])
	assert.Empty(t, fresh.DerivedFrom)
}
