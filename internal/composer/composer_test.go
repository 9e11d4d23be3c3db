package composer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentient-agi/ROMA-sub000/internal/artifact"
	"github.com/sentient-agi/ROMA-sub000/internal/taskgraph"
)

// fixture builds root -> {root.1, root.2(dep root.1)} with artifacts from
// root.1 and from an unrelated task.
type fixture struct {
	root     *taskgraph.TaskDAG
	sub      *taskgraph.TaskDAG
	parent   *taskgraph.TaskNode
	child1   *taskgraph.TaskNode
	child2   *taskgraph.TaskNode
	registry *artifact.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.root = taskgraph.NewDAG("dag-1")
	f.parent = taskgraph.NewNode("root", "parent goal", 0, 3)
	require.NoError(t, f.root.AddNode(f.parent, true))
	require.NoError(t, f.parent.Transition(taskgraph.StatusAtomizing))
	require.NoError(t, f.parent.Transition(taskgraph.StatusPlanning))

	f.sub = taskgraph.NewDAG("sub-root")
	f.child1 = taskgraph.NewNode("root.1", "fetch data", 1, 3)
	f.child1.ParentID = "root"
	f.child2 = taskgraph.NewNode("root.2", "write report", 1, 3)
	f.child2.ParentID = "root"
	f.child2.Dependencies = []string{"root.1"}
	require.NoError(t, f.sub.AddNode(f.child1, true))
	require.NoError(t, f.sub.AddNode(f.child2, true))
	require.NoError(t, f.root.AddSubgraph(f.sub))
	require.NoError(t, f.parent.SetSubgraph("sub-root"))

	f.registry = artifact.NewRegistry(nil)
	now := time.Now()
	for _, spec := range []struct{ id, path, task string }{
		{"art-dep", "/tmp/dep.csv", "root.1"},
		{"art-other", "/tmp/other.txt", "elsewhere"},
	} {
		_, err := f.registry.Register(&artifact.Artifact{
			ID:            spec.id,
			Name:          spec.id,
			Type:          artifact.TypeDataFetch,
			Media:         artifact.MediaText,
			StoragePath:   spec.path,
			CreatedByTask: spec.task,
			CreatedAt:     now,
			Metadata:      artifact.Metadata{Description: "desc " + spec.id},
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) manager(opts Options) *Manager {
	return NewManager(f.root, f.registry, nil, opts)
}

func artifactIDs(refs []artifact.Reference) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.ID)
	}
	return out
}

func TestExecutorContextModeNone(t *testing.T) {
	f := newFixture(t)
	ctx := f.manager(Options{Mode: InjectNone}).BuildExecutorContext(f.child2, InjectNone)
	assert.Empty(t, ctx.Artifacts)
	assert.NotContains(t, ctx.Render(), "<artifact ")
}

func TestExecutorContextModeDependencies(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.child1.Transition(taskgraph.StatusAtomizing))
	require.NoError(t, f.child1.Transition(taskgraph.StatusExecuting))
	require.NoError(t, f.child1.Transition(taskgraph.StatusVerifying))
	require.NoError(t, f.child1.Complete("fetched 42 rows"))

	ctx := f.manager(Options{}).BuildExecutorContext(f.child2, InjectDependencies)

	// Exactly the artifacts created by declared dependencies.
	assert.Equal(t, []string{"art-dep"}, artifactIDs(ctx.Artifacts))
	require.Len(t, ctx.Dependencies, 1)
	assert.Equal(t, "root.1", ctx.Dependencies[0].TaskID)
	assert.Equal(t, "fetched 42 rows", ctx.Dependencies[0].Result)
}

func TestExecutorContextModeFull(t *testing.T) {
	f := newFixture(t)
	ctx := f.manager(Options{}).BuildExecutorContext(f.child2, InjectFull)
	assert.ElementsMatch(t, []string{"art-dep", "art-other"}, artifactIDs(ctx.Artifacts))
}

func TestExecutorContextUnresolvableDependencyDegrades(t *testing.T) {
	f := newFixture(t)
	f.child2.Dependencies = []string{"ghost", "root.1"}
	ctx := f.manager(Options{}).BuildExecutorContext(f.child2, InjectDependencies)
	// The bad reference is skipped, the good one kept.
	require.Len(t, ctx.Dependencies, 1)
	assert.Equal(t, "root.1", ctx.Dependencies[0].TaskID)
}

func TestSubtaskModeTraversesHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := f.manager(Options{Mode: InjectSubtask}).BuildPlannerContext(f.child2, f.sub)
	// Planner artifacts come from the parent task, which produced nothing.
	assert.Empty(t, ctx.Artifacts)

	mgr := f.manager(Options{})
	refs := mgr.BuildExecutorContext(f.parent, InjectSubtask).Artifacts
	// Subtask mode pulls artifacts from the parent's descendants.
	assert.Equal(t, []string{"art-dep"}, artifactIDs(refs))
}

func TestSubtaskModeDegradesWithoutGraph(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(nil, f.registry, nil, Options{})
	ctx := mgr.BuildExecutorContext(f.child2, InjectSubtask)
	assert.Empty(t, ctx.Artifacts)
}

func TestPlannerContextParentAndSiblings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.child1.Transition(taskgraph.StatusAtomizing))
	require.NoError(t, f.child1.Transition(taskgraph.StatusExecuting))
	require.NoError(t, f.child1.Transition(taskgraph.StatusVerifying))
	require.NoError(t, f.child1.Complete("sibling result"))

	ctx := f.manager(Options{}).BuildPlannerContext(f.child2, f.sub)

	require.NotNil(t, ctx.ParentResult)
	assert.Equal(t, "root", ctx.ParentResult.TaskID)
	require.Len(t, ctx.SiblingResults, 1)
	assert.Equal(t, "root.1", ctx.SiblingResults[0].TaskID)
	assert.Equal(t, "sibling result", ctx.SiblingResults[0].Result)
}

func TestAggregatorContextIncludesFailedChildError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.child1.Fail("boom"))

	ctx := f.manager(Options{}).BuildAggregatorContext(f.parent, f.sub)
	require.Len(t, ctx.ChildResults, 2)

	var failed *TaskResult
	for i := range ctx.ChildResults {
		if ctx.ChildResults[i].TaskID == "root.1" {
			failed = &ctx.ChildResults[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "boom", failed.Error)
	assert.Contains(t, ctx.Render(), "<error>boom</error>")
}

func TestAggregatorContextHonorsInjectionMode(t *testing.T) {
	f := newFixture(t)

	ctx := f.manager(Options{Mode: InjectNone}).BuildAggregatorContext(f.parent, f.sub)
	assert.Empty(t, ctx.Artifacts)
	assert.False(t, strings.Contains(ctx.Render(), "<artifact "))

	ctx = f.manager(Options{Mode: InjectDependencies}).BuildAggregatorContext(f.parent, f.sub)
	assert.Equal(t, []string{"art-dep"}, artifactIDs(ctx.Artifacts))

	ctx = f.manager(Options{Mode: InjectFull}).BuildAggregatorContext(f.parent, f.sub)
	assert.ElementsMatch(t, []string{"art-dep", "art-other"}, artifactIDs(ctx.Artifacts))

	ctx = f.manager(Options{Mode: InjectSubtask}).BuildAggregatorContext(f.parent, f.sub)
	assert.Equal(t, []string{"art-dep"}, artifactIDs(ctx.Artifacts))
}

func TestFundamentalLayerRendering(t *testing.T) {
	f := newFixture(t)
	atLimit := taskgraph.NewNode("deep", "g", 3, 3)
	mgr := f.manager(Options{Tools: []ToolInfo{{Name: "search", Description: "web search"}}})
	fixed := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	mgr.WithClock(func() time.Time { return fixed })

	rendered := mgr.BuildAtomizerContext(atLimit).Render()
	assert.Contains(t, rendered, "<current_time>2026-02-14T09:30:00Z</current_time>")
	assert.Contains(t, rendered, `at_limit="true"`)
	assert.Contains(t, rendered, `<tool name="search">web search</tool>`)
	// Fundamental-only roles carry no role block.
	assert.False(t, strings.Contains(rendered, "<atomizer>"))

	// The verifier sees the same fundamental-only envelope.
	assert.Equal(t, rendered, mgr.BuildVerifierContext(atLimit).Render())
}

func TestTokenBudgetTrimsResults(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.child1.Transition(taskgraph.StatusAtomizing))
	require.NoError(t, f.child1.Transition(taskgraph.StatusExecuting))
	require.NoError(t, f.child1.Transition(taskgraph.StatusVerifying))
	require.NoError(t, f.child1.Complete(strings.Repeat("lorem ipsum ", 500)))

	ctx := f.manager(Options{TokenBudget: 20}).BuildExecutorContext(f.child2, InjectDependencies)
	require.Len(t, ctx.Dependencies, 1)
	assert.Less(t, len(ctx.Dependencies[0].Result), 500)
}

func TestRenderEscapesMarkup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.child1.Transition(taskgraph.StatusAtomizing))
	require.NoError(t, f.child1.Transition(taskgraph.StatusExecuting))
	require.NoError(t, f.child1.Transition(taskgraph.StatusVerifying))
	require.NoError(t, f.child1.Complete("a < b & c"))

	rendered := f.manager(Options{}).BuildExecutorContext(f.child2, InjectNone).Render()
	assert.Contains(t, rendered, "a &lt; b &amp; c")
}

func TestParseInjectionMode(t *testing.T) {
	assert.Equal(t, InjectNone, ParseInjectionMode("none"))
	assert.Equal(t, InjectFull, ParseInjectionMode("full"))
	assert.Equal(t, InjectSubtask, ParseInjectionMode("subtask"))
	assert.Equal(t, InjectDependencies, ParseInjectionMode("bogus"))
}
