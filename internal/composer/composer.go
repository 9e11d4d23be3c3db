// Package composer assembles role-specific predictor inputs from graph
// state and registered artifacts.
package composer

import (
	"time"

	"github.com/sentient-agi/ROMA-sub000/internal/artifact"
	"github.com/sentient-agi/ROMA-sub000/internal/observability"
	"github.com/sentient-agi/ROMA-sub000/internal/taskgraph"
	"github.com/sentient-agi/ROMA-sub000/internal/tokenutil"
)

// InjectionMode controls which artifacts a composed context may see.
type InjectionMode string

const (
	// InjectNone disables artifact injection entirely.
	InjectNone InjectionMode = "none"
	// InjectDependencies injects artifacts created by the listed task ids.
	InjectDependencies InjectionMode = "dependencies"
	// InjectFull injects every artifact in the execution.
	InjectFull InjectionMode = "full"
	// InjectSubtask injects artifacts from descendants of the current task.
	InjectSubtask InjectionMode = "subtask"
)

// ParseInjectionMode maps a config string to a mode, defaulting to
// dependencies.
func ParseInjectionMode(raw string) InjectionMode {
	switch InjectionMode(raw) {
	case InjectNone, InjectDependencies, InjectFull, InjectSubtask:
		return InjectionMode(raw)
	default:
		return InjectDependencies
	}
}

// ToolInfo advertises one external capability into the fundamental layer.
type ToolInfo struct {
	Name        string
	Description string
}

// TaskResult carries one resolved task outcome into a role layer.
type TaskResult struct {
	TaskID string
	Goal   string
	Result string
	Error  string
}

// Fundamental is the layer shared by every role.
type Fundamental struct {
	CurrentTime time.Time
	Depth       int
	MaxDepth    int
	AtLimit     bool
	Tools       []ToolInfo
	FileSystem  string
}

// Context is the structured input handed to a predictor call.
type Context struct {
	Fundamental Fundamental
	Role        string

	// Role-specific layer. At most one block is populated.
	ParentResult   *TaskResult
	SiblingResults []TaskResult
	Dependencies   []TaskResult
	ChildResults   []TaskResult
	Artifacts      []artifact.Reference
}

// Options configures a Manager.
type Options struct {
	Mode        InjectionMode
	Tools       []ToolInfo
	TokenBudget int // per-artifact description/preview bound; 0 disables trimming
	FSRoot      string
}

// Manager composes contexts from a task DAG and an artifact registry. Both
// collaborators are scoped to the same execution.
type Manager struct {
	root     *taskgraph.TaskDAG
	registry *artifact.Registry
	logger   *observability.Logger
	opts     Options
	now      func() time.Time
}

// NewManager constructs a composer over one execution's graph and registry.
func NewManager(root *taskgraph.TaskDAG, registry *artifact.Registry, logger *observability.Logger, opts Options) *Manager {
	if opts.Mode == "" {
		opts.Mode = InjectDependencies
	}
	return &Manager{
		root:     root,
		registry: registry,
		logger:   observability.OrNop(logger),
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock overrides the timestamp source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) fundamental(node *taskgraph.TaskNode) Fundamental {
	f := Fundamental{
		CurrentTime: m.now().UTC(),
		Depth:       node.Depth,
		MaxDepth:    node.MaxDepth,
		AtLimit:     node.AtDepthLimit(),
		Tools:       m.opts.Tools,
	}
	if m.opts.FSRoot != "" {
		f.FileSystem = summarizeDir(m.opts.FSRoot, 32)
	}
	return f
}

// BuildAtomizerContext returns the fundamental layer only.
func (m *Manager) BuildAtomizerContext(node *taskgraph.TaskNode) *Context {
	return &Context{Fundamental: m.fundamental(node), Role: "atomizer"}
}

// BuildVerifierContext returns the fundamental layer only.
func (m *Manager) BuildVerifierContext(node *taskgraph.TaskNode) *Context {
	return &Context{Fundamental: m.fundamental(node), Role: "verifier"}
}

// BuildPlannerContext assembles the planner layer: the parent's result
// (hierarchical lookup, the parent may live outside the current subgraph),
// completed sibling results from the node's own subgraph, and artifacts
// reachable from the parent task.
func (m *Manager) BuildPlannerContext(node *taskgraph.TaskNode, siblings *taskgraph.TaskDAG) *Context {
	ctx := &Context{Fundamental: m.fundamental(node), Role: "planner"}

	if node.ParentID != "" && m.root != nil {
		if parent, _, err := m.root.FindNode(node.ParentID); err == nil {
			ctx.ParentResult = &TaskResult{
				TaskID: parent.TaskID,
				Goal:   parent.Goal,
				Result: m.trim(parent.Result()),
				Error:  parent.ErrText(),
			}
		} else {
			m.logger.Warn("planner parent not resolvable", "task_id", node.TaskID, "parent_id", node.ParentID)
		}
	}

	if siblings != nil {
		for _, sib := range siblings.AllTasks(false) {
			if sib.TaskID == node.TaskID || sib.Status() != taskgraph.StatusCompleted {
				continue
			}
			ctx.SiblingResults = append(ctx.SiblingResults, TaskResult{
				TaskID: sib.TaskID,
				Goal:   sib.Goal,
				Result: m.trim(sib.Result()),
			})
		}
	}

	deps := []string{}
	if node.ParentID != "" {
		deps = append(deps, node.ParentID)
	}
	ctx.Artifacts = m.artifactsFor(m.opts.Mode, deps, node.TaskID)
	return ctx
}

// BuildExecutorContext assembles the executor layer: results of the node's
// explicit dependencies plus artifacts reachable from them under mode.
func (m *Manager) BuildExecutorContext(node *taskgraph.TaskNode, mode InjectionMode) *Context {
	ctx := &Context{Fundamental: m.fundamental(node), Role: "executor"}

	for _, depID := range node.Dependencies {
		if m.root == nil {
			break
		}
		dep, _, err := m.root.FindNode(depID)
		if err != nil {
			// Unresolvable dependencies degrade to satisfied-with-no-result.
			m.logger.Warn("dependency not resolvable, proceeding without it",
				"task_id", node.TaskID, "dependency", depID)
			continue
		}
		ctx.Dependencies = append(ctx.Dependencies, TaskResult{
			TaskID: dep.TaskID,
			Goal:   dep.Goal,
			Result: m.trim(dep.Result()),
			Error:  dep.ErrText(),
		})
	}

	ctx.Artifacts = m.artifactsFor(mode, node.Dependencies, node.TaskID)
	return ctx
}

// BuildAggregatorContext assembles the aggregator layer: every child's
// terminal outcome plus artifacts reachable from the node's own subgraph.
func (m *Manager) BuildAggregatorContext(node *taskgraph.TaskNode, subgraph *taskgraph.TaskDAG) *Context {
	ctx := &Context{Fundamental: m.fundamental(node), Role: "aggregator"}
	if subgraph == nil {
		m.logger.Warn("aggregator context without subgraph", "task_id", node.TaskID)
		return ctx
	}

	for _, child := range subgraph.AllTasks(false) {
		ctx.ChildResults = append(ctx.ChildResults, TaskResult{
			TaskID: child.TaskID,
			Goal:   child.Goal,
			Result: m.trim(child.Result()),
			Error:  child.ErrText(),
		})
	}

	ctx.Artifacts = m.artifactsFor(m.opts.Mode, subgraph.TaskIDs(true), node.TaskID)
	return ctx
}

// artifactsFor resolves the injection mode into a reference list. SUBTASK
// without graph/task parameters degrades to an empty list with a warning.
func (m *Manager) artifactsFor(mode InjectionMode, depIDs []string, taskID string) []artifact.Reference {
	if m.registry == nil {
		return nil
	}
	switch mode {
	case InjectNone:
		return nil
	case InjectFull:
		return m.references(m.registry.GetAll())
	case InjectSubtask:
		if m.root == nil || taskID == "" {
			m.logger.Warn("subtask injection requested without graph context, degrading to none",
				"task_id", taskID)
			return nil
		}
		node, _, err := m.root.FindNode(taskID)
		if err != nil {
			m.logger.Warn("subtask injection task not found, degrading to none", "task_id", taskID)
			return nil
		}
		subID := node.SubgraphID()
		if subID == "" {
			return nil
		}
		sub := m.root.Subgraph(subID)
		if sub == nil {
			return nil
		}
		return m.byTasks(sub.TaskIDs(true))
	default: // InjectDependencies
		return m.byTasks(depIDs)
	}
}

func (m *Manager) byTasks(taskIDs []string) []artifact.Reference {
	seen := map[string]bool{}
	var arts []*artifact.Artifact
	for _, id := range taskIDs {
		for _, art := range m.registry.GetByTask(id) {
			if seen[art.ID] {
				continue
			}
			seen[art.ID] = true
			arts = append(arts, art)
		}
	}
	return m.references(arts)
}

func (m *Manager) references(arts []*artifact.Artifact) []artifact.Reference {
	refs := artifact.References(arts)
	if m.opts.TokenBudget > 0 {
		for i := range refs {
			refs[i].Description = tokenutil.TrimToBudget(refs[i].Description, m.opts.TokenBudget)
		}
	}
	return refs
}

func (m *Manager) trim(text string) string {
	if m.opts.TokenBudget <= 0 {
		return text
	}
	return tokenutil.TrimToBudget(text, m.opts.TokenBudget)
}
