package taskgraph

import (
	"sync"

	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
)

// TaskDAG owns a set of task nodes plus the nested subgraphs produced by
// planning composite tasks. Lookups search the local graph first, then
// recurse into subgraphs, because a reference from a deeply nested child may
// resolve outside its immediate graph.
type TaskDAG struct {
	ID string

	mu        sync.RWMutex
	nodes     map[string]*TaskNode
	subgraphs map[string]*TaskDAG
	roots     []string
}

// NewDAG constructs an empty graph with the given id.
func NewDAG(id string) *TaskDAG {
	return &TaskDAG{
		ID:        id,
		nodes:     map[string]*TaskNode{},
		subgraphs: map[string]*TaskDAG{},
	}
}

// AddNode inserts a node into this graph. Root nodes are tracked in
// insertion order.
func (d *TaskDAG) AddNode(node *TaskNode, root bool) error {
	if node == nil {
		return taskerr.NewValidation("node", "node is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.nodes[node.TaskID]; exists {
		return taskerr.NewValidation("task_id", "duplicate task id: "+node.TaskID)
	}
	d.nodes[node.TaskID] = node
	if root {
		d.roots = append(d.roots, node.TaskID)
	}
	return nil
}

// AddSubgraph attaches a nested graph.
func (d *TaskDAG) AddSubgraph(sub *TaskDAG) error {
	if sub == nil || sub.ID == "" {
		return taskerr.NewValidation("subgraph", "subgraph with id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.subgraphs[sub.ID]; exists {
		return taskerr.NewValidation("subgraph_id", "duplicate subgraph id: "+sub.ID)
	}
	d.subgraphs[sub.ID] = sub
	return nil
}

// Roots returns the root task ids in insertion order.
func (d *TaskDAG) Roots() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.roots...)
}

// Node returns a node from this graph only, without recursing.
func (d *TaskDAG) Node(taskID string) (*TaskNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	node, ok := d.nodes[taskID]
	return node, ok
}

// FindNode resolves taskID anywhere in the hierarchy and returns the node
// together with the graph that owns it.
func (d *TaskDAG) FindNode(taskID string) (*TaskNode, *TaskDAG, error) {
	d.mu.RLock()
	if node, ok := d.nodes[taskID]; ok {
		d.mu.RUnlock()
		return node, d, nil
	}
	subs := make([]*TaskDAG, 0, len(d.subgraphs))
	for _, sub := range d.subgraphs {
		subs = append(subs, sub)
	}
	d.mu.RUnlock()

	for _, sub := range subs {
		if node, owner, err := sub.FindNode(taskID); err == nil {
			return node, owner, nil
		}
	}
	return nil, nil, taskerr.NewNotFound("task", taskID)
}

// Subgraph resolves subgraphID anywhere in the hierarchy, or returns nil.
func (d *TaskDAG) Subgraph(subgraphID string) *TaskDAG {
	d.mu.RLock()
	if sub, ok := d.subgraphs[subgraphID]; ok {
		d.mu.RUnlock()
		return sub
	}
	subs := make([]*TaskDAG, 0, len(d.subgraphs))
	for _, sub := range d.subgraphs {
		subs = append(subs, sub)
	}
	d.mu.RUnlock()

	for _, sub := range subs {
		if found := sub.Subgraph(subgraphID); found != nil {
			return found
		}
	}
	return nil
}

// AllTasks flattens this graph's nodes, recursing into nested subgraphs
// when includeSubgraphs is set.
func (d *TaskDAG) AllTasks(includeSubgraphs bool) []*TaskNode {
	d.mu.RLock()
	out := make([]*TaskNode, 0, len(d.nodes))
	for _, node := range d.nodes {
		out = append(out, node)
	}
	var subs []*TaskDAG
	if includeSubgraphs {
		subs = make([]*TaskDAG, 0, len(d.subgraphs))
		for _, sub := range d.subgraphs {
			subs = append(subs, sub)
		}
	}
	d.mu.RUnlock()

	for _, sub := range subs {
		out = append(out, sub.AllTasks(true)...)
	}
	return out
}

// TaskIDs returns the ids of every task in this graph, optionally recursing.
func (d *TaskDAG) TaskIDs(includeSubgraphs bool) []string {
	tasks := d.AllTasks(includeSubgraphs)
	out := make([]string, 0, len(tasks))
	for _, node := range tasks {
		out = append(out, node.TaskID)
	}
	return out
}
