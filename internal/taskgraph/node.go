// Package taskgraph models the decomposition hierarchy: task nodes with a
// forward-only lifecycle, and nested DAGs holding planned children.
package taskgraph

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the lifecycle state of a task node.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAtomizing   Status = "atomizing"
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusAggregating Status = "aggregating"
	StatusVerifying   Status = "verifying"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowedTransition encodes the forward-only lifecycle. The only revisit is
// the bounded VERIFYING -> EXECUTING retry loop.
func allowedTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.IsTerminal()
	}
	switch from {
	case StatusPending:
		return to == StatusAtomizing
	case StatusAtomizing:
		return to == StatusPlanning || to == StatusExecuting
	case StatusPlanning:
		return to == StatusAggregating
	case StatusExecuting:
		return to == StatusVerifying
	case StatusVerifying:
		return to == StatusCompleted || to == StatusExecuting
	case StatusAggregating:
		return to == StatusCompleted
	default:
		return false
	}
}

// TaskNode is one unit of goal decomposition. Identity fields are fixed at
// creation; lifecycle fields mutate only through the accessor methods, which
// are safe for concurrent use.
type TaskNode struct {
	TaskID       string
	Goal         string
	Depth        int
	MaxDepth     int
	ParentID     string
	Dependencies []string

	mu         sync.RWMutex
	status     Status
	subgraphID string
	result     string
	errText    string
	retries    int
	createdAt  time.Time
	updatedAt  time.Time
}

// NewNode constructs a pending node.
func NewNode(taskID, goal string, depth, maxDepth int) *TaskNode {
	now := time.Now().UTC()
	return &TaskNode{
		TaskID:    taskID,
		Goal:      goal,
		Depth:     depth,
		MaxDepth:  maxDepth,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
	}
}

// Status returns the current lifecycle state.
func (n *TaskNode) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Transition moves the node to the given state, enforcing the forward-only
// lifecycle.
func (n *TaskNode) Transition(to Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !allowedTransition(n.status, to) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", n.TaskID, n.status, to)
	}
	n.status = to
	n.updatedAt = time.Now().UTC()
	return nil
}

// SetSubgraph records the nested DAG id produced by planning. It may be set
// at most once per node.
func (n *TaskNode) SetSubgraph(subgraphID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subgraphID != "" {
		return fmt.Errorf("subgraph already assigned for %s", n.TaskID)
	}
	n.subgraphID = subgraphID
	return nil
}

// SubgraphID returns the nested DAG id, or "" for unplanned nodes.
func (n *TaskNode) SubgraphID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.subgraphID
}

// Complete marks the node COMPLETED with its result.
func (n *TaskNode) Complete(result string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !allowedTransition(n.status, StatusCompleted) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", n.TaskID, n.status, StatusCompleted)
	}
	n.status = StatusCompleted
	n.result = result
	n.errText = ""
	n.updatedAt = time.Now().UTC()
	return nil
}

// Fail marks the node FAILED with its error text. Failing is allowed from
// any non-terminal state so cancellation can land anywhere mid-flight.
func (n *TaskNode) Fail(errText string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.IsTerminal() {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", n.TaskID, n.status, StatusFailed)
	}
	n.status = StatusFailed
	n.errText = errText
	n.result = ""
	n.updatedAt = time.Now().UTC()
	return nil
}

// Result returns the stored result, empty until COMPLETED.
func (n *TaskNode) Result() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.result
}

// ErrText returns the stored error text, empty unless FAILED.
func (n *TaskNode) ErrText() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.errText
}

// Retries returns the number of verify-requested re-executions so far.
func (n *TaskNode) Retries() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.retries
}

// IncRetries bumps the retry counter and returns the new value.
func (n *TaskNode) IncRetries() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retries++
	return n.retries
}

// AtDepthLimit reports whether decomposition must stop at this node.
func (n *TaskNode) AtDepthLimit() bool {
	return n.Depth >= n.MaxDepth
}

// CreatedAt returns the node creation time.
func (n *TaskNode) CreatedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.createdAt
}

// UpdatedAt returns the last lifecycle mutation time.
func (n *TaskNode) UpdatedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.updatedAt
}
