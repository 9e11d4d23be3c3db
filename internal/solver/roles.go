// Package solver drives the recursive decomposition state machine: it walks
// the task graph, invokes role predictors, and folds results upward.
package solver

import (
	"context"

	"github.com/sentient-agi/ROMA-sub000/internal/artifact"
)

// Role identifies which predictor behavior a node step needs.
type Role string

const (
	RoleAtomizer   Role = "atomizer"
	RolePlanner    Role = "planner"
	RoleExecutor   Role = "executor"
	RoleAggregator Role = "aggregator"
	RoleVerifier   Role = "verifier"
)

// AtomizeDecision reports whether a goal is atomic enough to execute.
type AtomizeDecision struct {
	Atomic bool
	Reason string
}

// SubtaskSpec is one planned child: a goal plus optional dependencies on
// sibling indices in the same plan.
type SubtaskSpec struct {
	Goal      string
	DependsOn []int
}

// PlanDecision is an ordered list of subtask specifications.
type PlanDecision struct {
	Subtasks []SubtaskSpec
}

// ProducedFile describes one output file from an execute step.
type ProducedFile struct {
	Path        string
	Name        string
	Type        artifact.Type
	Description string
	DerivedFrom []string
}

// ExecuteDecision is the outcome of an atomic action.
type ExecuteDecision struct {
	Result        string
	ProducedFiles []ProducedFile
}

// Verdict is the verifier's ruling on an execution result.
type Verdict int

const (
	// VerdictAccept completes the node with the current result.
	VerdictAccept Verdict = iota
	// VerdictRetry requests a re-execution, bounded by the retry budget.
	VerdictRetry
	// VerdictReject fails the node irrecoverably.
	VerdictReject
)

// VerifyDecision carries the verdict plus optional feedback text.
type VerifyDecision struct {
	Verdict  Verdict
	Feedback string
}

// AggregateDecision combines children outcomes into one parent result.
type AggregateDecision struct {
	Result string
}

// Atomizer decides whether a goal executes directly or gets planned.
type Atomizer interface {
	Atomize(ctx context.Context, goal, composed string) (AtomizeDecision, error)
}

// Planner decomposes a goal into ordered subtasks.
type Planner interface {
	Plan(ctx context.Context, goal, composed string) (PlanDecision, error)
}

// Executor performs an atomic action.
type Executor interface {
	Execute(ctx context.Context, goal, composed string) (ExecuteDecision, error)
}

// Aggregator folds children results into one.
type Aggregator interface {
	Aggregate(ctx context.Context, goal, composed string) (AggregateDecision, error)
}

// Verifier rules on an execution result.
type Verifier interface {
	Verify(ctx context.Context, goal, result, composed string) (VerifyDecision, error)
}

// PredictorSuite is the closed role-to-strategy table. Every role must be
// populated; the solver does no open-ended dispatch.
type PredictorSuite struct {
	Atomizer   Atomizer
	Planner    Planner
	Executor   Executor
	Aggregator Aggregator
	Verifier   Verifier
}

// Complete reports whether every role strategy is wired.
func (s PredictorSuite) Complete() bool {
	return s.Atomizer != nil && s.Planner != nil && s.Executor != nil &&
		s.Aggregator != nil && s.Verifier != nil
}
