package solver

import (
	"context"
	"fmt"
	"strings"
)

// NewHeuristicSuite returns a deterministic predictor suite that needs no
// external model: composite goals are written as semicolon-separated steps,
// execution echoes the step, aggregation joins children. It keeps the CLI
// and tests functional without a predictor backend.
func NewHeuristicSuite() PredictorSuite {
	return PredictorSuite{
		Atomizer:   heuristicAtomizer{},
		Planner:    heuristicPlanner{},
		Executor:   heuristicExecutor{},
		Aggregator: heuristicAggregator{},
		Verifier:   heuristicVerifier{},
	}
}

type heuristicAtomizer struct{}

func (heuristicAtomizer) Atomize(_ context.Context, goal, _ string) (AtomizeDecision, error) {
	if strings.Contains(goal, ";") {
		return AtomizeDecision{Atomic: false, Reason: "goal lists multiple steps"}, nil
	}
	return AtomizeDecision{Atomic: true, Reason: "single-step goal"}, nil
}

type heuristicPlanner struct{}

func (heuristicPlanner) Plan(_ context.Context, goal, _ string) (PlanDecision, error) {
	var plan PlanDecision
	for _, part := range strings.Split(goal, ";") {
		step := strings.TrimSpace(part)
		if step == "" {
			continue
		}
		spec := SubtaskSpec{Goal: step}
		// Later steps depend on the previous one, mirroring how a written
		// step list usually reads.
		if n := len(plan.Subtasks); n > 0 {
			spec.DependsOn = []int{n - 1}
		}
		plan.Subtasks = append(plan.Subtasks, spec)
	}
	if len(plan.Subtasks) == 0 {
		return plan, fmt.Errorf("no plannable steps in goal")
	}
	return plan, nil
}

type heuristicExecutor struct{}

func (heuristicExecutor) Execute(_ context.Context, goal, _ string) (ExecuteDecision, error) {
	return ExecuteDecision{Result: "done: " + goal}, nil
}

type heuristicAggregator struct{}

func (heuristicAggregator) Aggregate(_ context.Context, goal, composed string) (AggregateDecision, error) {
	return AggregateDecision{Result: fmt.Sprintf("aggregated %q from subtask context (%d bytes)", goal, len(composed))}, nil
}

type heuristicVerifier struct{}

func (heuristicVerifier) Verify(_ context.Context, _, result, _ string) (VerifyDecision, error) {
	if strings.TrimSpace(result) == "" {
		return VerifyDecision{Verdict: VerdictRetry, Feedback: "empty result"}, nil
	}
	return VerifyDecision{Verdict: VerdictAccept}, nil
}
