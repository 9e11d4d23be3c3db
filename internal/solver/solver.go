package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/sentient-agi/ROMA-sub000/internal/artifact"
	"github.com/sentient-agi/ROMA-sub000/internal/async"
	"github.com/sentient-agi/ROMA-sub000/internal/composer"
	"github.com/sentient-agi/ROMA-sub000/internal/observability"
	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
	"github.com/sentient-agi/ROMA-sub000/internal/taskgraph"
)

const (
	defaultMaxDepth    = 3
	defaultConcurrency = 4
	defaultRetryBudget = 2
	executorModule     = "executor"
)

// Options configures one solver instance.
type Options struct {
	MaxDepth      int
	Concurrency   int64
	RetryBudget   int
	InjectionMode composer.InjectionMode
	Tools         []composer.ToolInfo
	TokenBudget   int
	FSRoot        string

	// Semaphore lets the host supply the counting semaphore that bounds
	// concurrent predictor work across executions. Nil creates a private one.
	Semaphore *semaphore.Weighted
	Metrics   *observability.EngineMetrics
	Tracer    trace.Tracer
}

func (o *Options) applyDefaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = defaultMaxDepth
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.RetryBudget < 0 {
		o.RetryBudget = defaultRetryBudget
	}
	if o.InjectionMode == "" {
		o.InjectionMode = composer.InjectDependencies
	}
}

// Result is the caller-visible outcome of one execution. The root always
// reports either a completed output or a structured error.
type Result struct {
	ExecutionID string
	RootTaskID  string
	Status      taskgraph.Status
	Output      string
	Error       string
	Artifacts   []artifact.Summary
	Elapsed     time.Duration

	// Graph and Registry expose the execution trace for inspection. Both
	// are scoped to this execution and discarded with it.
	Graph    *taskgraph.TaskDAG
	Registry *artifact.Registry
}

// Solver walks the decomposition graph for one goal at a time.
type Solver struct {
	suite   PredictorSuite
	builder *artifact.Builder
	logger  *observability.Logger
	opts    Options
	sem     *semaphore.Weighted
	tracer  trace.Tracer
}

// New constructs a solver around a complete predictor suite.
func New(suite PredictorSuite, logger *observability.Logger, opts Options) (*Solver, error) {
	if !suite.Complete() {
		return nil, taskerr.NewValidation("predictors", "every role strategy must be wired")
	}
	opts.applyDefaults()

	sem := opts.Semaphore
	if sem == nil {
		sem = semaphore.NewWeighted(opts.Concurrency)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	logger = observability.OrNop(logger)
	return &Solver{
		suite:   suite,
		builder: artifact.NewBuilder(logger),
		logger:  logger,
		opts:    opts,
		sem:     sem,
		tracer:  tracer,
	}, nil
}

// Run decomposes and solves goal. Each call builds a fresh graph, registry,
// and composer; nothing is shared across executions.
func (s *Solver) Run(ctx context.Context, goal string) (*Result, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, taskerr.NewValidation("goal", "goal is required")
	}

	execID := uuid.NewString()
	ctx = observability.ContextWithExecutionID(ctx, execID)
	started := time.Now()

	graph := taskgraph.NewDAG("dag-" + execID)
	registry := artifact.NewRegistry(s.logger, artifact.WithObserver(s.opts.Metrics))
	manager := composer.NewManager(graph, registry, s.logger, composer.Options{
		Mode:        s.opts.InjectionMode,
		Tools:       s.opts.Tools,
		TokenBudget: s.opts.TokenBudget,
		FSRoot:      s.opts.FSRoot,
	})

	root := taskgraph.NewNode("root", goal, 0, s.opts.MaxDepth)
	if err := graph.AddNode(root, true); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "execution started", "goal", goal, "max_depth", s.opts.MaxDepth)
	s.solveNode(ctx, exec{graph: graph, registry: registry, composer: manager}, root, graph)

	res := &Result{
		ExecutionID: execID,
		RootTaskID:  root.TaskID,
		Status:      root.Status(),
		Output:      root.Result(),
		Error:       root.ErrText(),
		Elapsed:     time.Since(started),
		Graph:       graph,
		Registry:    registry,
	}
	for _, art := range registry.GetAll() {
		res.Artifacts = append(res.Artifacts, art.Summarize())
	}
	s.logger.InfoContext(ctx, "execution finished",
		"status", res.Status, "elapsed", res.Elapsed, "artifacts", len(res.Artifacts))
	return res, nil
}

// exec bundles the per-execution collaborators threaded through recursion.
type exec struct {
	graph    *taskgraph.TaskDAG
	registry *artifact.Registry
	composer *composer.Manager
}

// solveNode drives one node from PENDING to a terminal state. It never
// returns an error: outcomes land on the node itself.
func (s *Solver) solveNode(ctx context.Context, ex exec, node *taskgraph.TaskNode, owner *taskgraph.TaskDAG) {
	ctx = observability.ContextWithTaskID(ctx, node.TaskID)
	ctx, span := observability.StartNodeSpan(ctx, s.tracer, node.TaskID, node.Depth)
	started := time.Now()
	defer func() {
		span.End()
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveSolve(string(node.Status()), time.Since(started).Seconds())
		}
	}()

	if s.cancelled(ctx, node) {
		return
	}
	s.transition(ctx, node, taskgraph.StatusAtomizing)

	atomic := true
	if node.AtDepthLimit() {
		// Hard ceiling: the atomize predictor is not consulted at max depth.
		s.logger.DebugContext(ctx, "depth limit reached, forcing direct execution")
	} else {
		composed := ex.composer.BuildAtomizerContext(node).Render()
		decision, err := s.invokeAtomize(ctx, node, composed)
		if err != nil {
			s.fail(ctx, node, err)
			return
		}
		atomic = decision.Atomic
	}

	if atomic {
		s.executeAndVerify(ctx, ex, node)
		return
	}
	s.planAndAggregate(ctx, ex, node, owner)
}

// planAndAggregate runs PLANNING, fans out children, then AGGREGATING.
func (s *Solver) planAndAggregate(ctx context.Context, ex exec, node *taskgraph.TaskNode, owner *taskgraph.TaskDAG) {
	s.transition(ctx, node, taskgraph.StatusPlanning)

	composed := ex.composer.BuildPlannerContext(node, owner).Render()
	plan, err := s.invokePlan(ctx, node, composed)
	if err != nil {
		s.fail(ctx, node, err)
		return
	}
	if len(plan.Subtasks) == 0 {
		s.fail(ctx, node, &taskerr.ExecutionError{TaskID: node.TaskID, Err: errors.New("planner returned no subtasks")})
		return
	}

	children, sub, err := s.materialize(ctx, ex, node, owner, plan)
	if err != nil {
		s.fail(ctx, node, err)
		return
	}

	s.fanOut(ctx, ex, children, sub)

	if s.cancelled(ctx, node) {
		return
	}
	s.transition(ctx, node, taskgraph.StatusAggregating)
	aggCtx := ex.composer.BuildAggregatorContext(node, sub).Render()
	agg, err := s.invokeAggregate(ctx, node, aggCtx)
	if err != nil {
		s.fail(ctx, node, err)
		return
	}
	if err := node.Complete(agg.Result); err != nil {
		s.logger.WarnContext(ctx, "completion rejected", "error", err)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.NodeTransition(string(taskgraph.StatusCompleted))
	}
}

// materialize turns a plan into child nodes inside a fresh nested DAG.
// Dependency indices outside the plan are logged and dropped rather than
// blocking the child forever; a plan whose dependencies form a cycle is
// rejected so the fan-out can never deadlock.
func (s *Solver) materialize(ctx context.Context, ex exec, node *taskgraph.TaskNode, owner *taskgraph.TaskDAG, plan PlanDecision) ([]*taskgraph.TaskNode, *taskgraph.TaskDAG, error) {
	subID := "sub-" + node.TaskID
	sub := taskgraph.NewDAG(subID)

	ids := make([]string, len(plan.Subtasks))
	for i := range plan.Subtasks {
		ids[i] = fmt.Sprintf("%s.%d", node.TaskID, i+1)
	}

	deps := make([][]int, len(plan.Subtasks))
	for i, spec := range plan.Subtasks {
		for _, depIdx := range spec.DependsOn {
			if depIdx < 0 || depIdx >= len(ids) || depIdx == i {
				s.logger.WarnContext(ctx, "dropping unresolvable dependency index",
					"child", ids[i], "index", depIdx)
				continue
			}
			deps[i] = append(deps[i], depIdx)
		}
	}
	if cycle := findCycle(deps); cycle != nil {
		return nil, nil, &taskerr.ExecutionError{
			TaskID: node.TaskID,
			Err:    fmt.Errorf("planner returned cyclic subtask dependencies: %v", cycle),
		}
	}

	children := make([]*taskgraph.TaskNode, 0, len(plan.Subtasks))
	for i, spec := range plan.Subtasks {
		child := taskgraph.NewNode(ids[i], spec.Goal, node.Depth+1, node.MaxDepth)
		child.ParentID = node.TaskID
		for _, depIdx := range deps[i] {
			child.Dependencies = append(child.Dependencies, ids[depIdx])
		}
		if err := sub.AddNode(child, true); err != nil {
			return nil, nil, err
		}
		children = append(children, child)
	}

	if err := owner.AddSubgraph(sub); err != nil {
		return nil, nil, err
	}
	if err := node.SetSubgraph(subID); err != nil {
		return nil, nil, err
	}
	s.logger.InfoContext(ctx, "planned subtasks", "count", len(children), "subgraph", subID)
	return children, sub, nil
}

// findCycle returns the indices of one dependency cycle in deps, or nil when
// the plan is acyclic.
func findCycle(deps [][]int) []int {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make([]int, len(deps))

	var stack []int
	var visit func(i int) []int
	visit = func(i int) []int {
		state[i] = inStack
		stack = append(stack, i)
		for _, dep := range deps[i] {
			switch state[dep] {
			case inStack:
				for j, idx := range stack {
					if idx == dep {
						return append([]int{}, stack[j:]...)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil
	}

	for i := range deps {
		if state[i] == unvisited {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// fanOut dispatches children concurrently. A child starts only once every
// declared dependency has reached a terminal state; unresolvable dependency
// ids count as already satisfied. Concurrency of predictor work is bounded
// by the shared semaphore, not by goroutine count.
func (s *Solver) fanOut(ctx context.Context, ex exec, children []*taskgraph.TaskNode, sub *taskgraph.TaskDAG) {
	done := make(map[string]chan struct{}, len(children))
	for _, child := range children {
		done[child.TaskID] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for _, child := range children {
		child := child
		wg.Add(1)
		async.Go(s.logger, "solve-"+child.TaskID, func() {
			defer func() {
				close(done[child.TaskID])
				wg.Done()
			}()
			for _, depID := range child.Dependencies {
				ch, ok := done[depID]
				if !ok {
					s.logger.WarnContext(ctx, "dependency unknown at dispatch, treating as satisfied",
						"child", child.TaskID, "dependency", depID)
					continue
				}
				select {
				case <-ch:
				case <-ctx.Done():
					s.fail(ctx, child, &taskerr.CancelledError{TaskID: child.TaskID, Err: ctx.Err()})
					return
				}
			}
			s.solveNode(ctx, ex, child, sub)
		})
	}
	wg.Wait()
}

// executeAndVerify runs the EXECUTING/VERIFYING loop under the retry budget.
func (s *Solver) executeAndVerify(ctx context.Context, ex exec, node *taskgraph.TaskNode) {
	s.transition(ctx, node, taskgraph.StatusExecuting)

	for {
		if s.cancelled(ctx, node) {
			return
		}

		composed := ex.composer.BuildExecutorContext(node, s.opts.InjectionMode).Render()
		decision, execErr := s.invokeExecute(ctx, node, composed)

		if execErr == nil {
			s.registerProduced(ctx, ex, node, decision.ProducedFiles)
		}

		s.transition(ctx, node, taskgraph.StatusVerifying)

		if execErr != nil {
			if !s.retry(ctx, node, execErr.Error()) {
				s.fail(ctx, node, &taskerr.ExecutionError{TaskID: node.TaskID, Err: execErr})
				return
			}
			continue
		}

		verifyCtx := ex.composer.BuildVerifierContext(node).Render()
		verdict, err := s.invokeVerify(ctx, node, decision.Result, verifyCtx)
		if err != nil {
			// A broken verifier must not discard a finished result.
			s.logger.WarnContext(ctx, "verifier failed, accepting result", "error", err)
			verdict = VerifyDecision{Verdict: VerdictAccept}
		}

		switch verdict.Verdict {
		case VerdictAccept:
			if err := node.Complete(decision.Result); err != nil {
				s.logger.WarnContext(ctx, "completion rejected", "error", err)
			}
			if s.opts.Metrics != nil {
				s.opts.Metrics.NodeTransition(string(taskgraph.StatusCompleted))
			}
			return
		case VerdictRetry:
			if !s.retry(ctx, node, verdict.Feedback) {
				s.fail(ctx, node, &taskerr.ExecutionError{
					TaskID: node.TaskID,
					Err:    fmt.Errorf("retry budget exhausted: %s", verdict.Feedback),
				})
				return
			}
		default:
			s.fail(ctx, node, &taskerr.ExecutionError{
				TaskID: node.TaskID,
				Err:    fmt.Errorf("verifier rejected result: %s", verdict.Feedback),
			})
			return
		}
	}
}

// retry consumes one retry slot and rolls the node back to EXECUTING.
func (s *Solver) retry(ctx context.Context, node *taskgraph.TaskNode, reason string) bool {
	if node.Retries() >= s.opts.RetryBudget {
		return false
	}
	attempt := node.IncRetries()
	s.logger.InfoContext(ctx, "re-executing", "attempt", attempt, "reason", reason)
	s.transition(ctx, node, taskgraph.StatusExecuting)
	return true
}

// registerProduced builds and registers each produced file. Registry
// failures are logged and skipped; they never abort the owning task.
func (s *Solver) registerProduced(ctx context.Context, ex exec, node *taskgraph.TaskNode, files []ProducedFile) {
	if len(files) == 0 {
		return
	}
	arts := make([]*artifact.Artifact, 0, len(files))
	for _, file := range files {
		art, err := s.builder.Build(artifact.BuildRequest{
			Path:            file.Path,
			Name:            file.Name,
			Type:            file.Type,
			Description:     file.Description,
			CreatedByTask:   node.TaskID,
			CreatedByModule: executorModule,
			DerivedFrom:     file.DerivedFrom,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "skipping produced file",
				"path", file.Path, "error", err)
			continue
		}
		arts = append(arts, art)
	}
	if len(arts) == 0 {
		return
	}
	if _, err := ex.registry.RegisterBatch(arts); err != nil {
		s.logger.WarnContext(ctx, "artifact registration skipped",
			"error", &taskerr.RegistryError{Err: err})
	}
}

func (s *Solver) transition(ctx context.Context, node *taskgraph.TaskNode, to taskgraph.Status) {
	if err := node.Transition(to); err != nil {
		s.logger.WarnContext(ctx, "transition rejected", "error", err)
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.NodeTransition(string(to))
	}
	s.logger.DebugContext(ctx, "node transition", "to", to)
}

func (s *Solver) fail(ctx context.Context, node *taskgraph.TaskNode, err error) {
	if ferr := node.Fail(err.Error()); ferr != nil {
		s.logger.WarnContext(ctx, "failure rejected", "error", ferr)
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.NodeTransition(string(taskgraph.StatusFailed))
	}
	s.logger.WarnContext(ctx, "node failed", "kind", taskerr.KindOf(err).String(), "error", err)
}

// cancelled fails the node with a cancellation-kind error when ctx is done.
func (s *Solver) cancelled(ctx context.Context, node *taskgraph.TaskNode) bool {
	if ctx.Err() == nil {
		return false
	}
	if !node.Status().IsTerminal() {
		s.fail(ctx, node, &taskerr.CancelledError{TaskID: node.TaskID, Err: ctx.Err()})
	}
	return true
}

// invoke helpers: every predictor call takes one semaphore slot and a span.

func (s *Solver) invokeAtomize(ctx context.Context, node *taskgraph.TaskNode, composed string) (AtomizeDecision, error) {
	var out AtomizeDecision
	err := s.withSlot(ctx, RoleAtomizer, node.TaskID, func(ctx context.Context) error {
		var err error
		out, err = s.suite.Atomizer.Atomize(ctx, node.Goal, composed)
		return err
	})
	return out, err
}

func (s *Solver) invokePlan(ctx context.Context, node *taskgraph.TaskNode, composed string) (PlanDecision, error) {
	var out PlanDecision
	err := s.withSlot(ctx, RolePlanner, node.TaskID, func(ctx context.Context) error {
		var err error
		out, err = s.suite.Planner.Plan(ctx, node.Goal, composed)
		return err
	})
	return out, err
}

func (s *Solver) invokeExecute(ctx context.Context, node *taskgraph.TaskNode, composed string) (ExecuteDecision, error) {
	var out ExecuteDecision
	err := s.withSlot(ctx, RoleExecutor, node.TaskID, func(ctx context.Context) error {
		var err error
		out, err = s.suite.Executor.Execute(ctx, node.Goal, composed)
		return err
	})
	return out, err
}

func (s *Solver) invokeAggregate(ctx context.Context, node *taskgraph.TaskNode, composed string) (AggregateDecision, error) {
	var out AggregateDecision
	err := s.withSlot(ctx, RoleAggregator, node.TaskID, func(ctx context.Context) error {
		var err error
		out, err = s.suite.Aggregator.Aggregate(ctx, node.Goal, composed)
		return err
	})
	return out, err
}

func (s *Solver) invokeVerify(ctx context.Context, node *taskgraph.TaskNode, result, composed string) (VerifyDecision, error) {
	var out VerifyDecision
	err := s.withSlot(ctx, RoleVerifier, node.TaskID, func(ctx context.Context) error {
		var err error
		out, err = s.suite.Verifier.Verify(ctx, node.Goal, result, composed)
		return err
	})
	return out, err
}

func (s *Solver) withSlot(ctx context.Context, role Role, taskID string, fn func(context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return &taskerr.CancelledError{TaskID: taskID, Err: err}
	}
	defer s.sem.Release(1)

	ctx, span := observability.StartPredictorSpan(ctx, s.tracer, string(role), taskID)
	defer span.End()

	err := fn(ctx)
	if err != nil && s.opts.Metrics != nil {
		s.opts.Metrics.PredictorFailure(string(role))
	}
	return err
}
