package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/meshflow/core"
)

// FailurePolicy selects how a ParallelAgent reacts to branch failures.
type FailurePolicy int

const (
	// FailFast cancels the siblings of the first failing branch and commits
	// nothing.
	FailFast FailurePolicy = iota
	// BestEffort lets every branch finish and commits the successful ones.
	BestEffort
)

func (p FailurePolicy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "fail_fast"
}

// ParseFailurePolicy parses "fail_fast" or "best_effort".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail_fast", "failfast":
		return FailFast, nil
	case "best_effort", "besteffort":
		return BestEffort, nil
	}
	return FailFast, fmt.Errorf("unknown failure policy %q", s)
}

// BranchResult is the outcome of one parallel branch.
type BranchResult struct {
	Agent     string
	Branch    string
	Event     core.Event   // terminal event
	Events    []core.Event // every event the branch committed to its buffer
	Err       error
	Completed time.Time
}

// ParallelError reports branch failures of a ParallelAgent. Results of the
// branches that completed are kept for diagnostics.
type ParallelError struct {
	Parallel  string
	Failures  []BranchResult
	Completed []BranchResult
}

func (e *ParallelError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", f.Agent, f.Err))
	}
	return fmt.Sprintf("parallel %s: %d branch(es) failed: %s", e.Parallel, len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes the branch errors to errors.Is and errors.As.
func (e *ParallelError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ParallelAgent runs its children concurrently, each against an isolated
// clone of the working session taken at fan-out. Branch commits are
// buffered; after every branch finished (the barrier) the buffers are
// committed branch by branch in completion order, so the last completing
// branch wins a key conflict. A barrier event authored by the composite
// follows; it escalates if any branch escalated.
//
// When the parent context is cancelled, branches that completed before the
// cancellation are committed and in-flight branches contribute nothing.
type ParallelAgent struct {
	BaseAgent
	children []core.Agent
	policy   FailurePolicy
	timeout  time.Duration
}

// NewParallelAgent creates a new parallel execution coordinator.
func NewParallelAgent(name string, children []core.Agent, optFns ...func(o *Options)) *ParallelAgent {
	opts := applyOptions(optFns)

	p := &ParallelAgent{
		BaseAgent: NewBaseAgent(name, children...),
		children:  children,
		policy:    opts.FailurePolicy,
		timeout:   opts.Timeout,
	}
	p.SetDescription(opts.Description)

	return p
}

// Run implements core.Agent.
func (p *ParallelAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, p, KindParallel, p.run)
}

type branchCollector struct {
	mu        sync.Mutex
	completed []BranchResult
	failed    []BranchResult
}

func (c *branchCollector) add(r BranchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Completed = time.Now()

	if r.Err != nil {
		c.failed = append(c.failed, r)
	} else {
		c.completed = append(c.completed, r)
	}
}

func (p *ParallelAgent) run(rc *core.RunContext) (core.Event, error) {
	ctx := rc.Context

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results := &branchCollector{}

	runBranch := func(ctx context.Context, child core.Agent) BranchResult {
		branch := buildBranchPath(rc.Branch, p.Name()+"."+child.Name())
		bctx, sink := rc.NewBranchContext(ctx, branch)

		ev, err := child.Run(bctx)

		r := BranchResult{Agent: child.Name(), Branch: branch, Event: ev, Err: err}
		if err == nil {
			r.Events = sink.Events()
		}

		results.add(r)

		return r
	}

	if p.policy == FailFast {
		g, gctx := errgroup.WithContext(ctx)

		for _, child := range p.children {
			g.Go(func() error {
				return runBranch(gctx, child).Err
			})
		}

		_ = g.Wait()
	} else {
		var wg sync.WaitGroup

		for _, child := range p.children {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runBranch(ctx, child)
			}()
		}

		wg.Wait()
	}

	if err := rc.Err(); err != nil {
		// Parent cancelled: keep what finished before the cancellation.
		rc.LogWarn("parallel.cancelled", "node", p.Name(), "completed", len(results.completed), "children", len(p.children))

		if cerr := p.commit(rc, results.completed); cerr != nil {
			return core.Event{}, errors.Join(err, cerr)
		}

		return core.Event{}, err
	}

	if len(results.failed) > 0 && (p.policy == FailFast || len(results.completed) == 0) {
		return core.Event{}, &ParallelError{
			Parallel:  p.Name(),
			Failures:  results.failed,
			Completed: results.completed,
		}
	}

	if err := p.commit(rc, results.completed); err != nil {
		return core.Event{}, err
	}

	return p.barrier(rc, results)
}

// commit forwards the buffered events of completed branches in completion
// order. The commit is detached from cancellation of rc.
func (p *ParallelAgent) commit(rc *core.RunContext, completed []BranchResult) error {
	ctx := context.WithoutCancel(rc.Context)

	for _, r := range completed {
		for _, ev := range r.Events {
			if err := rc.ForwardEvent(ctx, ev); err != nil {
				return fmt.Errorf("parallel %s: commit branch %s: %w", p.Name(), r.Agent, err)
			}
		}
	}

	return nil
}

func (p *ParallelAgent) barrier(rc *core.RunContext, results *branchCollector) (core.Event, error) {
	order := make([]string, 0, len(results.completed))
	escalate := false

	for _, r := range results.completed {
		order = append(order, r.Agent)
		escalate = escalate || r.Event.IsEscalation()
	}

	ev := core.NewEvent(rc.RunID, p.Name())
	ev.SetEscalate(escalate)
	ev.SetMetadata("branches", strconv.Itoa(len(p.children)))
	ev.SetMetadata("completion_order", strings.Join(order, ","))

	if len(results.failed) > 0 {
		failed := make([]string, 0, len(results.failed))
		for _, r := range results.failed {
			failed = append(failed, r.Agent)
			rc.LogWarn("parallel.branch_failed", "node", p.Name(), "failed_branch", r.Agent, "error", r.Err.Error())
		}

		ev.SetMetadata("failed_branches", strings.Join(failed, ","))
		ev.SetError(core.ErrorCode(results.failed[0].Err), (&ParallelError{Parallel: p.Name(), Failures: results.failed}).Error())
	}

	return emit(rc, ev)
}
