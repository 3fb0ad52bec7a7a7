package engine

import (
	"context"

	"github.com/smilemakc/dagrun/pkg/executor"
)

// subGraphRunner lets control-flow executors re-enter the engine with
// their own sub-graph, pool and deadline. Each call creates a child
// scope of the invoking execution's lineage.
type subGraphRunner struct {
	h      *harness
	parent *scope
}

func (r *subGraphRunner) RunSubGraph(ctx context.Context, opts executor.SubGraphOptions) *executor.SubGraphResult {
	sc := newScope(r.parent, opts.LoopFrame, opts.StepKeySuffix, opts.Budget)
	sched := newScheduler(r.h, opts.Nodes, opts.Edges, opts.LevelTimeout, opts.MaxWorkers, sc)
	err := sched.run(ctx)
	return &executor.SubGraphResult{Steps: sc.localSteps(), Err: err}
}
