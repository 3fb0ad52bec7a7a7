package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/dagrun/pkg/models"
)

// Fork defaults (spec'd per-fork caps).
const (
	DefaultForkWorkers     = 5
	DefaultForkTimeout     = 600 * time.Second
	DefaultMaxNodesPerPath = 50
	DefaultMaxTotalNodes   = 200
)

// ForkExecutor fans out over parallel paths, each a conditionally
// gated sub-DAG, and joins on their completion with an overall
// deadline. Node-count budgets aggregate up the fork nesting chain.
type ForkExecutor struct{}

func (e *ForkExecutor) RawConfigKeys() []string { return []string{"paths"} }

func (e *ForkExecutor) Validate(config map[string]any) error {
	if _, ok := config["paths"].([]any); !ok {
		return fmt.Errorf("fork requires a paths list")
	}
	return nil
}

// forkPath is one decoded path descriptor.
type forkPath struct {
	id        string
	condition string
	nodes     []*models.Node
	edges     []*models.Edge
	timeout   time.Duration
}

type forkPathResult struct {
	conditionMet bool
	status       models.StepStatus
	nodes        map[string]any
	err          error
}

func (e *ForkExecutor) Execute(ctx context.Context, config map[string]any, ec *Context) (map[string]any, error) {
	paths, err := e.decodePaths(config)
	if err != nil {
		return nil, err
	}

	// Budget check before any path starts: per-path cap, own total
	// cap, and the caps of every enclosing fork.
	maxPerPath := getInt(config, "max_nodes_per_path", DefaultMaxNodesPerPath)
	total := 0
	for _, p := range paths {
		if len(p.nodes) > maxPerPath {
			return nil, fmt.Errorf("%w: path %s has %d nodes, cap %d",
				ErrBudgetExceeded, p.id, len(p.nodes), maxPerPath)
		}
		total += len(p.nodes)
	}
	budget := NewBudget(ec.Budget, getInt(config, "max_total_nodes", DefaultMaxTotalNodes))
	if err := budget.Charge(total); err != nil {
		return nil, err
	}

	forkCtx, cancel := context.WithTimeout(ctx, getSeconds(config, "timeout", DefaultForkTimeout))
	defer cancel()

	results := make([]*forkPathResult, len(paths))
	workers := getInt(config, "max_workers", DefaultForkWorkers)
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p *forkPath) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-forkCtx.Done():
				results[i] = &forkPathResult{status: models.StepCancelled}
				return
			}
			results[i] = e.runPath(forkCtx, p, budget, ec)
		}(i, p)
	}
	wg.Wait()

	outputs := map[string]any{"type": "fork", "total_paths": len(paths)}
	pathsOut := make(map[string]any, len(paths))
	executed := 0
	allOK := true
	for i, p := range paths {
		res := results[i]
		if res == nil {
			res = &forkPathResult{status: models.StepCancelled}
		}
		if res.conditionMet {
			executed++
		}
		if res.status != models.StepSuccess && res.status != models.StepSkipped {
			allOK = false
		}
		entry := map[string]any{
			"condition_met": res.conditionMet,
			"status":        string(res.status),
		}
		if res.nodes != nil {
			entry["nodes"] = res.nodes
		}
		if res.err != nil {
			entry["error"] = res.err.Error()
		}
		pathsOut[p.id] = entry
	}
	outputs["paths_executed"] = executed
	outputs["paths"] = pathsOut

	if !allOK {
		if forkCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return outputs, fmt.Errorf("fork deadline exceeded with %d/%d paths finished",
				finished(results), len(paths))
		}
		return outputs, fmt.Errorf("one or more fork paths failed")
	}
	return outputs, nil
}

func (e *ForkExecutor) runPath(ctx context.Context, p *forkPath, budget *Budget, ec *Context) *forkPathResult {
	met := true
	if p.condition != "" {
		var err error
		met, err = ec.Expressions.EvalBool(p.condition, ec.Template)
		if err != nil {
			return &forkPathResult{status: models.StepFailed, err: err}
		}
	}
	if !met {
		return &forkPathResult{conditionMet: false, status: models.StepSkipped}
	}

	sub := ec.SubGraph.RunSubGraph(ctx, SubGraphOptions{
		Nodes:        p.nodes,
		Edges:        p.edges,
		LevelTimeout: p.timeout,
		Budget:       budget,
	})

	res := &forkPathResult{conditionMet: true, nodes: subGraphNodes(sub)}
	switch {
	case !sub.Failed():
		res.status = models.StepSuccess
	case ctx.Err() != nil:
		// Fork deadline interrupted the path mid-flight.
		res.status = models.StepCancelled
	default:
		res.status = models.StepFailed
		res.err = sub.Err
	}
	return res
}

func (e *ForkExecutor) decodePaths(config map[string]any) ([]*forkPath, error) {
	raw, ok := config["paths"].([]any)
	if !ok {
		return nil, fmt.Errorf("fork requires a paths list")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	paths := make([]*forkPath, 0, len(raw))
	for i, item := range raw {
		pm, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("fork path %d must be an object, got %T", i, item)
		}
		nodes, edges, err := models.DecodeSubGraph(pm["nodes"], pm["edges"])
		if err != nil {
			return nil, fmt.Errorf("fork path %d: %w", i, err)
		}
		paths = append(paths, &forkPath{
			id:        getString(pm, "id", fmt.Sprintf("path_%d", i+1)),
			condition: getString(pm, "condition", ""),
			nodes:     nodes,
			edges:     edges,
			timeout:   getSeconds(pm, "level_timeout", models.DefaultLevelTimeout),
		})
	}
	return paths, nil
}

func finished(results []*forkPathResult) int {
	n := 0
	for _, r := range results {
		if r != nil && r.status != models.StepCancelled {
			n++
		}
	}
	return n
}
