package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/pkg/template"
)

// DefaultLoopWorkers bounds concurrent iterations of a parallel loop.
const DefaultLoopWorkers = 4

// LoopExecutor iterates a sub-graph over a collection. Iterations run
// sequentially unless config.parallel is set, and each iteration's
// steps land in the run context under "<node_id>[<index>]" keys.
type LoopExecutor struct{}

// RawConfigKeys: the sub-graph body and the per-item filter are
// resolved by the iteration's own context, not at loop dispatch time.
func (e *LoopExecutor) RawConfigKeys() []string {
	return []string{"nodes", "edges", "filter"}
}

func (e *LoopExecutor) Validate(config map[string]any) error {
	if _, ok := config["items"]; !ok {
		return fmt.Errorf("loop requires items")
	}
	if _, ok := config["nodes"]; !ok {
		return fmt.Errorf("loop requires a nodes sub-graph")
	}
	return nil
}

func (e *LoopExecutor) Execute(ctx context.Context, config map[string]any, ec *Context) (map[string]any, error) {
	items, ok := config["items"].([]any)
	if !ok {
		return nil, &template.ResolveError{
			Expr:   "items",
			Reason: fmt.Sprintf("loop items must resolve to an array, got %T", config["items"]),
		}
	}

	nodes, edges, err := models.DecodeSubGraph(config["nodes"], config["edges"])
	if err != nil {
		return nil, err
	}

	items, err = e.filterItems(items, config, ec)
	if err != nil {
		return nil, err
	}

	iterations := make([]any, len(items))
	if len(items) == 0 {
		return map[string]any{"iterations": iterations}, nil
	}

	levelTimeout := getSeconds(config, "level_timeout", models.DefaultLevelTimeout)
	runIteration := func(i int) *SubGraphResult {
		return ec.SubGraph.RunSubGraph(ctx, SubGraphOptions{
			Nodes:         nodes,
			Edges:         edges,
			LevelTimeout:  levelTimeout,
			LoopFrame:     &models.LoopFrame{Item: items[i], Index: i, Length: len(items)},
			StepKeySuffix: fmt.Sprintf("[%d]", i),
		})
	}

	var firstErr error
	if getBool(config, "parallel", false) {
		firstErr = e.runParallel(ctx, len(items), getInt(config, "max_workers", DefaultLoopWorkers),
			runIteration, iterations)
	} else {
		for i := range items {
			sub := runIteration(i)
			iterations[i] = iterationOutputs(sub)
			if sub.Failed() {
				firstErr = fmt.Errorf("iteration %d: %w", i, sub.Err)
				break
			}
			if err := ctx.Err(); err != nil {
				firstErr = err
				break
			}
		}
	}

	outputs := map[string]any{"iterations": iterations}
	if firstErr != nil {
		return outputs, firstErr
	}
	return outputs, nil
}

func (e *LoopExecutor) runParallel(ctx context.Context, n, maxWorkers int,
	run func(int) *SubGraphResult, iterations []any) error {

	if maxWorkers <= 0 {
		maxWorkers = DefaultLoopWorkers
	}
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			sub := run(i)
			mu.Lock()
			iterations[i] = iterationOutputs(sub)
			if sub.Failed() && firstErr == nil {
				firstErr = fmt.Errorf("iteration %d: %w", i, sub.Err)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return firstErr
}

// filterItems drops items whose filter expression evaluates false. The
// frame seen by the filter carries the item's position in the original
// collection; surviving items are re-indexed for execution.
func (e *LoopExecutor) filterItems(items []any, config map[string]any, ec *Context) ([]any, error) {
	filter := getString(config, "filter", "")
	if filter == "" {
		return items, nil
	}
	kept := make([]any, 0, len(items))
	for i, item := range items {
		frameCtx := &template.Context{
			Variables: ec.Template.Variables,
			Steps:     ec.Template.Steps,
			Loop:      &models.LoopFrame{Item: item, Index: i, Length: len(items)},
		}
		keep, err := ec.Expressions.EvalBool(filter, frameCtx)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if keep {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// iterationOutputs flattens a sub-graph result into the shape stored
// under outputs.iterations[i]: node id -> {status, outputs}.
func iterationOutputs(sub *SubGraphResult) map[string]any {
	out := make(map[string]any, len(sub.Steps))
	for id, step := range sub.Steps {
		out[id] = map[string]any{
			"status":  string(step.Status),
			"outputs": step.Outputs,
		}
	}
	return out
}
