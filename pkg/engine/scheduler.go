package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smilemakc/dagrun/pkg/models"
)

// scheduler executes one (sub-)graph to completion. Each instance is a
// value parameterized by its node set, edge set, pool bound and level
// deadline; fork, path and loop executors create nested instances
// through subGraphRunner.
type scheduler struct {
	h            *harness
	nodes        []*models.Node
	edges        []*models.Edge
	levelTimeout time.Duration
	maxWorkers   int
	sc           *scope
}

func newScheduler(h *harness, nodes []*models.Node, edges []*models.Edge,
	levelTimeout time.Duration, maxWorkers int, sc *scope) *scheduler {

	if levelTimeout <= 0 {
		levelTimeout = models.DefaultLevelTimeout
	}
	if maxWorkers <= 0 {
		maxWorkers = h.opts.MaxWorkers
	}
	return &scheduler{
		h:            h,
		nodes:        nodes,
		edges:        edges,
		levelTimeout: levelTimeout,
		maxWorkers:   maxWorkers,
		sc:           sc,
	}
}

// routing holds the per-run edge decision bookkeeping. A node becomes
// runnable when every incoming source has decided (traversed or
// disabled) and at least one incoming edge was traversed. Edges of
// kinds success and failure from the same source are mutually
// exclusive and form a single decision.
type routing struct {
	incoming map[string]map[string]bool // target -> sources
	decided  map[string]map[string]bool // target -> sources heard from
	enabled  map[string]int             // target -> traversable incoming edges
}

func newRouting(edges []*models.Edge) *routing {
	r := &routing{
		incoming: make(map[string]map[string]bool),
		decided:  make(map[string]map[string]bool),
		enabled:  make(map[string]int),
	}
	for _, e := range edges {
		if r.incoming[e.To] == nil {
			r.incoming[e.To] = make(map[string]bool)
		}
		r.incoming[e.To][e.From] = true
	}
	return r
}

// decide records the terminal outcome of a source node on all its
// outgoing edges.
func (r *routing) decide(edges []*models.Edge, source string, status models.StepStatus, branch string) {
	for _, e := range edges {
		if e.From != source {
			continue
		}
		if r.decided[e.To] == nil {
			r.decided[e.To] = make(map[string]bool)
		}
		r.decided[e.To][source] = true
		if traversable(e.EffectiveKind(), status, branch) {
			r.enabled[e.To]++
		}
	}
}

// allDecided reports whether every incoming source of id has decided.
func (r *routing) allDecided(id string) bool {
	return len(r.decided[id]) == len(r.incoming[id])
}

// runnable reports whether id is ready: no incoming edges, or fully
// decided with at least one traversed edge.
func (r *routing) runnable(id string) bool {
	if len(r.incoming[id]) == 0 {
		return true
	}
	return r.allDecided(id) && r.enabled[id] > 0
}

// blocked reports whether id can never run: fully decided with no
// traversed edge.
func (r *routing) blocked(id string) bool {
	return len(r.incoming[id]) > 0 && r.allDecided(id) && r.enabled[id] == 0
}

// traversable implements the edge routing rule.
func traversable(kind models.EdgeKind, status models.StepStatus, branch string) bool {
	switch kind {
	case models.EdgeSuccess:
		return status == models.StepSuccess
	case models.EdgeFailure:
		return status == models.StepFailed
	case models.EdgeTrue:
		return status == models.StepSuccess && branch == "true"
	case models.EdgeFalse:
		return status == models.StepSuccess && branch == "false"
	case models.EdgeDefault:
		return status == models.StepSuccess || status == models.StepFailed
	}
	return false
}

type nodeOutcome struct {
	node *models.Node
	step *models.StepResult
	err  error
}

// run executes the graph level by level until no runnable nodes
// remain, an end node completes, a node fails unrecovered, or a level
// deadline fires.
func (s *scheduler) run(ctx context.Context) error {
	pending := make(map[string]*models.Node, len(s.nodes))
	for _, n := range s.nodes {
		pending[n.ID] = n
	}
	routes := newRouting(s.edges)

	levelIndex := 0
	for len(pending) > 0 {
		s.cascadeSkips(pending, routes)

		ready := s.collectReady(pending, routes)
		if len(ready) == 0 {
			// Remaining nodes are unreachable on the taken branches.
			return nil
		}

		s.h.notify(ctx, ExecutionEvent{
			Type: EventLevelStarted, LevelIndex: levelIndex, NodeCount: len(ready),
		})

		outcomes, levelErr := s.runLevel(ctx, ready)

		endReached := false
		for _, out := range outcomes {
			delete(pending, out.node.ID)
			s.record(out.node.ID, out.step)
			if out.step.Status == models.StepSuccess || out.step.Status == models.StepFailed {
				routes.decide(s.edges, out.node.ID, out.step.Status, branchOf(out.step))
			}
			if out.node.Type == models.NodeTypeEnd && out.step.Status == models.StepSuccess {
				endReached = true
			}
		}

		if levelErr != nil {
			if isLevelTimeout(levelErr) {
				s.h.opts.Logger.Warn().
					Str("run_id", s.h.state.RunID()).
					Int("level", levelIndex).
					Err(levelErr).
					Msg("level timed out")
				s.h.notify(ctx, ExecutionEvent{
					Type: EventLevelTimeout, LevelIndex: levelIndex, Error: levelErr,
				})
				if s.h.opts.Metrics != nil {
					s.h.opts.Metrics.LevelTimeouts.Inc()
				}
			}
			return levelErr
		}
		if endReached {
			return nil
		}
		levelIndex++
	}
	return nil
}

// runLevel dispatches a level to the worker pool and waits for the
// whole level with the level deadline. On an unrecovered node failure
// the remaining level is cancelled.
func (s *scheduler) runLevel(ctx context.Context, ready []*models.Node) ([]nodeOutcome, error) {
	levelCtx, cancel := context.WithTimeout(ctx, s.levelTimeout)
	defer cancel()

	outcomes := make([]nodeOutcome, len(ready))
	sem := make(chan struct{}, s.maxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, node := range ready {
		wg.Add(1)
		go func(i int, node *models.Node) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-levelCtx.Done():
				outcomes[i] = nodeOutcome{node: node, step: cancelledStep()}
				return
			}
			step, err := s.h.runNode(levelCtx, node, s.sc)
			outcomes[i] = nodeOutcome{node: node, step: step, err: err}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(i, node)
	}
	wg.Wait()

	for i := range outcomes {
		if outcomes[i].step == nil {
			outcomes[i] = nodeOutcome{node: ready[i], step: cancelledStep()}
		}
	}

	if firstErr != nil {
		return outcomes, firstErr
	}
	if levelCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return outcomes, &TimeoutError{
			Scope:   TimeoutLevel,
			Subject: fmt.Sprintf("%d node(s) in flight", countCancelled(outcomes)),
			Limit:   s.levelTimeout,
		}
	}
	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return outcomes, nil
}

// cascadeSkips removes nodes that can never run and propagates the
// skip decision downstream, so joins behind an untaken branch resolve.
func (s *scheduler) cascadeSkips(pending map[string]*models.Node, routes *routing) {
	for {
		var skipped []string
		for id := range pending {
			if routes.blocked(id) {
				skipped = append(skipped, id)
			}
		}
		if len(skipped) == 0 {
			return
		}
		for _, id := range skipped {
			delete(pending, id)
			routes.decide(s.edges, id, models.StepSkipped, "")
		}
	}
}

func (s *scheduler) collectReady(pending map[string]*models.Node, routes *routing) []*models.Node {
	var ready []*models.Node
	for id, node := range pending {
		if routes.runnable(id) {
			ready = append(ready, node)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// record writes a terminal step to the lineage-local view and, under
// the composite key, to the shared run context.
func (s *scheduler) record(id string, step *models.StepResult) {
	s.sc.writeLocal(id, step)
	s.h.state.WriteStep(id+s.sc.compositeSuffix(), step)
}

func branchOf(step *models.StepResult) string {
	branch, _ := step.Outputs["branch"].(string)
	return branch
}

func cancelledStep() *models.StepResult {
	return &models.StepResult{
		Status:  models.StepCancelled,
		Outputs: map[string]any{},
		Error:   ErrCancelled.Error(),
	}
}

func countCancelled(outcomes []nodeOutcome) int {
	n := 0
	for _, out := range outcomes {
		if out.step != nil && out.step.Status == models.StepCancelled {
			n++
		}
	}
	return n
}
