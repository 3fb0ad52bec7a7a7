package engine

import (
	"sync"

	"github.com/smilemakc/dagrun/pkg/executor"
	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/pkg/template"
)

// ExecutionState is the single shared mutable resource of a run:
// workflow variables, step results and the run id. Writes are
// serialized; template reads take a snapshot so evaluation never
// blocks writers.
type ExecutionState struct {
	runID     string
	variables map[string]any

	mu    sync.RWMutex
	steps map[string]*models.StepResult
}

// NewExecutionState seeds a state with the workflow variables.
func NewExecutionState(runID string, variables map[string]any) *ExecutionState {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &ExecutionState{
		runID:     runID,
		variables: vars,
		steps:     make(map[string]*models.StepResult),
	}
}

// RunID returns the opaque run identifier.
func (s *ExecutionState) RunID() string { return s.runID }

// WriteStep records a terminal step result. Results are write-once:
// the scheduler writes each key exactly once per run.
func (s *ExecutionState) WriteStep(key string, step *models.StepResult) {
	s.mu.Lock()
	s.steps[key] = step
	s.mu.Unlock()
}

// Step returns the recorded result for a key.
func (s *ExecutionState) Step(key string) (*models.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[key]
	return step, ok
}

// Steps returns a copy of all recorded step results.
func (s *ExecutionState) Steps() map[string]*models.StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.StepResult, len(s.steps))
	for k, v := range s.steps {
		out[k] = v
	}
	return out
}

// scope is the execution lineage of one scheduler instance: the loop
// frame visible to its nodes, the composite-key suffix for step
// writes, locally produced steps for same-iteration reads, and the
// fork budget chain.
type scope struct {
	parent *scope
	frame  *models.LoopFrame
	suffix string
	budget *executor.Budget

	mu    sync.RWMutex
	local map[string]*models.StepResult
}

func newScope(parent *scope, frame *models.LoopFrame, suffix string, budget *executor.Budget) *scope {
	sc := &scope{
		parent: parent,
		frame:  frame,
		suffix: suffix,
		local:  make(map[string]*models.StepResult),
	}
	if budget == nil && parent != nil {
		budget = parent.budget
	}
	sc.budget = budget
	return sc
}

func (sc *scope) writeLocal(id string, step *models.StepResult) {
	sc.mu.Lock()
	sc.local[id] = step
	sc.mu.Unlock()
}

func (sc *scope) localSteps() map[string]*models.StepResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make(map[string]*models.StepResult, len(sc.local))
	for k, v := range sc.local {
		out[k] = v
	}
	return out
}

// innermostFrame walks the lineage for the closest loop frame.
func (sc *scope) innermostFrame() *models.LoopFrame {
	for s := sc; s != nil; s = s.parent {
		if s.frame != nil {
			return s.frame
		}
	}
	return nil
}

// compositeSuffix concatenates the suffixes of the lineage, outermost
// first, e.g. "[1][3]" for a loop nested in a loop.
func (sc *scope) compositeSuffix() string {
	if sc == nil {
		return ""
	}
	return sc.parent.compositeSuffix() + sc.suffix
}

// Snapshot builds the read-only template context for an execution in
// this scope: the global steps overlaid with every lineage-local step
// under its plain id.
func (s *ExecutionState) Snapshot(sc *scope) *template.Context {
	steps := s.Steps()

	// Overlay outermost-first so inner scopes win.
	var chain []*scope
	for cur := sc; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for id, step := range chain[i].localSteps() {
			steps[id] = step
		}
	}

	ctx := &template.Context{
		Variables: s.variables,
		Steps:     steps,
	}
	if sc != nil {
		ctx.Loop = sc.innermostFrame()
	}
	return ctx
}
