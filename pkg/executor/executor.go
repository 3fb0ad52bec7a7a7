// Package executor defines the node executor contract and the builtin
// executors for the closed node-type set. Control-flow executors
// re-enter the engine through the SubGraphRunner contract instead of
// importing it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/dagrun/pkg/expression"
	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/pkg/template"
)

// Executor runs one node type. Execute receives the node's config with
// templates already resolved by the harness (except keys declared via
// RawConfigKeys) and returns the node's outputs. Outputs returned
// alongside an error are preserved in the step result.
type Executor interface {
	Validate(config map[string]any) error
	Execute(ctx context.Context, config map[string]any, ec *Context) (map[string]any, error)
}

// RawConfigKeyser is implemented by executors that resolve some config
// keys themselves at execution time: condition expressions, path
// gates, loop filters and sub-graph bodies.
type RawConfigKeyser interface {
	RawConfigKeys() []string
}

// Context carries the per-execution collaborators an executor may
// need. The template context is a snapshot; reads never observe
// partial writes.
type Context struct {
	RunID       string
	NodeID      string
	Template    *template.Context
	Expressions *expression.Evaluator
	SubGraph    SubGraphRunner
	Budget      *Budget
}

// SubGraphOptions parameterizes a nested scheduler run.
type SubGraphOptions struct {
	Nodes        []*models.Node
	Edges        []*models.Edge
	LevelTimeout time.Duration
	MaxWorkers   int

	// LoopFrame, when set, becomes the innermost frame for the
	// sub-graph's executions.
	LoopFrame *models.LoopFrame

	// StepKeySuffix is appended to step keys written to the shared run
	// context, e.g. "[2]" for the third loop iteration.
	StepKeySuffix string

	// Budget, when set, replaces the budget chain seen by nested forks
	// inside the sub-graph.
	Budget *Budget
}

// SubGraphResult reports a nested scheduler run. Steps are keyed by
// plain node id regardless of StepKeySuffix.
type SubGraphResult struct {
	Steps map[string]*models.StepResult
	Err   error
}

// Failed reports whether the sub-graph finished with an unrecovered
// error.
func (r *SubGraphResult) Failed() bool { return r.Err != nil }

// SubGraphRunner executes a self-contained sub-graph against the
// shared run context. Implemented by the engine.
type SubGraphRunner interface {
	RunSubGraph(ctx context.Context, opts SubGraphOptions) *SubGraphResult
}

// ErrBudgetExceeded reports a fork node-count cap violation.
var ErrBudgetExceeded = errors.New("node budget exceeded")

// Budget caps the aggregate node count of nested forks. Charges
// propagate up the nesting chain so inner forks consume their
// ancestors' budgets too.
type Budget struct {
	parent *Budget
	limit  int

	mu   sync.Mutex
	used int
}

// NewBudget creates a budget of limit nodes nested under parent.
// A nil parent starts a chain.
func NewBudget(parent *Budget, limit int) *Budget {
	return &Budget{parent: parent, limit: limit}
}

// Charge reserves n nodes on this budget and every ancestor.
func (b *Budget) Charge(n int) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.used+n > b.limit {
		used := b.used
		b.mu.Unlock()
		return fmt.Errorf("%w: %d nodes requested, %d of %d used", ErrBudgetExceeded, n, used, b.limit)
	}
	b.used += n
	b.mu.Unlock()
	return b.parent.Charge(n)
}
