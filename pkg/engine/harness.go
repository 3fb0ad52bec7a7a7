package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smilemakc/dagrun/pkg/executor"
	"github.com/smilemakc/dagrun/pkg/expression"
	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/pkg/template"
)

// harness executes a single node: template resolution, per-attempt
// timeout, retry with delay, continue_on_error accounting.
type harness struct {
	opts       *Options
	state      *ExecutionState
	evaluator  *expression.Evaluator
	workflowID string
}

func newHarness(opts *Options, state *ExecutionState, workflowID string) *harness {
	return &harness{
		opts:       opts,
		state:      state,
		evaluator:  expression.New(),
		workflowID: workflowID,
	}
}

type attemptResult struct {
	outputs map[string]any
	err     error
}

// runNode drives a node to a terminal step result. The returned error
// is non-nil only when the failure must propagate (continue_on_error
// unset); the step result is always valid.
func (h *harness) runNode(ctx context.Context, node *models.Node, sc *scope) (*models.StepResult, error) {
	start := h.opts.Clock.Now()
	attempts := node.Retry.MaxRetries + 1

	nodeCtx, span := h.opts.Tracer.Start(ctx, "node "+node.ID, trace.WithAttributes(
		attribute.String("dagrun.node.id", node.ID),
		attribute.String("dagrun.node.type", string(node.Type)),
	))
	defer span.End()

	h.notify(nodeCtx, ExecutionEvent{
		Type: EventNodeStarted, NodeID: node.ID, NodeType: node.Type,
	})
	h.opts.Logger.Debug().
		Str("run_id", h.state.RunID()).
		Str("node_id", node.ID).
		Str("node_type", string(node.Type)).
		Msg("node started")

	var outputs map[string]any
	var lastErr error
	used := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			h.notify(nodeCtx, ExecutionEvent{
				Type: EventNodeRetrying, NodeID: node.ID, NodeType: node.Type, Attempt: i + 1,
			})
			if h.opts.Metrics != nil {
				h.opts.Metrics.RetriesTotal.Inc()
			}
			if err := h.sleep(nodeCtx, node.Retry.Delay()); err != nil {
				lastErr = err
				break
			}
		}
		used = i + 1
		res := h.attempt(nodeCtx, node, sc)
		outputs, lastErr = res.outputs, res.err
		if lastErr == nil {
			break
		}
		if nodeCtx.Err() != nil {
			break
		}
	}

	step := &models.StepResult{
		Outputs:    outputs,
		Attempts:   used,
		DurationMs: h.opts.Clock.Now().Sub(start).Milliseconds(),
	}
	if step.Outputs == nil {
		step.Outputs = map[string]any{}
	}

	switch {
	case lastErr == nil:
		step.Status = models.StepSuccess
		span.SetStatus(codes.Ok, "")
		h.finishNode(nodeCtx, node, step, nil)
		return step, nil

	case nodeCtx.Err() != nil:
		step.Status = models.StepCancelled
		step.Error = ErrCancelled.Error()
		span.SetStatus(codes.Error, step.Error)
		h.finishNode(nodeCtx, node, step, lastErr)
		return step, nil

	default:
		step.Status = models.StepFailed
		step.Error = lastErr.Error()
		span.SetStatus(codes.Error, step.Error)
		h.finishNode(nodeCtx, node, step, lastErr)
		if node.ErrorHandling.ContinueOnError {
			return step, nil
		}
		return step, &NodeError{NodeID: node.ID, Attempts: used, Err: lastErr}
	}
}

// attempt runs one execution attempt. Template resolution and
// step-output reads happen inside the timed region so expensive
// resolution is accounted for. The worker goroutine may outlive a
// timed-out attempt; cancellation of the underlying work is
// best-effort through the context.
func (h *harness) attempt(ctx context.Context, node *models.Node, sc *scope) attemptResult {
	attemptCtx := ctx
	timeout, hasTimeout := node.Timeout()
	if hasTimeout {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan attemptResult, 1)
	go func() {
		ch <- h.execute(attemptCtx, node, sc)
	}()

	select {
	case res := <-ch:
		return res
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return attemptResult{err: ctx.Err()}
		}
		h.notify(ctx, ExecutionEvent{
			Type: EventNodeTimeout, NodeID: node.ID, NodeType: node.Type,
		})
		h.opts.Logger.Warn().
			Str("run_id", h.state.RunID()).
			Str("node_id", node.ID).
			Dur("timeout", timeout).
			Msg("node attempt timed out")
		return attemptResult{err: &TimeoutError{Scope: TimeoutNode, Subject: node.ID, Limit: timeout}}
	}
}

func (h *harness) execute(ctx context.Context, node *models.Node, sc *scope) attemptResult {
	exec, err := h.opts.Executors.Get(node.Type)
	if err != nil {
		return attemptResult{err: err}
	}

	snapshot := h.state.Snapshot(sc)
	resolved, err := template.ResolveConfig(node.Config, rawKeys(exec), snapshot)
	if err != nil {
		return attemptResult{err: err}
	}

	ec := &executor.Context{
		RunID:       h.state.RunID(),
		NodeID:      node.ID,
		Template:    snapshot,
		Expressions: h.evaluator,
		SubGraph:    &subGraphRunner{h: h, parent: sc},
		Budget:      sc.budget,
	}
	outputs, err := exec.Execute(ctx, resolved, ec)
	return attemptResult{outputs: outputs, err: err}
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-h.opts.Clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *harness) finishNode(ctx context.Context, node *models.Node, step *models.StepResult, cause error) {
	eventType := EventNodeCompleted
	if step.Status == models.StepFailed || step.Status == models.StepCancelled {
		eventType = EventNodeFailed
	}
	h.notify(ctx, ExecutionEvent{
		Type: eventType, NodeID: node.ID, NodeType: node.Type,
		Status: step.Status, Attempt: step.Attempts,
		Error: cause, DurationMs: step.DurationMs,
	})

	logEvent := h.opts.Logger.Info()
	if cause != nil {
		logEvent = h.opts.Logger.Error().Err(cause)
	}
	logEvent.
		Str("run_id", h.state.RunID()).
		Str("node_id", node.ID).
		Str("status", string(step.Status)).
		Int("attempts", step.Attempts).
		Int64("duration_ms", step.DurationMs).
		Msg("node finished")

	if h.opts.Metrics != nil {
		h.opts.Metrics.NodesTotal.WithLabelValues(string(node.Type), string(step.Status)).Inc()
		h.opts.Metrics.NodeDuration.WithLabelValues(string(node.Type)).
			Observe(float64(step.DurationMs) / 1000)
	}
}

func (h *harness) notify(ctx context.Context, event ExecutionEvent) {
	event.RunID = h.state.RunID()
	event.WorkflowID = h.workflowID
	event.Timestamp = h.opts.Clock.Now()
	h.opts.Notifier.Notify(ctx, event)
}

func rawKeys(exec executor.Executor) map[string]bool {
	keyser, ok := exec.(executor.RawConfigKeyser)
	if !ok {
		return nil
	}
	keys := keyser.RawConfigKeys()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}
