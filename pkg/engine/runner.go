// Package engine interprets a declarative workflow DAG: it validates
// the graph, schedules nodes level by level with bounded parallelism
// and hierarchical timeouts, and aggregates step results into the run
// result document.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smilemakc/dagrun/pkg/models"
)

// Runner is the run driver: it validates a workflow definition, seeds
// the execution context and invokes the top-level scheduler.
type Runner struct {
	opts *Options
}

// NewRunner creates a Runner. A nil options value uses the defaults.
func NewRunner(opts *Options) *Runner {
	return &Runner{opts: opts.withDefaults()}
}

// Execute runs a workflow to completion and returns the run result.
// The returned error is non-nil only for definition validation
// failures; execution failures are reported through the result's
// status and error fields with partial steps preserved.
func (r *Runner) Execute(ctx context.Context, wf *models.Workflow) (*models.RunResult, error) {
	warnings, err := wf.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, warning := range warnings {
		r.opts.Logger.Warn().
			Str("workflow_id", wf.ID).
			Msg(warning.String())
	}

	runID := uuid.NewString()
	state := NewExecutionState(runID, wf.Config.Variables)
	h := newHarness(r.opts, state, wf.ID)

	ctx, span := r.opts.Tracer.Start(ctx, "run "+wf.ID, trace.WithAttributes(
		attribute.String("dagrun.run.id", runID),
		attribute.String("dagrun.workflow.id", wf.ID),
	))
	defer span.End()

	h.notify(ctx, ExecutionEvent{Type: EventRunStarted})
	r.opts.Logger.Info().
		Str("run_id", runID).
		Str("workflow_id", wf.ID).
		Str("workflow_name", wf.Name).
		Msg("run started")

	start := r.opts.Clock.Now()
	sched := newScheduler(h, wf.Nodes, wf.Edges, wf.Config.LevelTimeout(), r.opts.MaxWorkers,
		newScope(nil, nil, "", nil))
	runErr := sched.run(ctx)
	duration := r.opts.Clock.Now().Sub(start)

	result := &models.RunResult{
		RunID:      runID,
		WorkflowID: wf.ID,
		Status:     statusOf(runErr),
		DurationMs: duration.Milliseconds(),
		Steps:      state.Steps(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
		span.SetStatus(codes.Error, result.Error)
		h.notify(ctx, ExecutionEvent{Type: EventRunFailed, Error: runErr, DurationMs: result.DurationMs})
	} else {
		span.SetStatus(codes.Ok, "")
		h.notify(ctx, ExecutionEvent{Type: EventRunCompleted, DurationMs: result.DurationMs})
	}

	r.opts.Logger.Info().
		Str("run_id", runID).
		Str("status", string(result.Status)).
		Int64("duration_ms", result.DurationMs).
		Msg("run finished")
	if r.opts.Metrics != nil {
		r.opts.Metrics.RunsTotal.WithLabelValues(string(result.Status)).Inc()
		r.opts.Metrics.RunDuration.Observe(duration.Seconds())
	}
	return result, nil
}

// statusOf maps the scheduler outcome to the run status: a top-level
// level timeout reports timeout, any other unrecovered error reports
// failed.
func statusOf(err error) models.RunStatus {
	switch {
	case err == nil:
		return models.RunCompleted
	case isLevelTimeout(err):
		return models.RunTimeout
	default:
		return models.RunFailed
	}
}

// isLevelTimeout reports whether err is this scheduler's own level
// deadline. Nested level timeouts arrive wrapped by the loop or path
// executor and are deliberately not unwrapped.
func isLevelTimeout(err error) bool {
	te, ok := err.(*TimeoutError)
	return ok && te.Scope == TimeoutLevel
}
