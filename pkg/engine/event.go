package engine

import (
	"time"

	"github.com/smilemakc/dagrun/pkg/models"
)

// Event types emitted over a run's lifecycle.
const (
	EventRunStarted    = "run.started"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
	EventLevelStarted  = "level.started"
	EventLevelTimeout  = "level.timeout"
	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"
	EventNodeRetrying  = "node.retrying"
	EventNodeTimeout   = "node.timeout"
)

// ExecutionEvent is a lifecycle event during workflow execution.
type ExecutionEvent struct {
	Type       string
	RunID      string
	WorkflowID string
	NodeID     string
	NodeType   models.NodeType
	Status     models.StepStatus
	Attempt    int
	LevelIndex int
	NodeCount  int
	Error      error
	DurationMs int64
	Timestamp  time.Time
}
