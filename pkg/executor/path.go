package executor

import (
	"context"
	"fmt"

	"github.com/smilemakc/dagrun/pkg/models"
)

// PathExecutor gates a sub-DAG behind a condition. When the gate is
// false the sub-graph is never touched and the node reports skipped.
type PathExecutor struct{}

func (e *PathExecutor) RawConfigKeys() []string {
	return []string{"condition", "nodes", "edges"}
}

func (e *PathExecutor) Validate(config map[string]any) error {
	if _, ok := config["nodes"]; !ok {
		return fmt.Errorf("path requires a nodes sub-graph")
	}
	return nil
}

func (e *PathExecutor) Execute(ctx context.Context, config map[string]any, ec *Context) (map[string]any, error) {
	met := true
	if source := getString(config, "condition", ""); source != "" {
		var err error
		met, err = ec.Expressions.EvalBool(source, ec.Template)
		if err != nil {
			return nil, err
		}
	}
	if !met {
		return map[string]any{
			"condition_met": false,
			"status":        string(models.StepSkipped),
		}, nil
	}

	nodes, edges, err := models.DecodeSubGraph(config["nodes"], config["edges"])
	if err != nil {
		return nil, err
	}

	sub := ec.SubGraph.RunSubGraph(ctx, SubGraphOptions{
		Nodes:        nodes,
		Edges:        edges,
		LevelTimeout: getSeconds(config, "level_timeout", models.DefaultLevelTimeout),
	})

	status := models.StepSuccess
	if sub.Failed() {
		status = models.StepFailed
	}
	outputs := map[string]any{
		"condition_met": true,
		"status":        string(status),
		"nodes":         subGraphNodes(sub),
	}
	if sub.Failed() {
		return outputs, fmt.Errorf("path sub-graph failed: %w", sub.Err)
	}
	return outputs, nil
}

// subGraphNodes flattens sub-graph steps into node id -> {status, output}.
func subGraphNodes(sub *SubGraphResult) map[string]any {
	out := make(map[string]any, len(sub.Steps))
	for id, step := range sub.Steps {
		out[id] = map[string]any{
			"status": string(step.Status),
			"output": step.Outputs,
		}
	}
	return out
}
