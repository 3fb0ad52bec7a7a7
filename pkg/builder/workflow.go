// Package builder constructs workflow definitions fluently. Errors
// accumulate and surface at Build, so chains stay uncluttered.
package builder

import (
	"fmt"

	"github.com/smilemakc/dagrun/pkg/models"
)

// WorkflowBuilder builds workflow definitions fluently.
type WorkflowBuilder struct {
	workflow  *models.Workflow
	nodes     map[string]*NodeBuilder
	nodeOrder []string
	edges     []*EdgeBuilder
	err       error
}

// WorkflowOption configures a WorkflowBuilder.
type WorkflowOption func(*WorkflowBuilder) error

// NewWorkflow creates a workflow builder with the given id.
func NewWorkflow(id string, opts ...WorkflowOption) *WorkflowBuilder {
	wb := &WorkflowBuilder{
		workflow: &models.Workflow{
			ID:   id,
			Name: id,
			Config: models.WorkflowConfig{
				Variables: make(map[string]any),
			},
		},
		nodes: make(map[string]*NodeBuilder),
	}
	for _, opt := range opts {
		if err := opt(wb); err != nil {
			wb.err = err
			return wb
		}
	}
	return wb
}

// WithName sets the workflow display name.
func WithName(name string) WorkflowOption {
	return func(wb *WorkflowBuilder) error {
		wb.workflow.Name = name
		return nil
	}
}

// WithVersion sets the workflow version.
func WithVersion(version string) WorkflowOption {
	return func(wb *WorkflowBuilder) error {
		wb.workflow.Version = version
		return nil
	}
}

// WithVariable adds a workflow variable.
func WithVariable(key string, value any) WorkflowOption {
	return func(wb *WorkflowBuilder) error {
		if key == "" {
			return fmt.Errorf("variable key cannot be empty")
		}
		wb.workflow.Config.Variables[key] = value
		return nil
	}
}

// WithVariables sets multiple workflow variables.
func WithVariables(vars map[string]any) WorkflowOption {
	return func(wb *WorkflowBuilder) error {
		for k, v := range vars {
			wb.workflow.Config.Variables[k] = v
		}
		return nil
	}
}

// WithLevelTimeout sets the per-level timeout in seconds.
func WithLevelTimeout(seconds float64) WorkflowOption {
	return func(wb *WorkflowBuilder) error {
		if seconds <= 0 {
			return fmt.Errorf("level timeout must be positive")
		}
		wb.workflow.Config.LevelTimeoutSeconds = seconds
		return nil
	}
}

// AddNode adds a node to the workflow.
func (wb *WorkflowBuilder) AddNode(nodeBuilder *NodeBuilder) *WorkflowBuilder {
	if wb.err != nil {
		return wb
	}
	if nodeBuilder == nil {
		wb.err = fmt.Errorf("node builder cannot be nil")
		return wb
	}
	if nodeBuilder.id == "" {
		wb.err = fmt.Errorf("node must have an ID")
		return wb
	}
	if _, exists := wb.nodes[nodeBuilder.id]; exists {
		wb.err = fmt.Errorf("duplicate node ID: %s", nodeBuilder.id)
		return wb
	}
	wb.nodes[nodeBuilder.id] = nodeBuilder
	wb.nodeOrder = append(wb.nodeOrder, nodeBuilder.id)
	return wb
}

// Connect creates an edge between two nodes.
func (wb *WorkflowBuilder) Connect(fromID, toID string, opts ...EdgeOption) *WorkflowBuilder {
	if wb.err != nil {
		return wb
	}
	wb.edges = append(wb.edges, NewEdge(fromID, toID, opts...))
	return wb
}

// Build validates and constructs the final Workflow.
func (wb *WorkflowBuilder) Build() (*models.Workflow, error) {
	if wb.err != nil {
		return nil, wb.err
	}

	nodes := make([]*models.Node, 0, len(wb.nodes))
	for _, id := range wb.nodeOrder {
		node, err := wb.nodes[id].Build()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		nodes = append(nodes, node)
	}
	wb.workflow.Nodes = nodes

	edges := make([]*models.Edge, 0, len(wb.edges))
	for i, eb := range wb.edges {
		edge, err := eb.Build()
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		edges = append(edges, edge)
	}
	wb.workflow.Edges = edges

	if _, err := wb.workflow.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return wb.workflow, nil
}

// MustBuild builds and panics on error. Useful for examples and tests.
func (wb *WorkflowBuilder) MustBuild() *models.Workflow {
	wf, err := wb.Build()
	if err != nil {
		panic(err)
	}
	return wf
}
