package builder

import (
	"fmt"

	"github.com/smilemakc/dagrun/pkg/models"
)

// NodeBuilder builds node definitions.
type NodeBuilder struct {
	id              string
	nodeType        models.NodeType
	config          map[string]any
	continueOnError bool
	maxRetries      int
	delaySeconds    float64
	err             error
}

// NodeOption configures a NodeBuilder.
type NodeOption func(*NodeBuilder)

// NewNode creates a node builder of an arbitrary type.
func NewNode(id string, nodeType models.NodeType, opts ...NodeOption) *NodeBuilder {
	nb := &NodeBuilder{
		id:       id,
		nodeType: nodeType,
		config:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(nb)
	}
	return nb
}

// Build constructs the final Node.
func (nb *NodeBuilder) Build() (*models.Node, error) {
	if nb.err != nil {
		return nil, nb.err
	}
	node := &models.Node{
		ID:            nb.id,
		Type:          nb.nodeType,
		Config:        nb.config,
		ErrorHandling: models.ErrorHandling{ContinueOnError: nb.continueOnError},
		Retry: models.RetryPolicy{
			MaxRetries:   nb.maxRetries,
			DelaySeconds: nb.delaySeconds,
		},
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return node, nil
}

// WithConfig sets a config key.
func WithConfig(key string, value any) NodeOption {
	return func(nb *NodeBuilder) { nb.config[key] = value }
}

// WithTimeout sets the per-attempt timeout in seconds.
func WithTimeout(seconds float64) NodeOption {
	return WithConfig("timeout", seconds)
}

// WithRetry sets the retry policy.
func WithRetry(maxRetries int, delaySeconds float64) NodeOption {
	return func(nb *NodeBuilder) {
		nb.maxRetries = maxRetries
		nb.delaySeconds = delaySeconds
	}
}

// ContinueOnError keeps the workflow running when the node fails.
func ContinueOnError() NodeOption {
	return func(nb *NodeBuilder) { nb.continueOnError = true }
}

// NewStartNode creates the workflow entry node.
func NewStartNode(id string) *NodeBuilder {
	return NewNode(id, models.NodeTypeStart)
}

// NewEndNode creates a terminal node.
func NewEndNode(id string) *NodeBuilder {
	return NewNode(id, models.NodeTypeEnd)
}

// NewNoopNode creates a pass-through node.
func NewNoopNode(id string) *NodeBuilder {
	return NewNode(id, models.NodeTypeNoop)
}

// NewHTTPNode creates an http_request node.
func NewHTTPNode(id, method, url string, opts ...NodeOption) *NodeBuilder {
	nb := NewNode(id, models.NodeTypeHTTPRequest, opts...)
	nb.config["method"] = method
	nb.config["url"] = url
	return nb
}

// NewHTTPGetNode creates a GET http_request node.
func NewHTTPGetNode(id, url string, opts ...NodeOption) *NodeBuilder {
	return NewHTTPNode(id, "GET", url, opts...)
}

// NewConditionNode creates a condition node over an expression.
func NewConditionNode(id, expression string, opts ...NodeOption) *NodeBuilder {
	nb := NewNode(id, models.NodeTypeCondition, opts...)
	nb.config["expression"] = expression
	return nb
}

// NewLoopNode creates a loop node over items with a sub-graph built by
// sub. Loop frames are visible to the sub-graph's templates.
func NewLoopNode(id string, items any, sub *SubGraphBuilder, opts ...NodeOption) *NodeBuilder {
	nb := NewNode(id, models.NodeTypeLoop, opts...)
	nb.config["items"] = items
	nb.applySubGraph(sub)
	return nb
}

// NewPathNode creates a conditionally gated sub-DAG.
func NewPathNode(id, condition string, sub *SubGraphBuilder, opts ...NodeOption) *NodeBuilder {
	nb := NewNode(id, models.NodeTypePath, opts...)
	if condition != "" {
		nb.config["condition"] = condition
	}
	nb.applySubGraph(sub)
	return nb
}

// NewForkNode creates a fork over the given paths.
func NewForkNode(id string, paths []*ForkPathBuilder, opts ...NodeOption) *NodeBuilder {
	nb := NewNode(id, models.NodeTypeFork, opts...)
	descriptors := make([]any, 0, len(paths))
	for _, p := range paths {
		descriptor, err := p.build()
		if err != nil {
			nb.err = fmt.Errorf("fork %s: %w", id, err)
			return nb
		}
		descriptors = append(descriptors, descriptor)
	}
	nb.config["paths"] = descriptors
	return nb
}

func (nb *NodeBuilder) applySubGraph(sub *SubGraphBuilder) {
	if sub == nil {
		nb.err = fmt.Errorf("node %s: sub-graph cannot be nil", nb.id)
		return
	}
	nodes, edges, err := sub.build()
	if err != nil {
		nb.err = fmt.Errorf("node %s: %w", nb.id, err)
		return
	}
	nb.config["nodes"] = nodes
	nb.config["edges"] = edges
}

// SubGraphBuilder assembles the nodes/edges body of a control-flow
// node in the definition's wire form.
type SubGraphBuilder struct {
	nodes     map[string]*NodeBuilder
	nodeOrder []string
	edges     []*EdgeBuilder
	err       error
}

// NewSubGraph creates an empty sub-graph builder.
func NewSubGraph() *SubGraphBuilder {
	return &SubGraphBuilder{nodes: make(map[string]*NodeBuilder)}
}

// AddNode adds a node to the sub-graph.
func (sb *SubGraphBuilder) AddNode(nb *NodeBuilder) *SubGraphBuilder {
	if sb.err != nil {
		return sb
	}
	if nb == nil || nb.id == "" {
		sb.err = fmt.Errorf("sub-graph node must have an ID")
		return sb
	}
	if _, exists := sb.nodes[nb.id]; exists {
		sb.err = fmt.Errorf("duplicate sub-graph node ID: %s", nb.id)
		return sb
	}
	sb.nodes[nb.id] = nb
	sb.nodeOrder = append(sb.nodeOrder, nb.id)
	return sb
}

// Connect creates an edge inside the sub-graph.
func (sb *SubGraphBuilder) Connect(fromID, toID string, opts ...EdgeOption) *SubGraphBuilder {
	if sb.err != nil {
		return sb
	}
	sb.edges = append(sb.edges, NewEdge(fromID, toID, opts...))
	return sb
}

// build renders the sub-graph as JSON-like config values.
func (sb *SubGraphBuilder) build() (map[string]any, []any, error) {
	if sb.err != nil {
		return nil, nil, sb.err
	}
	nodes := make(map[string]any, len(sb.nodes))
	for _, id := range sb.nodeOrder {
		node, err := sb.nodes[id].Build()
		if err != nil {
			return nil, nil, err
		}
		entry := map[string]any{"type": string(node.Type)}
		if len(node.Config) > 0 {
			entry["config"] = node.Config
		}
		if node.ErrorHandling.ContinueOnError {
			entry["error_handling"] = map[string]any{"continue_on_error": true}
		}
		if node.Retry.MaxRetries > 0 || node.Retry.DelaySeconds > 0 {
			entry["retry"] = map[string]any{
				"max_retries":   node.Retry.MaxRetries,
				"delay_seconds": node.Retry.DelaySeconds,
			}
		}
		nodes[id] = entry
	}
	edges := make([]any, 0, len(sb.edges))
	for _, eb := range sb.edges {
		edge, err := eb.Build()
		if err != nil {
			return nil, nil, err
		}
		entry := map[string]any{"from": edge.From, "to": edge.To}
		if edge.Kind != "" {
			entry["kind"] = string(edge.Kind)
		}
		edges = append(edges, entry)
	}
	return nodes, edges, nil
}

// ForkPathBuilder assembles one fork path descriptor.
type ForkPathBuilder struct {
	id        string
	condition string
	sub       *SubGraphBuilder
}

// NewForkPath creates a path descriptor for a fork node.
func NewForkPath(id string, sub *SubGraphBuilder) *ForkPathBuilder {
	return &ForkPathBuilder{id: id, sub: sub}
}

// When gates the path behind a condition expression.
func (pb *ForkPathBuilder) When(condition string) *ForkPathBuilder {
	pb.condition = condition
	return pb
}

func (pb *ForkPathBuilder) build() (map[string]any, error) {
	if pb.sub == nil {
		return nil, fmt.Errorf("path %s: sub-graph cannot be nil", pb.id)
	}
	nodes, edges, err := pb.sub.build()
	if err != nil {
		return nil, fmt.Errorf("path %s: %w", pb.id, err)
	}
	descriptor := map[string]any{"id": pb.id, "nodes": nodes, "edges": edges}
	if pb.condition != "" {
		descriptor["condition"] = pb.condition
	}
	return descriptor, nil
}
