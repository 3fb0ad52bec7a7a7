package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DefaultLevelTimeout applies when a workflow (or path sub-graph) does
// not set level_timeout.
const DefaultLevelTimeout = 300 * time.Second

// WorkflowConfig holds workflow-level options.
type WorkflowConfig struct {
	// LevelTimeoutSeconds bounds each scheduler level. Zero means the
	// default of 300 seconds.
	LevelTimeoutSeconds float64        `json:"level_timeout,omitempty" yaml:"level_timeout,omitempty" validate:"gte=0"`
	Variables           map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// LevelTimeout returns the configured level timeout with the default
// applied.
func (c WorkflowConfig) LevelTimeout() time.Duration {
	if c.LevelTimeoutSeconds <= 0 {
		return DefaultLevelTimeout
	}
	return time.Duration(c.LevelTimeoutSeconds * float64(time.Second))
}

// Workflow is an immutable workflow definition.
type Workflow struct {
	ID      string         `json:"id" yaml:"id" validate:"required"`
	Name    string         `json:"name" yaml:"name"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Config  WorkflowConfig `json:"config,omitempty" yaml:"config,omitempty"`
	Nodes   []*Node        `json:"nodes" yaml:"nodes" validate:"required,min=1"`
	Edges   []*Edge        `json:"edges" yaml:"edges"`
}

// nodeSet is the wire form of the node collection: descriptors keyed by
// unique id. Order is not meaningful on the wire; nodes are sorted by
// id after decode for determinism.
type nodeSet map[string]*Node

// workflowAlias avoids UnmarshalJSON recursion.
type workflowAlias struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Config  WorkflowConfig `json:"config"`
	Nodes   nodeSet        `json:"nodes"`
	Edges   []*Edge        `json:"edges"`
}

// UnmarshalJSON decodes the definition document, keying nodes by id.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var alias workflowAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	w.ID = alias.ID
	w.Name = alias.Name
	w.Version = alias.Version
	w.Config = alias.Config
	w.Edges = alias.Edges
	w.Nodes = alias.Nodes.slice()
	return nil
}

// MarshalJSON encodes nodes back into the id-keyed wire form.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	nodes := make(nodeSet, len(w.Nodes))
	for _, n := range w.Nodes {
		nodes[n.ID] = n
	}
	return json.Marshal(workflowAlias{
		ID:      w.ID,
		Name:    w.Name,
		Version: w.Version,
		Config:  w.Config,
		Nodes:   nodes,
		Edges:   w.Edges,
	})
}

func (s nodeSet) slice() []*Node {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes := make([]*Node, 0, len(s))
	for _, id := range ids {
		n := s[id]
		if n == nil {
			n = &Node{}
		}
		n.ID = id
		nodes = append(nodes, n)
	}
	return nodes
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// DecodeSubGraph converts the nodes/edges of a control-flow node config
// (loop bodies, path bodies, fork path descriptors) into model types.
// Sub-graph nodes are carried either as an id-keyed map or as a list of
// descriptors with inline ids.
func DecodeSubGraph(rawNodes, rawEdges any) ([]*Node, []*Edge, error) {
	data, err := json.Marshal(map[string]any{"nodes": rawNodes, "edges": rawEdges})
	if err != nil {
		return nil, nil, fmt.Errorf("sub-graph encode: %w", err)
	}
	var byID struct {
		Nodes nodeSet `json:"nodes"`
		Edges []*Edge `json:"edges"`
	}
	if err := json.Unmarshal(data, &byID); err == nil && len(byID.Nodes) > 0 {
		return byID.Nodes.slice(), byID.Edges, nil
	}
	var byList struct {
		Nodes []*Node `json:"nodes"`
		Edges []*Edge `json:"edges"`
	}
	if err := json.Unmarshal(data, &byList); err != nil {
		return nil, nil, fmt.Errorf("sub-graph decode: %w", err)
	}
	return byList.Nodes, byList.Edges, nil
}
