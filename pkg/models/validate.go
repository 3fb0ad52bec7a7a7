package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationWarning is a non-fatal finding, e.g. a node timeout larger
// than its enclosing level timeout.
type ValidationWarning struct {
	NodeID  string
	Message string
}

func (w ValidationWarning) String() string {
	if w.NodeID == "" {
		return w.Message
	}
	return fmt.Sprintf("node %s: %s", w.NodeID, w.Message)
}

// Validate checks the whole definition: field constraints, id
// uniqueness across the workflow and every sub-graph, edge endpoint
// existence, start/end structure, acyclicity and sub-graph
// containment. It returns timeout-hierarchy warnings on success.
func (w *Workflow) Validate() ([]ValidationWarning, error) {
	if err := validate.Struct(w); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	// Step results are keyed by node id, so ids must be unique across
	// the workflow and all enclosed sub-graphs (loop iterations are
	// disambiguated by composite keys instead).
	seen := make(map[string]bool)
	if err := validateGraph(w.Nodes, w.Edges, true, seen); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	return collectTimeoutWarnings(w), nil
}

// validateGraph checks a node/edge set. Top-level graphs require
// exactly one start node and at least one reachable end node;
// sub-graphs (loop bodies, fork paths, path bodies) do not.
func validateGraph(nodes []*Node, edges []*Edge, topLevel bool, seen map[string]bool) error {
	if len(nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}

	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node ID: %s", n.ID)
		}
		seen[n.ID] = true
		byID[n.ID] = n
	}

	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, ok := byID[e.From]; !ok {
			return fmt.Errorf("edge references unknown node: %s", e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return fmt.Errorf("edge references unknown node: %s", e.To)
		}
	}

	if topLevel {
		var starts, ends []string
		for _, n := range nodes {
			switch n.Type {
			case NodeTypeStart:
				starts = append(starts, n.ID)
			case NodeTypeEnd:
				ends = append(ends, n.ID)
			}
		}
		if len(starts) != 1 {
			return fmt.Errorf("workflow must have exactly one start node, found %d", len(starts))
		}
		if len(ends) == 0 {
			return fmt.Errorf("workflow must have at least one end node")
		}
		if !anyReachable(starts[0], ends, edges) {
			return fmt.Errorf("no end node is reachable from start")
		}
	}

	if cycle := findCycle(nodes, edges); cycle != "" {
		return fmt.Errorf("graph contains a cycle through node %s", cycle)
	}

	for _, n := range nodes {
		if err := validateSubGraphs(n, seen); err != nil {
			return err
		}
	}
	return nil
}

// validateSubGraphs recursively checks the self-contained sub-graphs
// owned by control-flow nodes.
func validateSubGraphs(n *Node, seen map[string]bool) error {
	var bodies [][2]any
	switch n.Type {
	case NodeTypeLoop, NodeTypePath:
		if n.Config != nil {
			bodies = append(bodies, [2]any{n.Config["nodes"], n.Config["edges"]})
		}
	case NodeTypeFork:
		if n.Config == nil {
			break
		}
		paths, _ := n.Config["paths"].([]any)
		for _, p := range paths {
			pm, ok := p.(map[string]any)
			if !ok {
				return fmt.Errorf("node %s: fork path must be an object", n.ID)
			}
			bodies = append(bodies, [2]any{pm["nodes"], pm["edges"]})
		}
	default:
		return nil
	}

	for _, body := range bodies {
		if body[0] == nil {
			continue
		}
		subNodes, subEdges, err := DecodeSubGraph(body[0], body[1])
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		if err := validateGraph(subNodes, subEdges, false, seen); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	return nil
}

// findCycle returns the id of a node on a cycle, or "".
func findCycle(nodes []*Node, edges []*Edge) string {
	adjacency := make(map[string][]string)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, next := range adjacency[id] {
			switch color[next] {
			case grey:
				return next
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			if c := visit(n.ID); c != "" {
				return c
			}
		}
	}
	return ""
}

func anyReachable(from string, targets []string, edges []*Edge) bool {
	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[t] = true
	}
	adjacency := make(map[string][]string)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if wanted[id] {
			return true
		}
		for _, next := range adjacency[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// collectTimeoutWarnings flags nodes whose per-attempt timeout exceeds
// the enclosing level timeout. Permitted, but almost always a mistake.
func collectTimeoutWarnings(w *Workflow) []ValidationWarning {
	var warnings []ValidationWarning
	level := w.Config.LevelTimeout()
	for _, n := range w.Nodes {
		if t, ok := n.Timeout(); ok && t > level {
			warnings = append(warnings, ValidationWarning{
				NodeID: n.ID,
				Message: fmt.Sprintf("timeout %s exceeds level timeout %s",
					t.Truncate(time.Millisecond), level),
			})
		}
	}
	return warnings
}
