// Package visualization renders workflow graphs as ASCII trees for
// terminal output.
package visualization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smilemakc/dagrun/pkg/models"
)

// Box drawing characters
const (
	branchChar     = "├── "
	lastBranchChar = "└── "
	verticalChar   = "│   "
	emptyChar      = "    "
)

// RenderOptions controls rendering.
type RenderOptions struct {
	// ShowConfig prints selected config keys next to each node.
	ShowConfig bool
}

// RenderASCII converts a workflow into an ASCII tree rooted at its
// start node. Edge kinds other than success are annotated; nodes
// reachable through more than one edge are expanded once and marked
// afterwards.
func RenderASCII(wf *models.Workflow, opts *RenderOptions) (string, error) {
	if wf == nil {
		return "", fmt.Errorf("workflow is nil")
	}
	if opts == nil {
		opts = &RenderOptions{}
	}

	outgoing := make(map[string][]*models.Edge)
	for _, e := range wf.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}
	for _, edges := range outgoing {
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	}

	var root *models.Node
	for _, n := range wf.Nodes {
		if n.Type == models.NodeTypeStart {
			root = n
			break
		}
	}
	if root == nil {
		return "", fmt.Errorf("workflow has no start node")
	}

	var sb strings.Builder
	title := wf.Name
	if title == "" {
		title = wf.ID
	}
	sb.WriteString(fmt.Sprintf("Workflow: %s\n", title))

	expanded := make(map[string]bool)
	writeNode(&sb, wf, root, "", "", true, outgoing, expanded, opts)
	return sb.String(), nil
}

func writeNode(sb *strings.Builder, wf *models.Workflow, node *models.Node,
	prefix, kindLabel string, last bool,
	outgoing map[string][]*models.Edge, expanded map[string]bool, opts *RenderOptions) {

	connector := branchChar
	childPrefix := prefix + verticalChar
	if last {
		connector = lastBranchChar
		childPrefix = prefix + emptyChar
	}

	label := fmt.Sprintf("%s (%s)", node.ID, node.Type)
	if kindLabel != "" {
		label = fmt.Sprintf("[%s] %s", kindLabel, label)
	}
	if opts.ShowConfig {
		if detail := configDetail(node); detail != "" {
			label += " " + detail
		}
	}
	if expanded[node.ID] {
		sb.WriteString(prefix + connector + label + " (see above)\n")
		return
	}
	expanded[node.ID] = true
	sb.WriteString(prefix + connector + label + "\n")

	edges := outgoing[node.ID]
	for i, edge := range edges {
		child := wf.Node(edge.To)
		if child == nil {
			continue
		}
		kind := ""
		if edge.EffectiveKind() != models.EdgeSuccess {
			kind = string(edge.EffectiveKind())
		}
		writeNode(sb, wf, child, childPrefix, kind, i == len(edges)-1, outgoing, expanded, opts)
	}
}

// configDetail summarizes the config keys worth showing inline.
func configDetail(node *models.Node) string {
	if node.Config == nil {
		return ""
	}
	switch node.Type {
	case models.NodeTypeHTTPRequest:
		method, _ := node.Config["method"].(string)
		url, _ := node.Config["url"].(string)
		if method == "" {
			method = "GET"
		}
		return fmt.Sprintf("%s %s", strings.ToUpper(method), url)
	case models.NodeTypeCondition:
		expr, _ := node.Config["expression"].(string)
		return fmt.Sprintf("if %s", expr)
	case models.NodeTypeFork:
		paths, _ := node.Config["paths"].([]any)
		return fmt.Sprintf("%d path(s)", len(paths))
	}
	return ""
}
