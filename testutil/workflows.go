package testutil

import (
	"github.com/smilemakc/dagrun/pkg/builder"
	"github.com/smilemakc/dagrun/pkg/models"
)

// LinearHTTPWorkflow builds start -> http(GET url) -> end.
func LinearHTTPWorkflow(url string) *models.Workflow {
	return builder.NewWorkflow("linear").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url)).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "end").
		MustBuild()
}

// BranchWorkflow builds a condition routing to succ or fail noops.
func BranchWorkflow(url, expression string) *models.Workflow {
	return builder.NewWorkflow("branch").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url)).
		AddNode(builder.NewConditionNode("check", expression)).
		AddNode(builder.NewNoopNode("succ")).
		AddNode(builder.NewNoopNode("fail")).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "check").
		Connect("check", "succ", builder.WhenTrue()).
		Connect("check", "fail", builder.WhenFalse()).
		Connect("succ", "end", builder.Always()).
		Connect("fail", "end", builder.Always()).
		MustBuild()
}

// LoopHTTPWorkflow builds a loop issuing one templated GET per item.
func LoopHTTPWorkflow(items []any, urlTemplate string) *models.Workflow {
	body := builder.NewSubGraph().
		AddNode(builder.NewHTTPGetNode("http", urlTemplate))
	return builder.NewWorkflow("loop").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewLoopNode("each", items, body)).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "each").
		Connect("each", "end").
		MustBuild()
}

// ForkWorkflow builds a fork over the given path URLs, one GET per
// path.
func ForkWorkflow(urls map[string]string, opts ...builder.NodeOption) *models.Workflow {
	paths := make([]*builder.ForkPathBuilder, 0, len(urls))
	for _, id := range sortedKeys(urls) {
		paths = append(paths, builder.NewForkPath(id,
			builder.NewSubGraph().AddNode(builder.NewHTTPGetNode(id+"_fetch", urls[id]))))
	}
	return builder.NewWorkflow("fork").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewForkNode("fork", paths, opts...)).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "fork").
		Connect("fork", "end").
		MustBuild()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}
