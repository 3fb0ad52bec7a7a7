package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/dagrun/pkg/builder"
	"github.com/smilemakc/dagrun/pkg/engine"
	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/testutil"
)

func run(t *testing.T, wf *models.Workflow, stub *testutil.HTTPStub) *models.RunResult {
	t.Helper()
	runner := engine.NewRunner(&engine.Options{HTTP: stub})
	result, err := runner.Execute(context.Background(), wf)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestExecute_LinearSuccess(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().JSON("https://api/ok", `{"v":1}`)
	result := run(t, testutil.LinearHTTPWorkflow("https://api/ok"), stub)

	assert.Equal(t, models.RunCompleted, result.Status)
	assert.NotEmpty(t, result.RunID)

	step := result.Steps["http"]
	require.NotNil(t, step)
	assert.Equal(t, models.StepSuccess, step.Status)
	assert.Equal(t, 1, step.Attempts)
	assert.Equal(t, 200, step.Outputs["status_code"])
	assert.Equal(t, map[string]any{"v": float64(1)}, step.Outputs["result"])

	require.NotNil(t, result.Steps["start"])
	require.NotNil(t, result.Steps["end"])
}

func TestExecute_ConditionBranch(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().JSON("https://api/ok", `{}`)
	wf := testutil.BranchWorkflow("https://api/ok",
		"{{steps.http.outputs.status_code}} == 200")
	result := run(t, wf, stub)

	assert.Equal(t, models.RunCompleted, result.Status)

	check := result.Steps["check"]
	require.NotNil(t, check)
	assert.Equal(t, true, check.Outputs["result"])
	assert.Equal(t, "true", check.Outputs["branch"])

	assert.Contains(t, result.Steps, "succ")
	assert.NotContains(t, result.Steps, "fail", "untaken branch must stay out of steps")
}

func TestExecute_ConditionFalseBranch(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().On("https://api/teapot",
		testutil.StubResponse{Status: 418})
	wf := testutil.BranchWorkflow("https://api/teapot",
		"{{steps.http.outputs.status_code}} == 200")
	result := run(t, wf, stub)

	assert.Equal(t, models.RunCompleted, result.Status)
	assert.Contains(t, result.Steps, "fail")
	assert.NotContains(t, result.Steps, "succ")
}

func TestExecute_ForkTimeout(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().
		JSON("https://api/fast1", `{}`).
		JSON("https://api/fast2", `{}`).
		On("https://api/slow", testutil.StubResponse{Status: 200, Delay: 3 * time.Second})

	wf := testutil.ForkWorkflow(map[string]string{
		"path_1": "https://api/fast1",
		"path_2": "https://api/fast2",
		"path_3": "https://api/slow",
	}, builder.WithConfig("timeout", 0.5))

	result := run(t, wf, stub)
	assert.Equal(t, models.RunFailed, result.Status)

	fork := result.Steps["fork"]
	require.NotNil(t, fork)
	assert.Equal(t, models.StepFailed, fork.Status)

	paths := fork.Outputs["paths"].(map[string]any)
	assert.Equal(t, "success", paths["path_1"].(map[string]any)["status"])
	assert.Equal(t, "success", paths["path_2"].(map[string]any)["status"])
	assert.Equal(t, "cancelled", paths["path_3"].(map[string]any)["status"])
	assert.Equal(t, 3, fork.Outputs["total_paths"])
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	t.Parallel()
	url := "https://api/flaky"
	stub := testutil.NewHTTPStub().On(url,
		testutil.StubResponse{Err: errors.New("connection refused")},
		testutil.StubResponse{Err: errors.New("connection refused")},
		testutil.StubResponse{Status: 200, Body: "{}",
			Headers: map[string]string{"Content-Type": "application/json"}},
	)

	wf := builder.NewWorkflow("retry").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url, builder.WithRetry(2, 0))).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "end").
		MustBuild()

	result := run(t, wf, stub)
	assert.Equal(t, models.RunCompleted, result.Status)

	step := result.Steps["http"]
	require.NotNil(t, step)
	assert.Equal(t, models.StepSuccess, step.Status)
	assert.Equal(t, 3, step.Attempts)
	assert.Equal(t, 3, stub.CallCount(url))
}

func TestExecute_NoRetryMeansSingleAttempt(t *testing.T) {
	t.Parallel()
	url := "https://api/down"
	stub := testutil.NewHTTPStub().On(url,
		testutil.StubResponse{Err: errors.New("connection refused")})

	result := run(t, testutil.LinearHTTPWorkflow(url), stub)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.Equal(t, 1, result.Steps["http"].Attempts)
	assert.Equal(t, 1, stub.CallCount(url))
	assert.NotEmpty(t, result.Error)
}

func TestExecute_LoopWithTemplate(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().
		JSON("https://api/1", `{}`).
		JSON("https://api/2", `{}`).
		JSON("https://api/3", `{}`)

	wf := testutil.LoopHTTPWorkflow([]any{1, 2, 3}, "https://api/{{loop.item}}")
	result := run(t, wf, stub)
	require.Equal(t, models.RunCompleted, result.Status, "error: %s", result.Error)

	loop := result.Steps["each"]
	require.NotNil(t, loop)
	iterations := loop.Outputs["iterations"].([]any)
	require.Len(t, iterations, 3)
	for i, urlSuffix := range []string{"/1", "/2", "/3"} {
		iter := iterations[i].(map[string]any)
		httpStep := iter["http"].(map[string]any)
		assert.Equal(t, "success", httpStep["status"])
		outputs := httpStep["outputs"].(map[string]any)
		assert.True(t, len(outputs["url"].(string)) > 0)
		assert.Contains(t, outputs["url"], urlSuffix)
	}

	// Iteration steps land under composite keys.
	assert.Contains(t, result.Steps, "http[0]")
	assert.Contains(t, result.Steps, "http[2]")
}

func TestExecute_EmptyLoop(t *testing.T) {
	t.Parallel()
	wf := testutil.LoopHTTPWorkflow([]any{}, "https://api/{{loop.item}}")
	result := run(t, wf, testutil.NewHTTPStub())

	assert.Equal(t, models.RunCompleted, result.Status)
	loop := result.Steps["each"]
	require.NotNil(t, loop)
	assert.Empty(t, loop.Outputs["iterations"])
}

func TestExecute_NestedFork(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().
		JSON("https://api/a", `{}`).
		JSON("https://api/b1", `{}`).
		JSON("https://api/b2", `{}`)

	inner := builder.NewForkNode("inner_fork", []*builder.ForkPathBuilder{
		builder.NewForkPath("p1", builder.NewSubGraph().
			AddNode(builder.NewHTTPGetNode("b1", "https://api/b1"))),
		builder.NewForkPath("p2", builder.NewSubGraph().
			AddNode(builder.NewHTTPGetNode("b2", "https://api/b2"))),
	})

	outer := builder.NewForkNode("outer", []*builder.ForkPathBuilder{
		builder.NewForkPath("A", builder.NewSubGraph().
			AddNode(builder.NewHTTPGetNode("a", "https://api/a"))),
		builder.NewForkPath("B", builder.NewSubGraph().AddNode(inner)),
	})

	wf := builder.NewWorkflow("nested").
		AddNode(builder.NewStartNode("start")).
		AddNode(outer).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "outer").
		Connect("outer", "end").
		MustBuild()

	result := run(t, wf, stub)
	require.Equal(t, models.RunCompleted, result.Status, "error: %s", result.Error)

	fork := result.Steps["outer"]
	require.NotNil(t, fork)
	assert.Equal(t, 2, fork.Outputs["paths_executed"])

	pathB := fork.Outputs["paths"].(map[string]any)["B"].(map[string]any)
	innerStep := pathB["nodes"].(map[string]any)["inner_fork"].(map[string]any)
	assert.Equal(t, "success", innerStep["status"])
	innerOutputs := innerStep["output"].(map[string]any)
	assert.Equal(t, 2, innerOutputs["paths_executed"])

	// Exactly the graph's nodes executed: start, outer, end, a,
	// inner_fork, b1, b2.
	assert.Len(t, result.Steps, 7)
}

func TestExecute_ContinueOnError(t *testing.T) {
	t.Parallel()
	url := "https://api/down"
	stub := testutil.NewHTTPStub().On(url,
		testutil.StubResponse{Err: errors.New("connection refused")})

	wf := builder.NewWorkflow("failure-routing").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url, builder.ContinueOnError())).
		AddNode(builder.NewNoopNode("recover")).
		AddNode(builder.NewNoopNode("happy")).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "recover", builder.OnFailure()).
		Connect("http", "happy", builder.OnSuccess()).
		Connect("recover", "end", builder.Always()).
		Connect("happy", "end", builder.Always()).
		MustBuild()

	result := run(t, wf, stub)
	assert.Equal(t, models.RunCompleted, result.Status)

	require.NotNil(t, result.Steps["http"])
	assert.Equal(t, models.StepFailed, result.Steps["http"].Status)
	assert.NotEmpty(t, result.Steps["http"].Error)

	assert.Contains(t, result.Steps, "recover")
	assert.NotContains(t, result.Steps, "happy",
		"success edge of a failed node must not be taken")
}

func TestExecute_FailureHaltsDownstream(t *testing.T) {
	t.Parallel()
	url := "https://api/down"
	stub := testutil.NewHTTPStub().On(url,
		testutil.StubResponse{Err: errors.New("connection refused")})

	wf := builder.NewWorkflow("halt").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url)).
		AddNode(builder.NewNoopNode("after")).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "after").
		Connect("after", "end").
		MustBuild()

	result := run(t, wf, stub)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.NotContains(t, result.Steps, "after")
	assert.NotContains(t, result.Steps, "end")
	assert.NotEmpty(t, result.Error)
}

func TestExecute_NodeTimeoutZero(t *testing.T) {
	t.Parallel()
	url := "https://api/slow"
	stub := testutil.NewHTTPStub().On(url,
		testutil.StubResponse{Status: 200, Delay: time.Second})

	wf := builder.NewWorkflow("instant-timeout").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url, builder.WithTimeout(0))).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "end").
		MustBuild()

	result := run(t, wf, stub)
	assert.Equal(t, models.RunFailed, result.Status)

	step := result.Steps["http"]
	require.NotNil(t, step)
	assert.Equal(t, models.StepFailed, step.Status)
	assert.Equal(t, 1, step.Attempts)
	assert.Contains(t, step.Error, "timeout")
}

func TestExecute_LevelTimeout(t *testing.T) {
	t.Parallel()
	url := "https://api/slow"
	stub := testutil.NewHTTPStub().On(url,
		testutil.StubResponse{Status: 200, Delay: 2 * time.Second})

	wf := builder.NewWorkflow("level-timeout", builder.WithLevelTimeout(0.2)).
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", url)).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "end").
		MustBuild()

	start := time.Now()
	result := run(t, wf, stub)
	elapsed := time.Since(start)

	assert.Equal(t, models.RunTimeout, result.Status)
	assert.Less(t, elapsed, time.Second, "scheduler must return shortly after the deadline")

	step := result.Steps["http"]
	require.NotNil(t, step)
	assert.Equal(t, models.StepCancelled, step.Status)
}

func TestExecute_ForkBudgetExceeded(t *testing.T) {
	t.Parallel()
	wf := testutil.ForkWorkflow(map[string]string{
		"p1": "https://api/1",
		"p2": "https://api/2",
	}, builder.WithConfig("max_total_nodes", 1), builder.WithConfig("max_workers", 2))

	result := run(t, wf, testutil.NewHTTPStub())
	assert.Equal(t, models.RunFailed, result.Status)
	assert.Contains(t, result.Error, "budget")
	// No path started.
	assert.NotContains(t, result.Steps, "p1_fetch")
	assert.NotContains(t, result.Steps, "p2_fetch")
}

func TestExecute_ForkWithZeroPaths(t *testing.T) {
	t.Parallel()
	wf := builder.NewWorkflow("empty-fork").
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewForkNode("fork", nil)).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "fork").
		Connect("fork", "end").
		MustBuild()

	result := run(t, wf, testutil.NewHTTPStub())
	assert.Equal(t, models.RunCompleted, result.Status)

	fork := result.Steps["fork"]
	require.NotNil(t, fork)
	assert.Equal(t, models.StepSuccess, fork.Status)
	assert.Equal(t, 0, fork.Outputs["paths_executed"])
	assert.Equal(t, 0, fork.Outputs["total_paths"])
}

func TestExecute_ValidationRejectsBeforeRun(t *testing.T) {
	t.Parallel()
	wf := &models.Workflow{
		ID: "bad",
		Nodes: []*models.Node{
			{ID: "a", Type: models.NodeTypeNoop},
			{ID: "z", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{{From: "a", To: "z"}},
	}
	runner := engine.NewRunner(nil)
	result, err := runner.Execute(context.Background(), wf)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestExecute_VariablesInTemplates(t *testing.T) {
	t.Parallel()
	stub := testutil.NewHTTPStub().JSON("https://api.example.com/items", `{"n":3}`)

	wf := builder.NewWorkflow("vars",
		builder.WithVariable("base_url", "https://api.example.com")).
		AddNode(builder.NewStartNode("start")).
		AddNode(builder.NewHTTPGetNode("http", "{{variables.base_url}}/items")).
		AddNode(builder.NewEndNode("end")).
		Connect("start", "http").
		Connect("http", "end").
		MustBuild()

	result := run(t, wf, stub)
	assert.Equal(t, models.RunCompleted, result.Status)
	assert.Equal(t, "https://api.example.com/items", result.Steps["http"].Outputs["url"])
}

func TestExecute_DeterministicRerun(t *testing.T) {
	t.Parallel()
	wf := testutil.BranchWorkflow("https://api/ok",
		"{{steps.http.outputs.status_code}} == 200")

	first := run(t, wf, testutil.NewHTTPStub().JSON("https://api/ok", `{"v":1}`))
	second := run(t, wf, testutil.NewHTTPStub().JSON("https://api/ok", `{"v":1}`))

	require.Equal(t, len(first.Steps), len(second.Steps))
	for id, step := range first.Steps {
		other := second.Steps[id]
		require.NotNil(t, other, "step %s missing on rerun", id)
		assert.Equal(t, step.Status, other.Status, "step %s", id)
		assert.Equal(t, step.Outputs, other.Outputs, "step %s", id)
		assert.Equal(t, step.Attempts, other.Attempts, "step %s", id)
	}
}
