package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/pkg/template"
)

func evalContext() *template.Context {
	return &template.Context{
		Variables: map[string]any{
			"env":       "production",
			"threshold": float64(10),
			"enabled":   true,
			"count":     "42", // numeric string
		},
		Steps: map[string]*models.StepResult{
			"http": {
				Status: models.StepSuccess,
				Outputs: map[string]any{
					"status_code": float64(200),
					"body":        "ok",
					"items":       []any{"a", "b"},
				},
			},
		},
		Loop: &models.LoopFrame{Item: float64(7), Index: 2, Length: 5},
	}
}

func TestEvalBool(t *testing.T) {
	t.Parallel()
	e := New()
	ctx := evalContext()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"numeric equality", "{{steps.http.outputs.status_code}} == 200", true},
		{"numeric inequality", "{{steps.http.outputs.status_code}} != 500", true},
		{"less than", "{{variables.threshold}} < 20", true},
		{"greater or equal", "{{variables.threshold}} >= 10", true},
		{"string equality", `{{variables.env}} == "production"`, true},
		{"string mismatch", `{{variables.env}} == "staging"`, false},
		{"boolean variable", "{{variables.enabled}} == true", true},
		{"logical and", "{{steps.http.outputs.status_code}} == 200 && {{variables.threshold}} > 5", true},
		{"logical or", "{{variables.threshold}} > 100 || {{variables.enabled}} == true", true},
		{"parentheses", "({{variables.threshold}} > 100 || {{variables.threshold}} < 20) && true", true},
		{"length modifier", "{{steps.http.outputs.items|length}} == 2", true},
		{"string length", "{{steps.http.outputs.body|length}} >= 2", true},
		{"loop item", "{{loop.item}} < 10", true},
		{"loop index", "{{loop.index}} == 2", true},
		{"literal true", "true", true},
		{"literal comparison", "1 < 2", true},
		{"exponent literal", "1e3 == 1000", true},
		{"decimal literal", "0.5 < 1.25", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvalBool(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalBool_NumericStringCoercion(t *testing.T) {
	t.Parallel()
	e := New()
	ctx := evalContext()

	// Both sides numeric strings compare numerically.
	got, err := e.EvalBool(`{{variables.count}} == "42"`, ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool("{{variables.count}} == 42", ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool("{{variables.count}} > 41", ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBool_NullLiteral(t *testing.T) {
	t.Parallel()
	e := New()
	got, err := e.EvalBool(`null == null`, evalContext())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBool_MalformedExpression(t *testing.T) {
	t.Parallel()
	e := New()
	ctx := evalContext()

	tests := []struct {
		name string
		expr string
	}{
		{"dangling operator", "{{variables.threshold}} >"},
		{"unbalanced parens", "({{variables.threshold}} > 1"},
		{"bare identifier", "production == 1"},
		{"not boolean", "1 + 1"},
		{"unterminated string", `{{variables.env}} == "oops`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.EvalBool(tt.expr, ctx)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr, "expected parse error, got %v", err)
		})
	}
}

func TestEvalBool_UnresolvedPath(t *testing.T) {
	t.Parallel()
	e := New()
	_, err := e.EvalBool("{{steps.missing.outputs.x}} == 1", evalContext())
	var resolveErr *template.ResolveError
	require.ErrorAs(t, err, &resolveErr)
}

func TestEvalBool_StringQuotingIsSafe(t *testing.T) {
	t.Parallel()
	e := New()
	ctx := evalContext()
	ctx.Variables["payload"] = `tricky "quoted" value`

	got, err := e.EvalBool(`{{variables.payload}} == "other"`, ctx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvalBool_Deterministic(t *testing.T) {
	t.Parallel()
	e := New()
	ctx := evalContext()
	for i := 0; i < 3; i++ {
		got, err := e.EvalBool("{{steps.http.outputs.status_code}} == 200", ctx)
		require.NoError(t, err)
		assert.True(t, got)
	}
}
