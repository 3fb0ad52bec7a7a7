package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/dagrun/pkg/models"
)

func testContext() *Context {
	return &Context{
		Variables: map[string]any{
			"region": "eu-west-1",
			"limit":  float64(25),
		},
		Steps: map[string]*models.StepResult{
			"http": {
				Status: models.StepSuccess,
				Outputs: map[string]any{
					"status_code": float64(200),
					"result": map[string]any{
						"user": map[string]any{"name": "ada"},
						"tags": []any{"a", "b", "c"},
					},
				},
			},
		},
		Loop: &models.LoopFrame{Item: "first", Index: 0, Length: 3},
	}
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	p, err := ParsePath("steps.http.outputs.result.user.name")
	require.NoError(t, err)
	assert.Equal(t, []string{"steps", "http", "outputs", "result", "user", "name"}, p.Segments)
	assert.False(t, p.Length)

	p, err = ParsePath(" variables.region |length ")
	require.NoError(t, err)
	assert.True(t, p.Length)
	assert.Equal(t, []string{"variables", "region"}, p.Segments)

	_, err = ParsePath("steps.http.outputs|size")
	assert.Error(t, err)

	_, err = ParsePath("")
	assert.Error(t, err)

	_, err = ParsePath("steps..outputs")
	assert.Error(t, err)
}

func TestPathResolve(t *testing.T) {
	t.Parallel()
	ctx := testContext()

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"variable", "variables.region", "eu-west-1"},
		{"numeric variable", "variables.limit", float64(25)},
		{"step output leaf", "steps.http.outputs.status_code", float64(200)},
		{"nested output", "steps.http.outputs.result.user.name", "ada"},
		{"loop item", "loop.item", "first"},
		{"loop index", "loop.index", 0},
		{"loop length", "loop.length", 3},
		{"string length", "variables.region|length", 9},
		{"array length", "steps.http.outputs.result.tags|length", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.expr)
			require.NoError(t, err)
			got, err := p.Resolve(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathResolve_WholeOutputs(t *testing.T) {
	t.Parallel()
	p, err := ParsePath("steps.http.outputs")
	require.NoError(t, err)
	got, err := p.Resolve(testContext())
	require.NoError(t, err)
	outputs, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, outputs, "status_code")
}

func TestPathResolve_Errors(t *testing.T) {
	t.Parallel()
	ctx := testContext()

	tests := []struct {
		name string
		expr string
	}{
		{"unknown variable", "variables.missing"},
		{"unknown step", "steps.nope.outputs.x"},
		{"missing output key", "steps.http.outputs.missing"},
		{"traverse through scalar", "steps.http.outputs.status_code.deeper"},
		{"steps without outputs", "steps.http.status"},
		{"unknown root", "secrets.token"},
		{"length of number", "variables.limit|length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.expr)
			require.NoError(t, err)
			_, err = p.Resolve(ctx)
			var resolveErr *ResolveError
			require.ErrorAs(t, err, &resolveErr)
		})
	}
}

func TestPathResolve_NoLoopFrame(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	ctx.Loop = nil
	p, err := ParsePath("loop.item")
	require.NoError(t, err)
	_, err = p.Resolve(ctx)
	assert.Error(t, err)
}
