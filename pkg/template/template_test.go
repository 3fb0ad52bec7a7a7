package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveString_Interpolation(t *testing.T) {
	t.Parallel()
	ctx := testContext()

	tests := []struct {
		name string
		in   string
		want any
	}{
		{"no placeholder", "plain text", "plain text"},
		{"single in larger string", "region={{variables.region}}", "region=eu-west-1"},
		{"number stringified", "limit is {{variables.limit}}", "limit is 25"},
		{"two placeholders", "{{loop.index}}/{{loop.length}}", "0/3"},
		{"whitespace inside braces", "{{ variables.region }}", "eu-west-1"},
		{"loop item in url", "https://api/{{loop.item}}", "https://api/first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveString(tt.in, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveString_NativeTypePreserved(t *testing.T) {
	t.Parallel()
	ctx := testContext()

	got, err := ResolveString("{{variables.limit}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(25), got)

	got, err = ResolveString("{{steps.http.outputs.result.tags}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, got)

	// Surrounding text forces stringification.
	got, err = ResolveString("tags: {{steps.http.outputs.result.tags}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, `tags: ["a","b","c"]`, got)
}

func TestResolveString_UnresolvedPathFails(t *testing.T) {
	t.Parallel()
	_, err := ResolveString("{{variables.missing}}", testContext())
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
}

func TestResolveValue_NestedConfig(t *testing.T) {
	t.Parallel()
	ctx := testContext()

	resolved, err := ResolveValue(map[string]any{
		"url": "https://api/{{variables.region}}/users",
		"headers": map[string]any{
			"X-Limit": "{{variables.limit}}",
		},
		"retries": float64(3),
		"tags":    []any{"{{loop.item}}", "static"},
	}, ctx)
	require.NoError(t, err)

	m := resolved.(map[string]any)
	assert.Equal(t, "https://api/eu-west-1/users", m["url"])
	assert.Equal(t, float64(25), m["headers"].(map[string]any)["X-Limit"])
	assert.Equal(t, float64(3), m["retries"])
	assert.Equal(t, []any{"first", "static"}, m["tags"].([]any))
}

func TestResolveConfig_SkipsRawKeys(t *testing.T) {
	t.Parallel()
	config := map[string]any{
		"expression": "{{steps.http.outputs.status_code}} == 200",
		"url":        "{{variables.region}}",
	}
	resolved, err := ResolveConfig(config, map[string]bool{"expression": true}, testContext())
	require.NoError(t, err)
	assert.Equal(t, "{{steps.http.outputs.status_code}} == 200", resolved["expression"])
	assert.Equal(t, "eu-west-1", resolved["url"])
}

func TestResolveValue_Deterministic(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	config := map[string]any{"url": "https://api/{{variables.region}}/{{loop.index}}"}

	first, err := ResolveValue(config, ctx)
	require.NoError(t, err)
	second, err := ResolveValue(config, ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
