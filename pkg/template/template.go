// Package template substitutes {{ expr }} placeholders in strings and
// nested configuration values against an execution context snapshot.
// Substitution is deterministic for a given snapshot.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// ResolveValue substitutes placeholders in every string leaf of a
// JSON-like value. Maps and slices are copied; other values are
// returned as-is.
func ResolveValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return ResolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := ResolveValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := ResolveValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveConfig resolves a node config map, leaving the keys listed in
// skip untouched. Control-flow executors resolve their own expression
// and sub-graph keys at execution time.
func ResolveConfig(config map[string]any, skip map[string]bool, ctx *Context) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		if skip[k] {
			out[k] = v
			continue
		}
		resolved, err := ResolveValue(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// ResolveString substitutes all placeholders in a string. When the
// whole string is a single placeholder whose result is not a string,
// the native type is preserved; otherwise results are stringified.
func ResolveString(s string, ctx *Context) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string single placeholder keeps the native type.
	if len(matches) == 1 && strings.TrimSpace(s[:matches[0][0]]) == "" &&
		strings.TrimSpace(s[matches[0][1]:]) == "" &&
		strings.TrimSpace(s) == s[matches[0][0]:matches[0][1]] {
		return resolveExpr(s[matches[0][2]:matches[0][3]], ctx)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		value, err := resolveExpr(s[m[2]:m[3]], ctx)
		if err != nil {
			return nil, err
		}
		b.WriteString(Stringify(value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func resolveExpr(expr string, ctx *Context) (any, error) {
	path, err := ParsePath(expr)
	if err != nil {
		return nil, err
	}
	return path.Resolve(ctx)
}

// Stringify renders a resolved value for interpolation into a larger
// string. Numbers render without a trailing ".0" for integral values;
// composites render as JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
