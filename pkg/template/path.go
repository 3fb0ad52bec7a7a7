package template

import (
	"fmt"
	"strings"

	"github.com/smilemakc/dagrun/pkg/models"
)

// Path is a parsed template path: a segment list with an optional
// trailing |length modifier. Expressed as an AST rather than ad-hoc
// string splitting so the semantics stay explicit and testable.
type Path struct {
	Segments []string
	Length   bool
}

// ResolveError reports an unresolvable template path.
type ResolveError struct {
	Expr   string
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Expr, e.Reason)
}

func resolveErr(expr, format string, args ...any) error {
	return &ResolveError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}

// ParsePath parses a path expression such as
// "steps.http.outputs.body.id|length".
func ParsePath(expr string) (*Path, error) {
	raw := strings.TrimSpace(expr)
	p := &Path{}
	if idx := strings.LastIndex(raw, "|"); idx >= 0 {
		mod := strings.TrimSpace(raw[idx+1:])
		if mod != "length" {
			return nil, resolveErr(expr, "unknown modifier %q", mod)
		}
		p.Length = true
		raw = strings.TrimSpace(raw[:idx])
	}
	if raw == "" {
		return nil, resolveErr(expr, "empty path")
	}
	for _, seg := range strings.Split(raw, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, resolveErr(expr, "empty path segment")
		}
		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}

// Context is the read-only snapshot a template resolves against.
type Context struct {
	Variables map[string]any
	Steps     map[string]*models.StepResult
	Loop      *models.LoopFrame
}

// Resolve evaluates the path against the context snapshot.
func (p *Path) Resolve(ctx *Context) (any, error) {
	expr := p.String()
	value, err := p.root(ctx, expr)
	if err != nil {
		return nil, err
	}
	if p.Length {
		return lengthOf(value, expr)
	}
	return value, nil
}

func (p *Path) root(ctx *Context, expr string) (any, error) {
	switch p.Segments[0] {
	case "variables":
		if len(p.Segments) < 2 {
			return nil, resolveErr(expr, "variables requires a name")
		}
		value, ok := ctx.Variables[p.Segments[1]]
		if !ok {
			return nil, resolveErr(expr, "unknown variable %q", p.Segments[1])
		}
		return traverse(value, p.Segments[2:], expr)

	case "steps":
		if len(p.Segments) < 3 || p.Segments[2] != "outputs" {
			return nil, resolveErr(expr, "steps paths take the form steps.<id>.outputs[...]")
		}
		step, ok := ctx.Steps[p.Segments[1]]
		if !ok {
			return nil, resolveErr(expr, "no step %q in context", p.Segments[1])
		}
		if len(p.Segments) == 3 {
			return step.Outputs, nil
		}
		return traverse(step.Outputs, p.Segments[3:], expr)

	case "loop":
		if ctx.Loop == nil {
			return nil, resolveErr(expr, "no enclosing loop frame")
		}
		if len(p.Segments) < 2 {
			return nil, resolveErr(expr, "loop requires item, index or length")
		}
		switch p.Segments[1] {
		case "item":
			return traverse(ctx.Loop.Item, p.Segments[2:], expr)
		case "index":
			return traverse(ctx.Loop.Index, p.Segments[2:], expr)
		case "length":
			return traverse(ctx.Loop.Length, p.Segments[2:], expr)
		}
		return nil, resolveErr(expr, "unknown loop field %q", p.Segments[1])
	}
	return nil, resolveErr(expr, "unknown root %q", p.Segments[0])
}

// traverse walks nested maps (and struct-free JSON trees) by key.
func traverse(value any, segments []string, expr string) (any, error) {
	for _, seg := range segments {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, resolveErr(expr, "segment %q: value is %T, not an object", seg, value)
		}
		value, ok = m[seg]
		if !ok {
			return nil, resolveErr(expr, "missing key %q", seg)
		}
	}
	return value, nil
}

func lengthOf(value any, expr string) (any, error) {
	switch v := value.(type) {
	case string:
		return len(v), nil
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	}
	return nil, resolveErr(expr, "|length needs a string, array or object, got %T", value)
}

func (p *Path) String() string {
	s := strings.Join(p.Segments, ".")
	if p.Length {
		s += "|length"
	}
	return s
}
