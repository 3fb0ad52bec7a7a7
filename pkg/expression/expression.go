// Package expression evaluates boolean condition expressions. After
// template substitution the expression is normalized and compiled with
// expr-lang; compiled programs are cached by normalized source.
//
// The language is infix over literals (numbers, quoted strings, true,
// false, null), relational operators (==, !=, <, <=, >, >=), logical
// && and ||, and parentheses. Equality compares numerically when both
// sides are numeric strings.
package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smilemakc/dagrun/pkg/template"
)

// ParseError reports a malformed expression.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad expression %q: %s", e.Expr, e.Reason)
}

func parseErr(source, format string, args ...any) error {
	return &ParseError{Expr: source, Reason: fmt.Sprintf(format, args...)}
}

var placeholderRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Evaluator substitutes, normalizes and evaluates boolean expressions.
// Safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// EvalBool resolves template placeholders in source against ctx, then
// evaluates the resulting expression to a boolean. Template resolution
// failures surface as *template.ResolveError; everything else as
// *ParseError.
func (e *Evaluator) EvalBool(source string, ctx *template.Context) (bool, error) {
	substituted, err := substitute(source, ctx)
	if err != nil {
		return false, err
	}
	normalized, err := normalize(substituted)
	if err != nil {
		return false, parseErr(source, "%v", err)
	}

	program, err := e.compile(normalized)
	if err != nil {
		return false, parseErr(source, "%v", err)
	}

	output, err := expr.Run(program, map[string]any{})
	if err != nil {
		return false, parseErr(source, "evaluation failed: %v", err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, parseErr(source, "expression is not boolean, got %T", output)
	}
	return result, nil
}

func (e *Evaluator) compile(normalized string) (*vm.Program, error) {
	e.mu.RLock()
	program, hit := e.cache[normalized]
	e.mu.RUnlock()
	if hit {
		return program, nil
	}

	program, err := expr.Compile(normalized, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[normalized] = program
	e.mu.Unlock()
	return program, nil
}

// substitute replaces each {{ path }} with a literal token so the
// result stays parseable: numbers and numeric strings become number
// literals, other strings become quoted literals.
func substitute(source string, ctx *template.Context) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(source, func(match string) string {
		if firstErr != nil {
			return match
		}
		inner := match[2 : len(match)-2]
		path, err := template.ParsePath(inner)
		if err != nil {
			firstErr = err
			return match
		}
		value, err := path.Resolve(ctx)
		if err != nil {
			firstErr = err
			return match
		}
		token, err := literal(value)
		if err != nil {
			firstErr = parseErr(source, "%v", err)
			return match
		}
		return token
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func literal(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "nil", nil
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		if isNumeric(v) {
			return v, nil
		}
		return strconv.Quote(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	}
	return "", fmt.Errorf("non-scalar value %T in expression", value)
}

func isNumeric(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// normalize walks the expression outside of string literals, rewriting
// quoted numeric strings to number literals (the coercion rule) and
// the null keyword to expr-lang's nil.
func normalize(source string) (string, error) {
	var b strings.Builder
	runes := []rune(source)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"' || c == '\'':
			lit, end, err := scanString(runes, i)
			if err != nil {
				return "", err
			}
			if isNumeric(lit) {
				b.WriteString(lit)
			} else {
				b.WriteString(strconv.Quote(lit))
			}
			i = end
		case isDigit(c) || (c == '.' && i+1 < len(runes) && isDigit(runes[i+1])):
			// Consume a whole number literal, including any exponent,
			// so its letters are not mistaken for identifiers.
			end := scanNumber(runes, i)
			b.WriteString(string(runes[i:end]))
			i = end - 1
		case isIdentStart(c):
			start := i
			for i+1 < len(runes) && isIdentPart(runes[i+1]) {
				i++
			}
			word := string(runes[start : i+1])
			switch word {
			case "null":
				b.WriteString("nil")
			case "true", "false", "nil":
				b.WriteString(word)
			default:
				return "", fmt.Errorf("unknown identifier %q", word)
			}
		default:
			b.WriteRune(c)
		}
	}
	return b.String(), nil
}

// scanString reads a quoted literal starting at runes[start], handling
// backslash escapes, and returns the unquoted text and the index of
// the closing quote.
func scanString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		c := runes[i]
		if c == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			switch next {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '\\', '"', '\'':
				b.WriteRune(next)
			default:
				b.WriteRune('\\')
				b.WriteRune(next)
			}
			i++
			continue
		}
		if c == quote {
			return b.String(), i, nil
		}
		b.WriteRune(c)
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

// scanNumber returns the index just past a number literal starting at
// runes[start]: digits, a fractional part, and an optional exponent.
func scanNumber(runes []rune, start int) int {
	i := start
	for i < len(runes) && (isDigit(runes[i]) || runes[i] == '.') {
		i++
	}
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && isDigit(runes[j]) {
			i = j
			for i < len(runes) && isDigit(runes[i]) {
				i++
			}
		}
	}
	return i
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
