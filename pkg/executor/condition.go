package executor

import (
	"context"
	"fmt"
	"strconv"
)

// ConditionExecutor evaluates a boolean expression and publishes the
// branch taken. The scheduler routes true/false edges from the
// "branch" output.
type ConditionExecutor struct{}

// RawConfigKeys keeps the expression out of the harness's template
// pass; substitution must be expression-aware (quoting, numeric
// coercion).
func (e *ConditionExecutor) RawConfigKeys() []string { return []string{"expression"} }

func (e *ConditionExecutor) Validate(config map[string]any) error {
	if getString(config, "expression", "") == "" {
		return fmt.Errorf("condition requires an expression")
	}
	return nil
}

func (e *ConditionExecutor) Execute(_ context.Context, config map[string]any, ec *Context) (map[string]any, error) {
	source := getString(config, "expression", "")
	if source == "" {
		return nil, fmt.Errorf("condition requires an expression")
	}
	result, err := ec.Expressions.EvalBool(source, ec.Template)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result": result,
		"branch": strconv.FormatBool(result),
	}, nil
}
