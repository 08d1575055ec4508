package expressions

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/valyala/fasttemplate"
)

// EvaluateCondition compiles and evaluates a success condition with the
// provided environment as context. The expression must evaluate to a bool;
// anything else is an error. e.g. EvaluateCondition("result >= 0.95",
// map[string]any{"result": 0.97}) returns true.
func EvaluateCondition(condition string, env map[string]any) (bool, error) {
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", condition, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}
	pass, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf(
			"condition %q evaluated to %T, not bool", condition, result,
		)
	}
	return pass, nil
}

// ExpandTemplate replaces occurrences of {{args.<name>}} in the template
// with the corresponding argument value. Referencing an argument that is not
// provided is an error; this surfaces template/argument mismatches before a
// query ever reaches a backend.
func ExpandTemplate(template string, args map[string]string) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}
	t, err := fasttemplate.NewTemplate(template, "{{", "}}")
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out := &bytes.Buffer{}
	if _, err = t.ExecuteFunc(
		out,
		func(w io.Writer, tag string) (int, error) {
			name := strings.TrimSpace(tag)
			name = strings.TrimPrefix(name, "args.")
			value, ok := args[name]
			if !ok {
				return 0, fmt.Errorf("no argument %q for template tag %q", name, tag)
			}
			return w.Write([]byte(value))
		},
	); err != nil {
		return "", err
	}
	return out.String(), nil
}
