package catalog

import (
	"fmt"
	"sort"
	"strings"

	"toolgrid/internal/domain"
)

// synthesizeDescription builds a deterministic human-readable description
// for an action that declared none.
func synthesizeDescription(action string, params map[string]domain.ParameterSpec) string {
	var b strings.Builder
	b.WriteString("Performs the ")
	b.WriteString(humanizeAction(action))
	b.WriteString(" operation.")

	required := paramNames(params, true)
	optional := paramNames(params, false)
	if len(required) > 0 {
		b.WriteString(" Requires ")
		b.WriteString(strings.Join(required, ", "))
		b.WriteString(".")
	}
	if len(optional) > 0 {
		b.WriteString(" Accepts optional ")
		b.WriteString(strings.Join(optional, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// synthesizeExample builds a deterministic sample invocation covering all
// required parameters.
func synthesizeExample(action string, params map[string]domain.ParameterSpec) string {
	required := paramNames(params, true)
	args := make([]string, 0, len(required))
	for _, name := range required {
		args = append(args, fmt.Sprintf("%s=%s", name, placeholderValue(name, params[name])))
	}
	return fmt.Sprintf("%s(%s)", action, strings.Join(args, ", "))
}

func humanizeAction(action string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(action)
	return strings.Join(strings.Fields(replaced), " ")
}

func paramNames(params map[string]domain.ParameterSpec, required bool) []string {
	var names []string
	for name, param := range params {
		if param.Required == required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func placeholderValue(name string, param domain.ParameterSpec) string {
	if param.Default != nil {
		return fmt.Sprintf("%v", param.Default)
	}
	switch param.Type {
	case "string":
		return fmt.Sprintf("%q", "sample-"+name)
	case "integer":
		return "1"
	case "number":
		return "1.0"
	case "boolean":
		return "true"
	case "array":
		return "[]"
	case "object":
		return "{}"
	default:
		return "null"
	}
}
