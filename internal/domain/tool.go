package domain

import "sort"

// ParameterSpec describes one parameter of a tool action.
type ParameterSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// ToolDefinition is a single action exposed by a tool server. Definitions
// are immutable once produced by a catalog load; a reload replaces them
// wholesale.
type ToolDefinition struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  map[string]ParameterSpec `json:"parameters,omitempty"`
	Examples    []string                 `json:"examples,omitempty"`
}

// ServerDefinition describes a tool server and the actions it declares.
// Owned by the catalog loader; read-only to every other component.
type ServerDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Version     string           `json:"version,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Tools       []ToolDefinition `json:"tools"`
}

// ActionNames returns the sorted names of all declared actions.
func (s ServerDefinition) ActionNames() []string {
	names := make([]string, 0, len(s.Tools))
	for _, tool := range s.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

// CloneToolDefinition returns a deep copy safe to hand across goroutines.
func CloneToolDefinition(tool ToolDefinition) ToolDefinition {
	cloned := tool
	if tool.Parameters != nil {
		cloned.Parameters = make(map[string]ParameterSpec, len(tool.Parameters))
		for name, param := range tool.Parameters {
			cloned.Parameters[name] = param
		}
	}
	if tool.Examples != nil {
		cloned.Examples = append([]string(nil), tool.Examples...)
	}
	return cloned
}

// CloneServerDefinition returns a deep copy safe to hand across goroutines.
func CloneServerDefinition(spec ServerDefinition) ServerDefinition {
	cloned := spec
	if spec.Tags != nil {
		cloned.Tags = append([]string(nil), spec.Tags...)
	}
	if spec.Tools != nil {
		cloned.Tools = make([]ToolDefinition, len(spec.Tools))
		for i, tool := range spec.Tools {
			cloned.Tools[i] = CloneToolDefinition(tool)
		}
	}
	return cloned
}
