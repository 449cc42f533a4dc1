// Package dispatch holds the statically-declared action dispatch table.
// Integrations are registered at construction time and checked once
// against the declared catalog; nothing is discovered at runtime.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"toolgrid/internal/domain"
	"toolgrid/internal/infra/catalog/validator"
)

// Tool is one concrete tool integration.
type Tool interface {
	// Execute runs the action with the given parameters.
	Execute(ctx context.Context, params map[string]any) (any, error)
	// Capabilities describes the action this tool implements.
	Capabilities() domain.ToolDefinition
	// Scenarios lists the situations the tool is applicable to.
	Scenarios() []string
}

// Table maps action names to their integrations. Built once; immutable
// afterwards.
type Table struct {
	logger *zap.Logger
	tools  map[string]Tool
}

// NewTable builds a dispatch table. Two tools claiming the same action
// name is a construction error.
func NewTable(logger *zap.Logger, tools ...Tool) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	byAction := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		name := tool.Capabilities().Name
		if name == "" {
			return nil, domain.E(domain.CodeInvalidArgument, "dispatch.NewTable", "tool has no action name", nil)
		}
		if _, exists := byAction[name]; exists {
			return nil, domain.E(domain.CodeInvalidArgument, "dispatch.NewTable",
				fmt.Sprintf("duplicate integration for action %q", name), nil)
		}
		byAction[name] = tool
	}
	return &Table{
		logger: logger.Named("dispatch"),
		tools:  byAction,
	}, nil
}

// Inventory returns the sorted action names with a registered
// integration. This is the handler inventory fed to the consistency
// validator.
func (t *Table) Inventory() []string {
	names := make([]string, 0, len(t.tools))
	for name := range t.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether an integration is registered for action.
func (t *Table) Has(action string) bool {
	_, ok := t.tools[action]
	return ok
}

// Dispatch executes the integration registered for action.
func (t *Table) Dispatch(ctx context.Context, action string, params map[string]any) (any, error) {
	tool, ok := t.tools[action]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "dispatch.Dispatch", action, domain.ErrToolNotFound)
	}
	return tool.Execute(ctx, params)
}

// Describe returns the capability description for action.
func (t *Table) Describe(action string) (domain.ToolDefinition, bool) {
	tool, ok := t.tools[action]
	if !ok {
		return domain.ToolDefinition{}, false
	}
	return tool.Capabilities(), true
}

// ScenariosFor returns the applicable scenarios for action.
func (t *Table) ScenariosFor(action string) []string {
	tool, ok := t.tools[action]
	if !ok {
		return nil
	}
	return tool.Scenarios()
}

// VerifyAgainst checks the table's inventory against one declared server
// and fails on mismatch. Called once at startup.
func (t *Table) VerifyAgainst(cat domain.Catalog, serverID string) error {
	report := validator.Validate(cat, serverID, t.Inventory())
	if err := validator.Require(report); err != nil {
		return err
	}
	t.logger.Debug("dispatch table verified",
		zap.String("server", serverID),
		zap.Int("actions", len(t.tools)))
	return nil
}
