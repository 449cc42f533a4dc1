package dispatch

import (
	"context"

	"toolgrid/internal/domain"
)

// Func adapts a plain function plus a static description into a Tool.
// Most integrations need no more than this.
type Func struct {
	Definition domain.ToolDefinition
	Applicable []string
	Run        func(ctx context.Context, params map[string]any) (any, error)
}

func (f Func) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f.Run(ctx, params)
}

func (f Func) Capabilities() domain.ToolDefinition {
	return domain.CloneToolDefinition(f.Definition)
}

func (f Func) Scenarios() []string {
	return append([]string(nil), f.Applicable...)
}

var _ Tool = Func{}
