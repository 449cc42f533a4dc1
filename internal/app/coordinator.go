package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
	"toolgrid/internal/infra/cache"
	"toolgrid/internal/infra/dispatch"
	"toolgrid/internal/infra/rpc"
	"toolgrid/internal/infra/syncer"
)

// Transport sends one request to the remote tool endpoint.
type Transport interface {
	Request(ctx context.Context, req rpc.Request) (rpc.Response, error)
}

// Readiness answers whether a tool may be invoked right now.
type Readiness interface {
	IsReady(toolID string) bool
	State(toolID string) (domain.ToolState, bool)
}

// ExecutionLedger records execution lifecycle events around each call.
type ExecutionLedger interface {
	StartExecution(ctx context.Context, executionID string, contextData map[string]any) error
	FinishExecution(ctx context.Context, executionID string, result any) error
}

// CoordinatorOptions wires a Coordinator.
type CoordinatorOptions struct {
	Logger    *zap.Logger
	Readiness Readiness
	Transport Transport
	Ledger    ExecutionLedger
	Cache     *cache.Manager

	// Local is the dispatch table of in-process tool integrations.
	// Actions found there never leave the process.
	Local *dispatch.Table
}

// Coordinator gates tool invocations on health state and records each
// call in the execution ledger before handing it to the transport.
type Coordinator struct {
	logger    *zap.Logger
	readiness Readiness
	transport Transport
	ledger    ExecutionLedger
	cache     *cache.Manager
	local     *dispatch.Table
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		logger:    logger.Named("coordinator"),
		readiness: opts.Readiness,
		transport: opts.Transport,
		ledger:    opts.Ledger,
		cache:     opts.Cache,
		local:     opts.Local,
	}
}

// InvokeTool executes one tool call. Actions with a local integration
// are dispatched in-process; everything else goes over the transport,
// and tools that are not READY are rejected before any network traffic.
func (c *Coordinator) InvokeTool(ctx context.Context, tool string, params map[string]any) (json.RawMessage, error) {
	const op = "app.InvokeTool"

	if c.local != nil && c.local.Has(tool) {
		return c.invokeLocal(ctx, tool, params)
	}

	if c.readiness != nil {
		if _, known := c.readiness.State(tool); !known {
			return nil, domain.E(domain.CodeNotFound, op, tool, domain.ErrToolNotFound)
		}
		if !c.readiness.IsReady(tool) {
			return nil, domain.E(domain.CodeUnavailable, op, "tool is not ready", domain.ErrToolNotReady)
		}
	}

	executionID := uuid.NewString()
	started := time.Now()
	if c.ledger != nil {
		if err := c.ledger.StartExecution(ctx, executionID, map[string]any{"tool_id": tool}); err != nil {
			c.logger.Warn("execution start not recorded",
				zap.String("tool", tool),
				zap.Error(err))
		}
	}

	resp, err := c.transport.Request(ctx, rpc.Request{
		Type:       rpc.TypeExecuteTool,
		Action:     tool,
		Parameters: params,
	})

	if c.ledger != nil {
		result := map[string]any{"duration_ms": time.Since(started).Milliseconds()}
		if err != nil {
			result["error"] = err.Error()
		} else {
			result["success"] = resp.Success
		}
		if finishErr := c.ledger.FinishExecution(ctx, executionID, result); finishErr != nil {
			c.logger.Warn("execution finish not recorded",
				zap.String("tool", tool),
				zap.Error(finishErr))
		}
	}

	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, domain.E(domain.CodeInternal, op, resp.ErrorMessage, nil)
	}
	return resp.Data, nil
}

var _ ExecutionLedger = (*syncer.Synchronizer)(nil)

func (c *Coordinator) invokeLocal(ctx context.Context, tool string, params map[string]any) (json.RawMessage, error) {
	const op = "app.InvokeTool"

	executionID := uuid.NewString()
	started := time.Now()
	if c.ledger != nil {
		if err := c.ledger.StartExecution(ctx, executionID, map[string]any{"tool_id": tool, "local": true}); err != nil {
			c.logger.Warn("execution start not recorded",
				zap.String("tool", tool),
				zap.Error(err))
		}
	}

	out, err := c.local.Dispatch(ctx, tool, params)

	if c.ledger != nil {
		result := map[string]any{"duration_ms": time.Since(started).Milliseconds()}
		if err != nil {
			result["error"] = err.Error()
		} else {
			result["success"] = true
		}
		if finishErr := c.ledger.FinishExecution(ctx, executionID, result); finishErr != nil {
			c.logger.Warn("execution finish not recorded",
				zap.String("tool", tool),
				zap.Error(finishErr))
		}
	}

	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, domain.E(domain.CodeInternal, op, "tool result not serializable", err)
	}
	return encoded, nil
}

// InvokeToolCached consults the lookup cache before invoking. Results of
// successful calls are stored under the category's TTL policy. Identical
// tool+parameter pairs map to the same cache identifier.
func (c *Coordinator) InvokeToolCached(ctx context.Context, category cache.Category, tool string, params map[string]any) (json.RawMessage, error) {
	if c.cache == nil {
		return c.InvokeTool(ctx, tool, params)
	}

	identifier := invokeIdentifier(tool, params)
	if value, hit := c.cache.Get(category, identifier); hit {
		if raw, ok := value.(json.RawMessage); ok {
			return raw, nil
		}
		// A durable-tier hit comes back as decoded JSON.
		if encoded, err := json.Marshal(value); err == nil {
			return encoded, nil
		}
	}

	data, err := c.InvokeTool(ctx, tool, params)
	if err != nil {
		return nil, err
	}
	c.cache.Set(category, identifier, data, 0)
	return data, nil
}

func invokeIdentifier(tool string, params map[string]any) string {
	encoded, err := json.Marshal(params)
	if err != nil {
		return tool
	}
	return tool + ":" + string(encoded)
}

// invokeRequest is the HTTP body accepted by the invoke endpoint. A
// cache category opts the call into result caching.
type invokeRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Category   string         `json:"cache_category,omitempty"`
}

type invokeResponse struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// InvokeHandler exposes InvokeTool over HTTP for local callers.
func (c *Coordinator) InvokeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
			writeInvokeResponse(w, http.StatusBadRequest, invokeResponse{ErrorMessage: "invalid invoke request"})
			return
		}

		var data json.RawMessage
		var err error
		if req.Category != "" {
			data, err = c.InvokeToolCached(r.Context(), cache.Category(req.Category), req.Tool, req.Parameters)
		} else {
			data, err = c.InvokeTool(r.Context(), req.Tool, req.Parameters)
		}
		if err != nil {
			status := http.StatusInternalServerError
			switch code, _ := domain.CodeFrom(err); code {
			case domain.CodeUnavailable:
				status = http.StatusServiceUnavailable
			case domain.CodeNotFound:
				status = http.StatusNotFound
			}
			writeInvokeResponse(w, status, invokeResponse{ErrorMessage: err.Error()})
			return
		}
		writeInvokeResponse(w, http.StatusOK, invokeResponse{Success: true, Data: data})
	})
}

func writeInvokeResponse(w http.ResponseWriter, status int, resp invokeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
