package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
	"toolgrid/internal/infra/cache"
	"toolgrid/internal/infra/dispatch"
	"toolgrid/internal/infra/rpc"
)

type fakeTransport struct {
	requests []rpc.Request
	resp     rpc.Response
	err      error
}

func (f *fakeTransport) Request(_ context.Context, req rpc.Request) (rpc.Response, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

type fakeReadiness struct {
	ready map[string]bool
}

func (f *fakeReadiness) IsReady(toolID string) bool { return f.ready[toolID] }

func (f *fakeReadiness) State(toolID string) (domain.ToolState, bool) {
	ready, known := f.ready[toolID]
	if !known {
		return "", false
	}
	if ready {
		return domain.StateReady, true
	}
	return domain.StateUnhealthy, true
}

type fakeLedger struct {
	started  []string
	finished []string
	results  []any
}

func (f *fakeLedger) StartExecution(_ context.Context, executionID string, _ map[string]any) error {
	f.started = append(f.started, executionID)
	return nil
}

func (f *fakeLedger) FinishExecution(_ context.Context, executionID string, result any) error {
	f.finished = append(f.finished, executionID)
	f.results = append(f.results, result)
	return nil
}

func newTestCoordinator(transport *fakeTransport, readiness *fakeReadiness, ledger *fakeLedger) *Coordinator {
	return NewCoordinator(CoordinatorOptions{
		Logger:    zap.NewNop(),
		Readiness: readiness,
		Transport: transport,
		Ledger:    ledger,
	})
}

func TestInvokeToolRejectsNotReady(t *testing.T) {
	transport := &fakeTransport{}
	coordinator := newTestCoordinator(transport, &fakeReadiness{ready: map[string]bool{"web_search": false}}, &fakeLedger{})

	_, err := coordinator.InvokeTool(context.Background(), "web_search", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrToolNotReady))
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
	require.Empty(t, transport.requests, "no network traffic for a tool that is not ready")
}

func TestInvokeToolUnknownTool(t *testing.T) {
	transport := &fakeTransport{}
	coordinator := newTestCoordinator(transport, &fakeReadiness{ready: map[string]bool{}}, &fakeLedger{})

	_, err := coordinator.InvokeTool(context.Background(), "no_such_tool", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrToolNotFound))
	require.Empty(t, transport.requests)
}

func TestInvokeToolLocalDispatch(t *testing.T) {
	table, err := dispatch.NewTable(zap.NewNop(), dispatch.Func{
		Definition: domain.ToolDefinition{Name: "word_count"},
		Run: func(_ context.Context, params map[string]any) (any, error) {
			text, _ := params["text"].(string)
			return map[string]any{"words": len(strings.Fields(text))}, nil
		},
	})
	require.NoError(t, err)

	transport := &fakeTransport{}
	ledger := &fakeLedger{}
	coordinator := NewCoordinator(CoordinatorOptions{
		Logger:    zap.NewNop(),
		Readiness: &fakeReadiness{ready: map[string]bool{}},
		Transport: transport,
		Ledger:    ledger,
		Local:     table,
	})

	data, err := coordinator.InvokeTool(context.Background(), "word_count", map[string]any{"text": "one two three"})
	require.NoError(t, err)
	require.JSONEq(t, `{"words":3}`, string(data))
	require.Empty(t, transport.requests, "local actions never leave the process")
	require.Len(t, ledger.finished, 1)
}

func TestInvokeToolRoundTrip(t *testing.T) {
	transport := &fakeTransport{
		resp: rpc.Response{Success: true, Data: json.RawMessage(`{"answer":42}`)},
	}
	ledger := &fakeLedger{}
	coordinator := newTestCoordinator(transport,
		&fakeReadiness{ready: map[string]bool{"web_search": true}}, ledger)

	data, err := coordinator.InvokeTool(context.Background(), "web_search", map[string]any{"query": "go"})
	require.NoError(t, err)
	require.JSONEq(t, `{"answer":42}`, string(data))

	require.Len(t, transport.requests, 1)
	require.Equal(t, rpc.TypeExecuteTool, transport.requests[0].Type)
	require.Equal(t, "web_search", transport.requests[0].Action)

	require.Len(t, ledger.started, 1)
	require.Equal(t, ledger.started, ledger.finished)
}

func TestInvokeToolTransportFailureStillFinishesLedger(t *testing.T) {
	transport := &fakeTransport{
		err: domain.E(domain.CodeUnavailable, "rpc.Request", "request failed after reconnect", nil),
	}
	ledger := &fakeLedger{}
	coordinator := newTestCoordinator(transport,
		&fakeReadiness{ready: map[string]bool{"web_search": true}}, ledger)

	_, err := coordinator.InvokeTool(context.Background(), "web_search", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)

	require.Len(t, ledger.finished, 1)
	result, ok := ledger.results[0].(map[string]any)
	require.True(t, ok)
	require.Contains(t, result, "error")
}

func TestInvokeToolServerSideError(t *testing.T) {
	transport := &fakeTransport{
		resp: rpc.Response{Success: false, ErrorMessage: "sandbox crashed"},
	}
	coordinator := newTestCoordinator(transport,
		&fakeReadiness{ready: map[string]bool{"run_python": true}}, &fakeLedger{})

	_, err := coordinator.InvokeTool(context.Background(), "run_python", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInternal, code)
	require.Contains(t, err.Error(), "sandbox crashed")
}

func TestInvokeToolCached(t *testing.T) {
	transport := &fakeTransport{
		resp: rpc.Response{Success: true, Data: json.RawMessage(`{"results":["a"]}`)},
	}
	coordinator := NewCoordinator(CoordinatorOptions{
		Logger:    zap.NewNop(),
		Readiness: &fakeReadiness{ready: map[string]bool{"web_search": true}},
		Transport: transport,
		Ledger:    &fakeLedger{},
		Cache:     cache.NewManager(cache.Options{Logger: zap.NewNop()}),
	})

	params := map[string]any{"query": "go"}
	first, err := coordinator.InvokeToolCached(context.Background(), cache.CategorySearch, "web_search", params)
	require.NoError(t, err)
	second, err := coordinator.InvokeToolCached(context.Background(), cache.CategorySearch, "web_search", params)
	require.NoError(t, err)

	require.JSONEq(t, string(first), string(second))
	require.Len(t, transport.requests, 1, "second call must be served from cache")

	// Different parameters miss the cache.
	_, err = coordinator.InvokeToolCached(context.Background(), cache.CategorySearch, "web_search", map[string]any{"query": "rust"})
	require.NoError(t, err)
	require.Len(t, transport.requests, 2)
}

func TestInvokeHandler(t *testing.T) {
	transport := &fakeTransport{
		resp: rpc.Response{Success: true, Data: json.RawMessage(`{"ok":true}`)},
	}
	coordinator := newTestCoordinator(transport,
		&fakeReadiness{ready: map[string]bool{"web_search": true, "open_page": false}}, &fakeLedger{})
	handler := coordinator.InvokeHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/invoke",
		strings.NewReader(`{"tool":"web_search","parameters":{"query":"go"}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp invokeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.JSONEq(t, `{"ok":true}`, string(resp.Data))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/invoke",
		strings.NewReader(`{"tool":"open_page"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/invoke",
		strings.NewReader(`{"tool":"no_such_tool"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/invoke",
		strings.NewReader(`not json`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/invoke", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - id: search
    name: Search
    actions:
      - name: web_search
        params:
          query: {type: string, required: true}
`), 0o600))

	application := New(zap.NewNop())
	require.NoError(t, application.ValidateConfig(context.Background(), ValidateConfig{ConfigPath: path}))

	err := application.ValidateConfig(context.Background(), ValidateConfig{ConfigPath: filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
}
