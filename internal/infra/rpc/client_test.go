package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"toolgrid/internal/domain"
)

type countingMetrics struct {
	domain.NopMetrics
	reconnects atomic.Int64
}

func (m *countingMetrics) ObserveRPCReconnect() { m.reconnects.Add(1) }

func wsHandler(serve func(ctx context.Context, c *websocket.Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serve(r.Context(), c)
	})
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(wsHandler(func(ctx context.Context, c *websocket.Conn) {
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			body, _ := json.Marshal(map[string]string{"action": req.Action})
			resp, _ := json.Marshal(Response{Success: true, Data: body})
			if err := c.Write(ctx, websocket.MessageText, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRequestRoundTrip(t *testing.T) {
	srv := echoServer(t)
	client := NewClient(Options{Endpoint: wsURL(srv)})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	resp, err := client.Request(ctx, Request{Type: TypeRequest, Action: "list_tools"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.JSONEq(t, `{"action":"list_tools"}`, string(resp.Data))
}

func TestRequestReconnectsOnce(t *testing.T) {
	var accepted atomic.Int64
	srv := httptest.NewServer(wsHandler(func(ctx context.Context, c *websocket.Conn) {
		if accepted.Add(1) == 1 {
			c.Close(websocket.StatusInternalError, "going away")
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var req Request
		require.NoError(t, json.Unmarshal(data, &req))
		resp, _ := json.Marshal(Response{Success: true})
		_ = c.Write(ctx, websocket.MessageText, resp)
	}))
	defer srv.Close()

	metrics := &countingMetrics{}
	client := NewClient(Options{Endpoint: wsURL(srv), Metrics: metrics})
	defer client.Close()

	resp, err := client.Request(context.Background(), Request{Type: TypeExecuteTool, Action: "web_search"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.EqualValues(t, 1, metrics.reconnects.Load())
}

func TestRequestFailsAfterSecondAttempt(t *testing.T) {
	srv := httptest.NewServer(wsHandler(func(ctx context.Context, c *websocket.Conn) {
		c.Close(websocket.StatusInternalError, "down")
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: wsURL(srv)})
	defer client.Close()

	_, err := client.Request(context.Background(), Request{Type: TypeRequest, Action: "list_tools"})
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
}

func TestConnectUnreachableEndpoint(t *testing.T) {
	client := NewClient(Options{
		Endpoint:    "ws://127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	err := client.Connect(context.Background())
	require.Error(t, err)
}

func TestClosedClientRejectsRequests(t *testing.T) {
	srv := echoServer(t)
	client := NewClient(Options{Endpoint: wsURL(srv)})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	err := client.Connect(context.Background())
	require.True(t, errors.Is(err, domain.ErrConnectionClosed))

	_, err = client.Request(context.Background(), Request{Type: TypeRequest, Action: "list_tools"})
	require.True(t, errors.Is(err, domain.ErrConnectionClosed))
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
}

func TestDiscoveryAdvertisedTools(t *testing.T) {
	srv := httptest.NewServer(wsHandler(func(ctx context.Context, c *websocket.Conn) {
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			body, _ := json.Marshal(map[string][]string{"tools": {"web_search", "open_page"}})
			resp, _ := json.Marshal(Response{Success: true, Data: body})
			if err := c.Write(ctx, websocket.MessageText, resp); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: wsURL(srv)})
	defer client.Close()

	tools, err := NewDiscovery(client).AdvertisedTools(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"web_search", "open_page"}, tools)
}

func TestDiscoveryServerSideFailure(t *testing.T) {
	srv := httptest.NewServer(wsHandler(func(ctx context.Context, c *websocket.Conn) {
		defer c.Close(websocket.StatusNormalClosure, "")
		_, _, err := c.Read(ctx)
		if err != nil {
			return
		}
		resp, _ := json.Marshal(Response{Success: false, ErrorMessage: "registry offline"})
		_ = c.Write(ctx, websocket.MessageText, resp)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: wsURL(srv)})
	defer client.Close()

	_, err := NewDiscovery(client).AdvertisedTools(context.Background())
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
}
