package rpc

import "encoding/json"

// Request is the wire request sent to the remote registry endpoint.
type Request struct {
	Type       string         `json:"type"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Request type values.
const (
	TypeRequest     = "request"
	TypeExecuteTool = "execute_tool"
)

// Response is the wire response. Exactly one response follows each
// request on the same connection.
type Response struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
