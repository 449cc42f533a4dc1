package rpc

import (
	"context"
	"encoding/json"

	"toolgrid/internal/domain"
)

// Discovery asks the remote endpoint which tools it currently serves.
// It satisfies the health tracker's discovery source contract.
type Discovery struct {
	client *Client
}

// NewDiscovery wraps client as a discovery source.
func NewDiscovery(client *Client) *Discovery {
	return &Discovery{client: client}
}

// AdvertisedTools lists the tool names the endpoint advertises.
func (d *Discovery) AdvertisedTools(ctx context.Context) ([]string, error) {
	const op = "rpc.AdvertisedTools"

	resp, err := d.client.Request(ctx, Request{Type: TypeRequest, Action: "list_tools"})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, domain.E(domain.CodeUnavailable, op, resp.ErrorMessage, nil)
	}

	var body struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return nil, domain.E(domain.CodeInternal, op, "malformed tool listing", err)
	}
	return body.Tools, nil
}

// ServerInventory lists the handler names one server implements. The
// consistency validator compares this against the declared catalog.
func (d *Discovery) ServerInventory(ctx context.Context, serverID string) ([]string, error) {
	const op = "rpc.ServerInventory"

	resp, err := d.client.Request(ctx, Request{
		Type:       TypeRequest,
		Action:     "list_tools",
		Parameters: map[string]any{"server_id": serverID},
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, domain.E(domain.CodeUnavailable, op, resp.ErrorMessage, nil)
	}

	var body struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return nil, domain.E(domain.CodeInternal, op, "malformed tool listing", err)
	}
	return body.Tools, nil
}
