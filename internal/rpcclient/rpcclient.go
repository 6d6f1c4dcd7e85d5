// Package rpcclient provides a client for the JSON-RPC server of a running session.
package rpcclient

import (
	"github.com/opifices/opit/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// Client is a JSON-RPC client for a session.
type Client struct {
	client *jsonrpc2.Client
}

// New returns a Client that connects to the server at url, e.g. "http://127.0.0.1:7246".
func New(url string) *Client {
	return &Client{client: jsonrpc2.NewHTTPClient(url)}
}

// Close the client.
func (c *Client) Close() error {
	return c.client.Close()
}

// ServerVersion returns the version of the server.
func (c *Client) ServerVersion() (string, error) {
	var reply string
	return reply, c.client.Call("Session.Version", nil, &reply)
}

// GetStatus returns the status of the session.
func (c *Client) GetStatus() (*rpctypes.Status, error) {
	var reply rpctypes.GetStatusResponse
	return &reply.Status, c.client.Call("Session.GetStatus", rpctypes.GetStatusRequest{}, &reply)
}

// GetSchedulerStats returns statistics of the piece scheduler.
func (c *Client) GetSchedulerStats() (*rpctypes.SchedulerStats, error) {
	var reply rpctypes.GetSchedulerStatsResponse
	return &reply.Stats, c.client.Call("Session.GetSchedulerStats", rpctypes.GetSchedulerStatsRequest{}, &reply)
}

// GetActiveRequests returns the pieces that are tracked as requested. Zero limit returns all.
func (c *Client) GetActiveRequests(limit int) ([]rpctypes.ActiveRequest, error) {
	args := rpctypes.GetActiveRequestsRequest{Limit: limit}
	var reply rpctypes.GetActiveRequestsResponse
	err := c.client.Call("Session.GetActiveRequests", args, &reply)
	return reply.Requests, err
}

// SetAggressive turns aggressive mode on or off.
func (c *Client) SetAggressive(enabled bool) (*rpctypes.SetAggressiveResponse, error) {
	args := rpctypes.SetAggressiveRequest{Enabled: enabled}
	var reply rpctypes.SetAggressiveResponse
	return &reply, c.client.Call("Session.SetAggressive", args, &reply)
}

// IsAggressive returns whether stalled pieces are re-requested.
func (c *Client) IsAggressive() (*rpctypes.IsAggressiveResponse, error) {
	var reply rpctypes.IsAggressiveResponse
	return &reply, c.client.Call("Session.IsAggressive", rpctypes.IsAggressiveRequest{}, &reply)
}
