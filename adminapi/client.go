package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client talks to a running Server over its Unix socket, grounded on the
// teacher's tui/admin_client.go AdminClient shape (SocketPath/IsAvailable
// and one method per admin query), adapted from Connect-RPC framing to a
// single JSON request/response per connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a Client bound to socketPath; nothing is dialed yet.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 5 * time.Second}
}

// SocketPath returns the path this Client dials.
func (c *Client) SocketPath() string { return c.socketPath }

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("dial admin socket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode admin request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode admin response: %w", err)
	}
	if resp.Error != "" {
		return Response{}, errors.New(resp.Error)
	}
	return resp, nil
}

// Snapshot fetches the current device/claim/operation table.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	resp, err := c.call(ctx, Request{Op: "snapshot"})
	if err != nil {
		return nil, err
	}
	return resp.Snapshot, nil
}

// History fetches up to limit audit records, newest first, optionally
// filtered to one device. deviceID == "" fetches across all devices.
func (c *Client) History(ctx context.Context, deviceID string, limit int) ([]AuditRecord, error) {
	resp, err := c.call(ctx, Request{Op: "history", DeviceID: deviceID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.History, nil
}

// IsAvailable reports whether a Server is reachable at SocketPath, mirroring
// the teacher's AdminClient.IsAvailable health-check pattern.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Snapshot(ctx)
	return err == nil
}
