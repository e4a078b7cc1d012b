package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/trellisplan/trellis/internal/trelliserr"
)

// ClientVersion is overridden at startup from the build version.
var ClientVersion = "0.0.0"

// Client is one connection to a running server.
type Client struct {
	conn       net.Conn
	socketPath string
	timeout    time.Duration
	actor      string
}

// TryConnect dials the server socket with a short dial timeout.
// Returns (nil, nil) when no server is listening.
func TryConnect(socketPath string) (*Client, error) {
	return TryConnectWithTimeout(socketPath, 200*time.Millisecond)
}

// TryConnectWithTimeout dials with an explicit timeout. A dial
// failure means no healthy server; it is not an error.
func TryConnectWithTimeout(socketPath string, dialTimeout time.Duration) (*Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 200 * time.Millisecond
	}
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, nil
	}

	client := &Client{
		conn:       conn,
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
	health, err := client.Health()
	if err != nil || health.Status == "unhealthy" {
		_ = conn.Close()
		return nil, nil
	}
	return client, nil
}

// Connect dials and fails loudly; used where a server must exist.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to server at %s: %w", socketPath, err)
	}
	return &Client{conn: conn, socketPath: socketPath, timeout: 30 * time.Second}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SetTimeout sets the per-request deadline.
func (c *Client) SetTimeout(timeout time.Duration) { c.timeout = timeout }

// SetActor sets the acting identity recorded in audit entries.
func (c *Client) SetActor(actor string) { c.actor = actor }

// Execute sends one request and decodes the response line. A failed
// response is returned alongside a coded error.
func (c *Client) Execute(operation string, args any) (*Response, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}
	req := Request{
		Operation:     operation,
		Args:          argsJSON,
		Actor:         c.actor,
		ClientVersion: ClientVersion,
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	writer := bufio.NewWriter(c.conn)
	if _, err := writer.Write(reqJSON); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("failed to write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	respLine, err := bufio.NewReader(c.conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !resp.Success {
		return &resp, responseError(resp.Error)
	}
	return &resp, nil
}

// responseError rehydrates the wire error into a coded error.
func responseError(p *ErrorPayload) error {
	if p == nil {
		return trelliserr.New(trelliserr.CodeIOFailure, "operation failed without error detail")
	}
	e := trelliserr.New(trelliserr.Code(p.Code), "%s", p.Message)
	for k, v := range p.Context {
		e = e.With(k, v)
	}
	return e
}

func decodeData[T any](resp *Response) (*T, error) {
	var out T
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return &out, nil
}

// Ping verifies the server is alive.
func (c *Client) Ping() error {
	_, err := c.Execute(OpPing, struct{}{})
	return err
}

// Health retrieves the server health report.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.Execute(OpHealth, struct{}{})
	if err != nil {
		return nil, err
	}
	return decodeData[HealthResponse](resp)
}

// Shutdown asks the server to stop gracefully.
func (c *Client) Shutdown() error {
	_, err := c.Execute(OpShutdown, struct{}{})
	return err
}

// CreateObject creates a planning object.
func (c *Client) CreateObject(args *CreateObjectArgs) (*ObjectResult, error) {
	resp, err := c.Execute(OpCreateObject, args)
	if err != nil {
		return nil, err
	}
	return decodeData[ObjectResult](resp)
}

// GetObject fetches an object with its immediate children.
func (c *Client) GetObject(args *GetObjectArgs) (*ObjectResult, error) {
	resp, err := c.Execute(OpGetObject, args)
	if err != nil {
		return nil, err
	}
	return decodeData[ObjectResult](resp)
}

// UpdateObject patches front-matter fields and/or the body.
func (c *Client) UpdateObject(args *UpdateObjectArgs) (*ObjectResult, error) {
	resp, err := c.Execute(OpUpdateObject, args)
	if err != nil {
		return nil, err
	}
	return decodeData[ObjectResult](resp)
}

// DeleteObject removes an object, cascading for containers.
func (c *Client) DeleteObject(args *DeleteObjectArgs) (*DeleteObjectResult, error) {
	resp, err := c.Execute(OpDeleteObject, args)
	if err != nil {
		return nil, err
	}
	return decodeData[DeleteObjectResult](resp)
}

// ClaimNextTask claims a task per the request's mode.
func (c *Client) ClaimNextTask(args *ClaimNextTaskArgs) (*ClaimNextTaskResult, error) {
	resp, err := c.Execute(OpClaimNextTask, args)
	if err != nil {
		return nil, err
	}
	return decodeData[ClaimNextTaskResult](resp)
}

// CompleteTask completes a task.
func (c *Client) CompleteTask(args *CompleteTaskArgs) (*CompleteTaskResult, error) {
	resp, err := c.Execute(OpCompleteTask, args)
	if err != nil {
		return nil, err
	}
	return decodeData[CompleteTaskResult](resp)
}

// GetNextReviewableTask returns the oldest task in review.
func (c *Client) GetNextReviewableTask(args *GetNextReviewableTaskArgs) (*ObjectResult, error) {
	resp, err := c.Execute(OpGetNextReviewableTask, args)
	if err != nil {
		return nil, err
	}
	return decodeData[ObjectResult](resp)
}

// ListBacklog lists tasks filtered by scope, status and priority.
func (c *Client) ListBacklog(args *ListBacklogArgs) (*ListBacklogResult, error) {
	resp, err := c.Execute(OpListBacklog, args)
	if err != nil {
		return nil, err
	}
	return decodeData[ListBacklogResult](resp)
}

// GetCompletedObjects lists done descendants of an object.
func (c *Client) GetCompletedObjects(args *GetCompletedObjectsArgs) (*GetCompletedObjectsResult, error) {
	resp, err := c.Execute(OpGetCompletedObjects, args)
	if err != nil {
		return nil, err
	}
	return decodeData[GetCompletedObjectsResult](resp)
}
