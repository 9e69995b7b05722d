package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// QueueStats returns queue aggregates.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	return call[QueueStatsResponse](c, "QueueStats", QueueStatsRequest{})
}

// QueueList returns queued records, optionally filtered by status.
func (c *Client) QueueList(status string) (*QueueListResponse, error) {
	return call[QueueListResponse](c, "QueueList", QueueListRequest{Status: status})
}

// QueueClearFailed removes failed records.
func (c *Client) QueueClearFailed() (*QueueClearFailedResponse, error) {
	return call[QueueClearFailedResponse](c, "QueueClearFailed", QueueClearFailedRequest{})
}

// Sync runs a retry sweep now.
func (c *Client) Sync() (*SyncResponse, error) {
	return call[SyncResponse](c, "Sync", SyncRequest{})
}

// Submit uploads or queues images through the daemon.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	return call[SubmitResponse](c, "Submit", req)
}

// ReportNetwork feeds a connectivity observation to the daemon.
func (c *Client) ReportNetwork(online bool, effectiveType string) (*NetworkReportResponse, error) {
	req := NetworkReportRequest{Online: online, EffectiveType: effectiveType}
	return call[NetworkReportResponse](c, "ReportNetwork", req)
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	return call[DatabaseHealthResponse](c, "DatabaseHealth", DatabaseHealthRequest{})
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
