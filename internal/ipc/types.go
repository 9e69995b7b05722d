package ipc

import (
	"time"

	"moneymind/internal/netmon"
	"moneymind/internal/queue"
	"moneymind/internal/upload"
)

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon, network and queue status.
type StatusResponse struct {
	Running        bool          `json:"running"`
	PID            int           `json:"pid"`
	StartedAt      time.Time     `json:"started_at"`
	Endpoint       string        `json:"endpoint"`
	LockPath       string        `json:"lock_path"`
	QueueDBPath    string        `json:"queue_db_path"`
	APIAddress     string        `json:"api_address"`
	Network        netmon.Status `json:"network"`
	Advice         upload.Advice `json:"advice"`
	Stats          queue.Stats   `json:"stats"`
	PendingRetries int           `json:"pending_retries"`
	StatsError     string        `json:"stats_error,omitempty"`
}

// QueueStatsRequest fetches queue aggregates.
type QueueStatsRequest struct{}

// QueueStatsResponse carries queue aggregates.
type QueueStatsResponse struct {
	queue.Stats
	PendingRetries int `json:"pending_retries"`
}

// QueueListRequest filters queue listing by status. An empty status lists all records.
type QueueListRequest struct {
	Status string `json:"status"`
}

// QueueListResponse contains queued records without their payloads.
type QueueListResponse struct {
	Items []queue.Record `json:"items"`
}

// QueueClearFailedRequest removes failed records.
type QueueClearFailedRequest struct{}

// QueueClearFailedResponse reports number of removed records.
type QueueClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// SyncRequest runs a retry sweep.
type SyncRequest struct{}

// SyncResponse reports what the sweep did.
type SyncResponse struct {
	Result upload.SweepResult `json:"result"`
}

// SubmitFile is one image carried over the socket.
type SubmitFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

// SubmitRequest uploads or queues images through the daemon.
type SubmitRequest struct {
	Files   []SubmitFile  `json:"files"`
	OwnerID string        `json:"owner_id,omitempty"`
	Options queue.Options `json:"options,omitempty"`
}

// SubmitResponse carries per-file outcomes in request order.
type SubmitResponse struct {
	Results []upload.Outcome `json:"results"`
}

// NetworkReportRequest feeds a connectivity observation to the daemon.
type NetworkReportRequest struct {
	Online        bool   `json:"online"`
	EffectiveType string `json:"effective_type,omitempty"`
}

// NetworkReportResponse returns the monitor state after the report.
type NetworkReportResponse struct {
	Network netmon.Status `json:"network"`
}

// DatabaseHealthRequest fetches database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse contains database diagnostic information.
type DatabaseHealthResponse struct {
	queue.DatabaseHealth
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test results.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
