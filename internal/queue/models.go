package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Status represents the lifecycle of a pending upload record.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Valid reports whether the status may be stored.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusFailed
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

// Options is caller metadata forwarded unchanged to the remote endpoint.
// The store never interprets it.
type Options map[string]any

// Clone returns a shallow copy so mutators cannot alias the stored map.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	return maps.Clone(o)
}

// UnmarshalJSON keeps numbers as json.Number so integers above 2^53
// reach the remote endpoint with the digits the caller sent.
func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return err
	}
	*o = decoded
	return nil
}

// ParseOptions decodes a JSON object literal into Options.
func ParseOptions(raw string) (Options, error) {
	var options Options
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, err
	}
	return options, nil
}

// Record is one queued image.
type Record struct {
	ID         int64     `json:"id"`
	OwnerID    *string   `json:"owner_id,omitempty"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	ByteSize   int64     `json:"byte_size"`
	Payload    []byte    `json:"-"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Options    Options   `json:"options,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Owner returns the owner id or "" when the record has none.
func (r *Record) Owner() string {
	if r == nil || r.OwnerID == nil {
		return ""
	}
	return *r.OwnerID
}

func (r *Record) clone() *Record {
	cp := *r
	if r.OwnerID != nil {
		owner := *r.OwnerID
		cp.OwnerID = &owner
	}
	cp.Payload = bytes.Clone(r.Payload)
	cp.Options = r.Options.Clone()
	return &cp
}

// NewRecord describes a record before the store assigns its id.
type NewRecord struct {
	OwnerID  *string
	FileName string
	MimeType string
	Payload  []byte
	Options  Options
}

// Stats aggregates the records currently held by the store.
type Stats struct {
	Total     int   `json:"total"`
	Pending   int   `json:"pending"`
	Failed    int   `json:"failed"`
	TotalSize int64 `json:"total_size"`
}

// DatabaseHealth captures diagnostic information about the uploads database.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	SchemaVersion    int    `json:"schema_version"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalRecords     int    `json:"total_records"`
	Error            string `json:"error,omitempty"`
}
