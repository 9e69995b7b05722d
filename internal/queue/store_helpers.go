package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const recordColumns = "id, owner_id, file_name, mime_type, byte_size, payload, enqueued_at, status, retry_count, options_json, last_error, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id          int64
		ownerID     sql.NullString
		fileName    string
		mimeType    string
		byteSize    int64
		payload     []byte
		enqueuedRaw string
		statusStr   string
		retryCount  int
		optionsRaw  sql.NullString
		lastError   sql.NullString
		updatedRaw  string
	)
	if err := scanner.Scan(
		&id,
		&ownerID,
		&fileName,
		&mimeType,
		&byteSize,
		&payload,
		&enqueuedRaw,
		&statusStr,
		&retryCount,
		&optionsRaw,
		&lastError,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:         id,
		FileName:   fileName,
		MimeType:   mimeType,
		ByteSize:   byteSize,
		Payload:    payload,
		Status:     Status(statusStr),
		RetryCount: retryCount,
		LastError:  lastError.String,
	}
	if ownerID.Valid {
		owner := ownerID.String
		rec.OwnerID = &owner
	}
	if optionsRaw.Valid && optionsRaw.String != "" {
		if err := json.Unmarshal([]byte(optionsRaw.String), &rec.Options); err != nil {
			return nil, fmt.Errorf("decode options for record %d: %w", id, err)
		}
	}
	if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
		rec.EnqueuedAt = enqueued
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func encodeOptions(options Options) (any, error) {
	if len(options) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableOwner(owner *string) any {
	if owner == nil {
		return nil
	}
	return *owner
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// keyedMutex serializes work per record id within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyedLock)}
}

func (k *keyedMutex) lock(id int64) func() {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &keyedLock{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
