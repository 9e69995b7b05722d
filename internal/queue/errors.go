package queue

import "errors"

var (
	// ErrStorageUnavailable reports that persistent storage cannot be used at all.
	// Nothing can be queued while it persists.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRecordNotFound reports that no record exists for the requested id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrImmutableField reports that an Update mutator touched the id, payload,
	// or enqueue time of a record.
	ErrImmutableField = errors.New("record field is immutable")

	// ErrInvalidStatus reports a status outside pending and failed.
	ErrInvalidStatus = errors.New("invalid record status")
)
