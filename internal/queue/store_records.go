package queue

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Insert durably stores a new pending record and returns its assigned id.
func (s *Store) Insert(ctx context.Context, rec NewRecord) (int64, error) {
	if rec.FileName == "" {
		return 0, errors.New("insert record: file name is required")
	}
	optionsJSON, err := encodeOptions(rec.Options)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}
	timestamp := formatTime(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO pending_uploads (
            owner_id, file_name, mime_type, byte_size, payload,
            enqueued_at, status, retry_count, options_json, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		nullableOwner(rec.OwnerID),
		rec.FileName,
		rec.MimeType,
		int64(len(payload)),
		payload,
		timestamp,
		StatusPending,
		optionsJSON,
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Get fetches a record by id.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM pending_uploads WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %d: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// List returns every record ordered by id.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM pending_uploads ORDER BY id`)
}

// ListByStatus returns the records with the given status ordered by id.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Record, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.query(ctx, `SELECT `+recordColumns+` FROM pending_uploads WHERE status = ? ORDER BY id`, status)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update applies mutate to the current record and persists the result in one
// immediate transaction. Mutators for the same id never interleave. The id,
// payload, byte size and enqueue time cannot be changed.
func (s *Store) Update(ctx context.Context, id int64, mutate func(*Record) error) (*Record, error) {
	if mutate == nil {
		return nil, errors.New("update record: mutator is required")
	}
	ctx = ensureContext(ctx)
	unlock := s.locks.lock(id)
	defer unlock()

	var updated *Record
	err := retryOnBusy(ctx, func() error {
		var err error
		updated, err = s.updateOnce(ctx, id, mutate)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update record %d: %w", id, err)
	}
	return updated, nil
}

func (s *Store) updateOnce(ctx context.Context, id int64, mutate func(*Record) error) (*Record, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	current, err := scanRecord(conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM pending_uploads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	next := current.clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := checkMutation(current, next); err != nil {
		return nil, err
	}
	optionsJSON, err := encodeOptions(next.Options)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	if _, err := conn.ExecContext(ctx,
		`UPDATE pending_uploads
         SET owner_id = ?, file_name = ?, mime_type = ?, status = ?, retry_count = ?,
             options_json = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		nullableOwner(next.OwnerID),
		next.FileName,
		next.MimeType,
		next.Status,
		next.RetryCount,
		optionsJSON,
		nullableString(next.LastError),
		formatTime(next.UpdatedAt),
		id,
	); err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, err
	}
	committed = true
	return next, nil
}

func checkMutation(before, after *Record) error {
	switch {
	case after.ID != before.ID:
		return fmt.Errorf("%w: id", ErrImmutableField)
	case !bytes.Equal(after.Payload, before.Payload):
		return fmt.Errorf("%w: payload", ErrImmutableField)
	case after.ByteSize != before.ByteSize:
		return fmt.Errorf("%w: byte_size", ErrImmutableField)
	case !after.EnqueuedAt.Equal(before.EnqueuedAt):
		return fmt.Errorf("%w: enqueued_at", ErrImmutableField)
	case !after.Status.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidStatus, after.Status)
	case after.RetryCount < 0:
		return fmt.Errorf("retry count must be >= 0, got %d", after.RetryCount)
	}
	return nil
}

// Delete removes a record. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()
	if _, err := s.execWithRetry(ctx, `DELETE FROM pending_uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	return nil
}

// DeleteByStatus removes every record with the given status and reports how
// many were removed. Records with other statuses are untouched.
func (s *Store) DeleteByStatus(ctx context.Context, status Status) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM pending_uploads WHERE status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("delete %s records: %w", status, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}
