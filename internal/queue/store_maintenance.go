package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// Stats aggregates record counts and payload sizes. It never writes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		stats     Stats
		pending   sql.NullInt64
		failed    sql.NullInt64
		totalSize sql.NullInt64
	)
	row := s.db.QueryRowContext(ensureContext(ctx), `
        SELECT COUNT(1),
               SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
               SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
               SUM(byte_size)
        FROM pending_uploads`)
	if err := row.Scan(&stats.Total, &pending, &failed, &totalSize); err != nil {
		return Stats{}, fmt.Errorf("upload stats: %w", err)
	}
	stats.Pending = int(pending.Int64)
	stats.Failed = int(failed.Int64)
	stats.TotalSize = totalSize.Int64
	return stats, nil
}

// CheckHealth returns diagnostic information about the uploads database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("uploads database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat uploads database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("uploads database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("uploads database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping uploads database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "PRAGMA user_version").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'pending_uploads'")
	switch err := row.Scan(&tableName); {
	case errors.Is(err, sql.ErrNoRows):
		return health, nil
	case err != nil:
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = true

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"
	if !health.IntegrityCheck {
		health.Error = integrity
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM pending_uploads").Scan(&health.TotalRecords); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count records: %w", err)
	}
	return health, nil
}
