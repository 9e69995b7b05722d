// Package queue persists pending image uploads in SQLite.
//
// The Store owns the uploads database under paths.data_dir: connection setup,
// schema initialization, busy retries, and the record operations the upload
// coordinator drives (insert, list by status, per-record read-modify-write,
// idempotent delete, bulk purge of failed records, and aggregate stats).
//
// A record only ever holds status pending or failed. Successful uploads delete
// their record, and failed records stay until an explicit purge. Record IDs come
// from an AUTOINCREMENT key, so they are never reused for the lifetime of the
// database file.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
