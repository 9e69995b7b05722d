package testsupport

import (
	"context"
	"testing"

	"moneymind/internal/config"
	"moneymind/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustInsert stores a pending JPEG record of the given size and returns its id.
func MustInsert(t testing.TB, store *queue.Store, name string, size int, owner *string) int64 {
	t.Helper()

	id, err := store.Insert(context.Background(), queue.NewRecord{
		OwnerID:  owner,
		FileName: name,
		MimeType: "image/jpeg",
		Payload:  JPEG(size),
	})
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return id
}

// StringPtr returns a pointer to value.
func StringPtr(value string) *string {
	return &value
}
