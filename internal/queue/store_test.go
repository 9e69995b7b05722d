package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"moneymind/internal/queue"
	"moneymind/internal/testsupport"
)

func TestOpenIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	id := testsupport.MustInsert(t, store, "receipt.jpg", 128, nil)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	rec, err := reopened.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if rec.FileName != "receipt.jpg" || rec.Status != queue.StatusPending || rec.RetryCount != 0 {
		t.Fatalf("unexpected record after reopen: %+v", rec)
	}
	if reopened.Path() != filepath.Join(cfg.Paths.DataDir, queue.DatabaseFileName) {
		t.Fatalf("unexpected db path %q", reopened.Path())
	}
}

func TestOpenReportsStorageUnavailable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg := testsupport.NewConfig(t)
	cfg.Paths.DataDir = filepath.Join(blocker, "data")

	_, err := queue.Open(cfg)
	if !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	if _, err := queue.Open(nil); !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable for nil config, got %v", err)
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	owner := "supplier-7"
	payload := testsupport.PNG(2048)
	id, err := store.Insert(ctx, queue.NewRecord{
		OwnerID:  &owner,
		FileName: "invoice.png",
		MimeType: "image/png",
		Payload:  payload,
		Options:  queue.Options{"category": "fuel", "amount": 12.5},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Owner() != owner {
		t.Fatalf("expected owner %q, got %q", owner, rec.Owner())
	}
	if rec.ByteSize != int64(len(payload)) || !bytes.Equal(rec.Payload, payload) {
		t.Fatalf("payload not preserved: size=%d", rec.ByteSize)
	}
	if rec.Options["category"] != "fuel" || rec.Options["amount"] != json.Number("12.5") {
		t.Fatalf("options not preserved: %#v", rec.Options)
	}
	if rec.EnqueuedAt.IsZero() {
		t.Fatal("expected enqueued timestamp")
	}

	anonymous := testsupport.MustInsert(t, store, "cash.jpg", 64, nil)
	rec, err = store.Get(ctx, anonymous)
	if err != nil {
		t.Fatalf("Get anonymous: %v", err)
	}
	if rec.OwnerID != nil {
		t.Fatalf("expected nil owner, got %q", *rec.OwnerID)
	}
}

func TestOptionsKeepLargeIntegers(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	options, err := queue.ParseOptions(`{"ledger_id":9007199254740993}`)
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	id, err := store.Insert(ctx, queue.NewRecord{
		FileName: "ledger.png",
		MimeType: "image/png",
		Payload:  testsupport.PNG(128),
		Options:  options,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Options["ledger_id"] != json.Number("9007199254740993") {
		t.Fatalf("large integer not preserved: %#v", rec.Options["ledger_id"])
	}
	encoded, err := json.Marshal(rec.Options)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(encoded) != `{"ledger_id":9007199254740993}` {
		t.Fatalf("unexpected re-encoding %s", encoded)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := store.Get(context.Background(), 999); !errors.Is(err, queue.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.MustInsert(t, store, "a.jpg", 16, nil)
	if err := store.Delete(ctx, first); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	second := testsupport.MustInsert(t, store, "b.jpg", 16, nil)
	if second <= first {
		t.Fatalf("expected id after %d, got %d", first, second)
	}
}

func TestListByStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	pendingID := testsupport.MustInsert(t, store, "pending.jpg", 16, nil)
	failedID := testsupport.MustInsert(t, store, "failed.jpg", 16, nil)
	if _, err := store.Update(ctx, failedID, func(r *queue.Record) error {
		r.Status = queue.StatusFailed
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending, err := store.ListByStatus(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != pendingID {
		t.Fatalf("unexpected pending records: %+v", pending)
	}
	failed, err := store.ListByStatus(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != failedID {
		t.Fatalf("unexpected failed records: %+v", failed)
	}
	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if _, err := store.ListByStatus(ctx, queue.Status("succeeded")); !errors.Is(err, queue.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateMissingReturnsNotFound(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	called := false
	_, err := store.Update(context.Background(), 42, func(*queue.Record) error {
		called = true
		return nil
	})
	if !errors.Is(err, queue.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if called {
		t.Fatal("mutator should not run for a missing record")
	}
}

func TestUpdateRejectsImmutableFieldsAndBadStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	id := testsupport.MustInsert(t, store, "a.jpg", 32, nil)

	cases := []struct {
		name   string
		mutate func(*queue.Record)
		want   error
	}{
		{"payload", func(r *queue.Record) { r.Payload[0] ^= 0xff }, queue.ErrImmutableField},
		{"id", func(r *queue.Record) { r.ID++ }, queue.ErrImmutableField},
		{"enqueued", func(r *queue.Record) { r.EnqueuedAt = r.EnqueuedAt.Add(1) }, queue.ErrImmutableField},
		{"status", func(r *queue.Record) { r.Status = "succeeded" }, queue.ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Update(ctx, id, func(r *queue.Record) error {
				tc.mutate(r)
				return nil
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != queue.StatusPending || rec.RetryCount != 0 {
		t.Fatalf("rejected mutations must not persist: %+v", rec)
	}
}

func TestUpdateSerializesConcurrentMutators(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	id := testsupport.MustInsert(t, store, "race.jpg", 32, nil)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, id, func(r *queue.Record) error {
				r.RetryCount++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.RetryCount != workers {
		t.Fatalf("expected %d increments, got %d", workers, rec.RetryCount)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	keep := testsupport.MustInsert(t, store, "keep.jpg", 16, nil)
	drop := testsupport.MustInsert(t, store, "drop.jpg", 16, nil)

	if err := store.Delete(ctx, drop); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	once, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := store.Delete(ctx, drop); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	twice, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(once) != 1 || len(twice) != 1 || once[0].ID != keep || twice[0].ID != keep {
		t.Fatalf("double delete changed state: once=%v twice=%v", once, twice)
	}
}

func TestDeleteByStatusKeepsPending(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	pending := testsupport.MustInsert(t, store, "pending.jpg", 16, nil)
	for _, name := range []string{"f1.jpg", "f2.jpg"} {
		id := testsupport.MustInsert(t, store, name, 16, nil)
		if _, err := store.Update(ctx, id, func(r *queue.Record) error {
			r.Status = queue.StatusFailed
			return nil
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	removed, err := store.DeleteByStatus(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("DeleteByStatus: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, pending); err != nil {
		t.Fatalf("pending record should survive purge: %v", err)
	}
}

func TestStatsMatchRecords(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	empty, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if empty != (queue.Stats{}) {
		t.Fatalf("expected zero stats, got %+v", empty)
	}

	sizes := []int{100, 200, 300, 400}
	ids := make([]int64, 0, len(sizes))
	for _, size := range sizes {
		ids = append(ids, testsupport.MustInsert(t, store, "s.jpg", size, nil))
	}
	if _, err := store.Update(ctx, ids[1], func(r *queue.Record) error {
		r.Status = queue.StatusFailed
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Delete(ctx, ids[3]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var failed int
	var total int64
	for _, rec := range records {
		if rec.Status == queue.StatusFailed {
			failed++
		}
		total += rec.ByteSize
	}
	if stats.Total != len(records) || stats.Total != stats.Pending+failed || stats.Failed != failed {
		t.Fatalf("inconsistent counts: %+v (records=%d failed=%d)", stats, len(records), failed)
	}
	if stats.TotalSize != total || total != 600 {
		t.Fatalf("expected total size 600, got stats=%d sum=%d", stats.TotalSize, total)
	}
}

func TestCheckHealth(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.MustInsert(t, store, "a.jpg", 16, nil)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 1 || health.TotalRecords != 1 {
		t.Fatalf("unexpected health counts: %+v", health)
	}
}
