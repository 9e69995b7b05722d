package cachestore_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"reflect"
	"testing"

	"moneymind/internal/cachestore"
)

func openStorage(t *testing.T) (*cachestore.Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	storage, err := cachestore.Open(path, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage, path
}

func TestPutAndMatchSurviveReopen(t *testing.T) {
	ctx := context.Background()
	storage, path := openStorage(t)

	cache, err := storage.Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}
	header := http.Header{"Content-Type": []string{"text/css"}}
	if err := cache.Put(ctx, &cachestore.Entry{URL: "/static/app.css", Status: 200, Header: header, Body: []byte("body{}")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, ok, err := cache.Match(ctx, "/static/app.css")
	if err != nil || !ok {
		t.Fatalf("Match: ok=%v err=%v", ok, err)
	}
	entry.Body[0] = 'X'
	again, _, _ := cache.Match(ctx, "/static/app.css")
	if string(again.Body) != "body{}" {
		t.Fatal("Match must return copies")
	}
	storage.Close()

	reopened, err := cachestore.Open(path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	cache, err = reopened.Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}
	entry, ok, err = cache.Match(ctx, "/static/app.css")
	if err != nil || !ok {
		t.Fatalf("Match after reopen: ok=%v err=%v", ok, err)
	}
	if entry.Status != 200 || entry.Header.Get("Content-Type") != "text/css" || string(entry.Body) != "body{}" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestMatchMissing(t *testing.T) {
	storage, _ := openStorage(t)
	cache, _ := storage.Open(context.Background(), "v1")
	if _, ok, err := cache.Match(context.Background(), "/nope"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestLRUEvictionFallsBackToDatabase(t *testing.T) {
	ctx := context.Background()
	storage, _ := openStorage(t)
	cache, _ := storage.Open(ctx, "v1")
	for _, key := range []string{"/a", "/b", "/c", "/d", "/e", "/f"} {
		if err := cache.Put(ctx, &cachestore.Entry{URL: key, Status: 200, Body: []byte(key)}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	entry, ok, err := cache.Match(ctx, "/a")
	if err != nil || !ok || string(entry.Body) != "/a" {
		t.Fatalf("evicted entry must come from sqlite: ok=%v err=%v", ok, err)
	}
	keys, err := cache.Keys(ctx)
	if err != nil || len(keys) != 6 {
		t.Fatalf("expected 6 keys, got %v err=%v", keys, err)
	}
}

func TestKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	storage, _ := openStorage(t)
	for _, name := range []string{"v2", "v1"} {
		cache, err := storage.Open(ctx, name)
		if err != nil {
			t.Fatalf("Open %s: %v", name, err)
		}
		if err := cache.Put(ctx, &cachestore.Entry{URL: "/", Status: 200}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	names, err := storage.Keys(ctx)
	if err != nil || !reflect.DeepEqual(names, []string{"v1", "v2"}) {
		t.Fatalf("unexpected names %v err=%v", names, err)
	}

	removed, err := storage.Delete(ctx, "v1")
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	removed, err = storage.Delete(ctx, "v1")
	if err != nil || removed {
		t.Fatalf("second Delete should be a no-op: removed=%v err=%v", removed, err)
	}
	if has, _ := storage.Has(ctx, "v1"); has {
		t.Fatal("deleted cache still reported")
	}
	fresh, _ := storage.Open(ctx, "v1")
	if _, ok, _ := fresh.Match(ctx, "/"); ok {
		t.Fatal("entries of a deleted cache must be gone")
	}
}

func TestDeleteInvalidatesOpenHandles(t *testing.T) {
	ctx := context.Background()
	storage, _ := openStorage(t)
	stale, err := storage.Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := stale.Put(ctx, &cachestore.Entry{URL: "/", Status: 200, Body: []byte("shell")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := stale.Match(ctx, "/"); !ok {
		t.Fatal("expected entry before delete")
	}

	if _, err := storage.Delete(ctx, "v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entry, ok, err := stale.Match(ctx, "/")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if ok {
		t.Fatalf("handle opened before delete still serves %q", entry.Body)
	}
}

func TestPutAllOnDeletedCacheFails(t *testing.T) {
	ctx := context.Background()
	storage, _ := openStorage(t)
	cache, _ := storage.Open(ctx, "old")
	if _, err := storage.Delete(ctx, "old"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	err := cache.PutAll(ctx, []*cachestore.Entry{{URL: "/", Status: 200}})
	if !errors.Is(err, cachestore.ErrCacheNotFound) {
		t.Fatalf("expected ErrCacheNotFound, got %v", err)
	}
}

func TestCacheDeleteEntry(t *testing.T) {
	ctx := context.Background()
	storage, _ := openStorage(t)
	cache, _ := storage.Open(ctx, "v1")
	_ = cache.Put(ctx, &cachestore.Entry{URL: "/x", Status: 200})
	if err := cache.Delete(ctx, "/x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := cache.Delete(ctx, "/x"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, ok, _ := cache.Match(ctx, "/x"); ok {
		t.Fatal("entry still present")
	}
}
