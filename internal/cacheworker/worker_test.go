package cacheworker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"moneymind/internal/cachestore"
	"moneymind/internal/cacheworker"
	"moneymind/internal/config"
	"moneymind/internal/testsupport"
)

type fakeOrigin struct {
	server  *httptest.Server
	mu      sync.Mutex
	hits    map[string]int
	missing map[string]bool
	down    atomic.Bool
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{hits: make(map[string]int), missing: make(map[string]bool)}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.RequestURI()]++
		missing := o.missing[r.URL.Path]
		o.mu.Unlock()
		switch {
		case missing:
			http.NotFound(w, r)
		case r.URL.Path == "/api/echo":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write(body)
		case r.URL.Path == "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>home</html>")
		default:
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "asset "+r.URL.Path)
		}
	}))
	t.Cleanup(o.server.Close)
	return o
}

func (o *fakeOrigin) hitCount(uri string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[uri]
}

func (o *fakeOrigin) totalHits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.hits {
		total += n
	}
	return total
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown []cacheworker.Notification
	err   error
}

func (n *recordingNotifier) ShowNotification(_ context.Context, note cacheworker.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, note)
	return n.err
}

func newWorker(t *testing.T, origin *fakeOrigin, mutate func(*config.Config), opts ...cacheworker.Option) (*cacheworker.Worker, *cachestore.Storage) {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithOrigin(origin.server.URL),
		testsupport.WithManifest("/", "/static/app.css", "/static/logo.png"),
	)
	if mutate != nil {
		mutate(cfg)
	}
	storage, err := cachestore.Open(filepath.Join(cfg.Paths.DataDir, "cache.db"), 16)
	if err != nil {
		t.Fatalf("cachestore.Open: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	worker, err := cacheworker.New(cfg, storage, opts...)
	if err != nil {
		t.Fatalf("cacheworker.New: %v", err)
	}
	return worker, storage
}

func get(t *testing.T, handler http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestInstallPrecachesAndActivates(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, storage := newWorker(t, origin, nil)

	if worker.State() != cacheworker.StateParsed {
		t.Fatalf("unexpected initial state %s", worker.State())
	}
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if worker.State() != cacheworker.StateActivated {
		t.Fatalf("skip-waiting should activate, got %s", worker.State())
	}
	cache, err := storage.Open(context.Background(), worker.Version())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	keys, err := cache.Keys(context.Background())
	if err != nil || len(keys) != 3 {
		t.Fatalf("expected 3 precached entries, got %v err=%v", keys, err)
	}
}

func TestInstallFailureLeavesWorkerRedundant(t *testing.T) {
	origin := newFakeOrigin(t)
	origin.missing["/static/logo.png"] = true
	worker, storage := newWorker(t, origin, nil)

	err := worker.Install(context.Background())
	if !errors.Is(err, cacheworker.ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if worker.State() != cacheworker.StateRedundant {
		t.Fatalf("expected redundant, got %s", worker.State())
	}
	names, _ := storage.Keys(context.Background())
	if len(names) != 0 {
		t.Fatalf("failed install must not leave a cache behind, got %v", names)
	}
	if err := worker.Activate(context.Background()); err == nil {
		t.Fatal("redundant worker must not activate")
	}
}

func TestActivateDeletesOtherVersions(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, storage := newWorker(t, origin, nil)
	ctx := context.Background()
	for _, name := range []string{"moneymind-v0.9.0", "other"} {
		cache, err := storage.Open(ctx, name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		_ = cache.Put(ctx, &cachestore.Entry{URL: "/", Status: 200})
	}

	if err := worker.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	names, err := storage.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(names) != 1 || names[0] != worker.Version() {
		t.Fatalf("expected only %s, got %v", worker.Version(), names)
	}
}

func TestWaitingWorkerActivatesOnSkipWaiting(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, func(cfg *config.Config) { cfg.Worker.SkipWaiting = false })
	ctx := context.Background()

	if err := worker.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if worker.State() != cacheworker.StateInstalled {
		t.Fatalf("expected waiting worker, got %s", worker.State())
	}
	rec := get(t, worker, "/static/app.css", nil)
	if rec.Header().Get("X-Moneymind-Cache") != "" {
		t.Fatal("waiting worker must not answer from cache")
	}

	if err := worker.PostMessage(ctx, cacheworker.Message{Type: cacheworker.MessageSkipWaiting}, nil); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if worker.State() != cacheworker.StateActivated {
		t.Fatalf("expected activated, got %s", worker.State())
	}
}

func TestCachedManifestAssetSkipsNetwork(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	before := origin.totalHits()

	rec := get(t, worker, "/static/app.css", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "asset /static/app.css" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Moneymind-Cache") != "hit" {
		t.Fatalf("expected cache hit header, got %q", rec.Header().Get("X-Moneymind-Cache"))
	}
	if origin.totalHits() != before {
		t.Fatal("cached asset must not reach the origin")
	}
}

func TestSameOriginResponseIsCached(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	first := get(t, worker, "/reports/monthly?year=2024", nil)
	if first.Code != http.StatusOK || first.Header().Get("X-Moneymind-Cache") != "miss" {
		t.Fatalf("expected network miss, got %d %q", first.Code, first.Header().Get("X-Moneymind-Cache"))
	}
	second := get(t, worker, "/reports/monthly?year=2024", nil)
	if second.Header().Get("X-Moneymind-Cache") != "hit" || second.Body.String() != first.Body.String() {
		t.Fatal("second request should be served from cache")
	}
	if n := origin.hitCount("/reports/monthly?year=2024"); n != 1 {
		t.Fatalf("expected a single origin request, got %d", n)
	}
}

func TestNonSuccessResponsesAreNotCached(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	origin.mu.Lock()
	origin.missing["/gone"] = true
	origin.mu.Unlock()

	for i := 0; i < 2; i++ {
		if rec := get(t, worker, "/gone", nil); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 passthrough, got %d", rec.Code)
		}
	}
	if n := origin.hitCount("/gone"); n != 2 {
		t.Fatalf("404 must not be cached, origin saw %d requests", n)
	}
}

func TestNavigationFallsBackToCachedRoot(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	origin.server.Close()

	rec := get(t, worker, "/expenses/new", map[string]string{"Sec-Fetch-Mode": "navigate"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "home") {
		t.Fatalf("expected cached root document, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Moneymind-Cache") != "fallback" {
		t.Fatal("expected fallback marker")
	}

	asset := get(t, worker, "/static/missing.js", nil)
	if asset.Code != http.StatusBadGateway {
		t.Fatalf("non-navigation failure should be 502, got %d", asset.Code)
	}
}

func TestNonGetRequestsAreProxied(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader("ping"))
	rec := httptest.NewRecorder()
	worker.ServeHTTP(rec, req)
	if rec.Body.String() != "ping" {
		t.Fatalf("expected proxied body, got %q", rec.Body.String())
	}
	req = httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader("pong"))
	rec = httptest.NewRecorder()
	worker.ServeHTTP(rec, req)
	if rec.Body.String() != "pong" {
		t.Fatal("POST responses must never be served from cache")
	}
}

func TestPushBuildsNotification(t *testing.T) {
	origin := newFakeOrigin(t)
	notifier := &recordingNotifier{}
	worker, _ := newWorker(t, origin, nil, cacheworker.WithNotifier(notifier))

	n, err := worker.Push(context.Background(), []byte(`{"title":"Budget","body":"Food limit reached"}`))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n.Title != "Budget" || n.Body != "Food limit reached" || n.Icon != "/static/logo.png" || n.Badge != "/static/logo.png" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if len(n.Vibrate) != 3 || n.Data.PrimaryKey != 1 || n.Data.DateOfArrival == 0 {
		t.Fatalf("unexpected notification extras %+v", n)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != "explore" || n.Actions[1].Action != "close" {
		t.Fatalf("unexpected actions %+v", n.Actions)
	}
	if len(notifier.shown) != 1 {
		t.Fatal("notifier not called")
	}

	if n, err := worker.Push(context.Background(), nil); n != nil || err != nil {
		t.Fatal("empty push must be ignored")
	}
	if _, err := worker.Push(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNotificationClick(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)

	if res := worker.NotificationClick("close"); res.Open != "" || !res.Close {
		t.Fatalf("close should only dismiss, got %+v", res)
	}
	for _, action := range []string{"explore", ""} {
		res := worker.NotificationClick(action)
		if res.Open != origin.server.URL+"/" || !res.Close {
			t.Fatalf("%q should open root, got %+v", action, res)
		}
	}
}

func TestSyncInvokesHookOnlyForBackgroundSync(t *testing.T) {
	origin := newFakeOrigin(t)
	var calls atomic.Int32
	hook := func(context.Context) error {
		calls.Add(1)
		return nil
	}
	worker, _ := newWorker(t, origin, nil, cacheworker.WithSyncHook(hook))

	if handled, err := worker.Sync(context.Background(), "other"); handled || err != nil {
		t.Fatal("unknown tag must be ignored")
	}
	if handled, err := worker.Sync(context.Background(), cacheworker.SyncTag); !handled || err != nil {
		t.Fatalf("background-sync not handled: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one hook call, got %d", calls.Load())
	}
}

func TestHTTPSyncHookPostsToTarget(t *testing.T) {
	var method atomic.Value
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer target.Close()

	hook := cacheworker.NewHTTPSyncHook(target.URL+"/api/uploads/sync", target.Client())
	if err := hook(context.Background()); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if method.Load() != http.MethodPost {
		t.Fatalf("expected POST, got %v", method.Load())
	}
}

func TestPostMessageGetVersion(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil)

	reply := make(chan cacheworker.Reply, 1)
	if err := worker.PostMessage(context.Background(), cacheworker.Message{Type: cacheworker.MessageGetVersion}, reply); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if got := <-reply; got.Version != "moneymind-v1.0.0" {
		t.Fatalf("unexpected version %q", got.Version)
	}
	if err := worker.PostMessage(context.Background(), cacheworker.Message{Type: cacheworker.MessageGetVersion}, nil); err == nil {
		t.Fatal("GET_VERSION without reply channel should fail")
	}
}

func TestControlEndpoints(t *testing.T) {
	origin := newFakeOrigin(t)
	worker, _ := newWorker(t, origin, nil, cacheworker.WithNotifier(&recordingNotifier{}))
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	server := httptest.NewServer(worker.Handler())
	defer server.Close()

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(server.URL+path, "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	resp := post("/__worker/message", `{"type":"GET_VERSION"}`)
	var reply cacheworker.Reply
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	resp.Body.Close()
	if reply.Version != worker.Version() {
		t.Fatalf("unexpected version reply %+v", reply)
	}

	resp = post("/__worker/push", `{"title":"t","body":"b"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push returned %d", resp.StatusCode)
	}

	resp = post("/__worker/notificationclick", `{"action":"close"}`)
	var click cacheworker.ClickResult
	_ = json.NewDecoder(resp.Body).Decode(&click)
	resp.Body.Close()
	if click.Open != "" || !click.Close {
		t.Fatalf("unexpected click result %+v", click)
	}

	resp = post("/__worker/sync", `{"tag":"background-sync"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync returned %d", resp.StatusCode)
	}

	statusResp, err := http.Get(server.URL + "/__worker/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status cacheworker.Status
	_ = json.NewDecoder(statusResp.Body).Decode(&status)
	statusResp.Body.Close()
	if status.State != cacheworker.StateActivated || status.Entries != 3 {
		t.Fatalf("unexpected status %+v", status)
	}

	assetResp, err := http.Get(server.URL + "/static/logo.png")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	assetResp.Body.Close()
	if assetResp.Header.Get("X-Moneymind-Cache") != "hit" {
		t.Fatal("fetch through the control handler should hit the cache")
	}
}
