package daemon_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"moneymind/internal/cacheworker"
	"moneymind/internal/daemon"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
	"moneymind/internal/testsupport"
)

func TestWorkerProcessServesPrecachedRoot(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>"+r.URL.Path+"</html>")
	}))
	t.Cleanup(origin.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithOrigin(origin.URL),
		testsupport.WithManifest("/", "/static/logo.png"),
	)
	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	proc, err := daemon.NewWorkerProcess(cfg, logging.NewNop(), m, nil)
	if err != nil {
		t.Fatalf("NewWorkerProcess: %v", err)
	}
	t.Cleanup(func() { _ = proc.Close() })

	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if proc.Worker().State() != cacheworker.StateActivated {
		t.Fatalf("expected activated worker, got %s", proc.Worker().State())
	}
	if err := proc.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	installHits := hits.Load()
	resp, err := http.Get("http://" + proc.Address() + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "<html>/</html>" {
		t.Fatalf("unexpected body %q", body)
	}
	if resp.Header.Get("X-Moneymind-Cache") != "hit" {
		t.Fatalf("expected cache hit, got %q", resp.Header.Get("X-Moneymind-Cache"))
	}
	if hits.Load() != installHits {
		t.Fatal("cached root must not reach the origin")
	}

	resp, err = http.Get("http://" + proc.Address() + cacheworker.ControlPrefix + "metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `moneymind_worker_fetch_total{result="hit"} 1`) {
		t.Fatalf("expected hit counter in metrics:\n%s", body)
	}

	proc.Stop()
	if _, err := http.Get("http://" + proc.Address() + "/"); err == nil {
		t.Fatal("expected server to be closed after Stop")
	}
}
