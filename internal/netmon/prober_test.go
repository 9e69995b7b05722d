package netmon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"moneymind/internal/config"
	"moneymind/internal/netmon"
)

func TestEstimateEffectiveType(t *testing.T) {
	cases := []struct {
		rtt  time.Duration
		want string
	}{
		{50 * time.Millisecond, "4g"},
		{270 * time.Millisecond, "3g"},
		{1399 * time.Millisecond, "3g"},
		{1400 * time.Millisecond, "2g"},
		{2500 * time.Millisecond, "slow-2g"},
	}
	for _, tc := range cases {
		if got := netmon.EstimateEffectiveType(tc.rtt); got != tc.want {
			t.Errorf("EstimateEffectiveType(%s) = %q, want %q", tc.rtt, got, tc.want)
		}
	}
}

func probeConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Network.ProbeURL = url
	cfg.Network.ProbeTimeout = 2
	cfg.Network.ProbeInterval = 60
	return &cfg
}

func TestProbeReportsOnlineWithOverride(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := probeConfig(srv.URL)
	cfg.Network.EffectiveType = "3g"
	prober := netmon.NewProber(cfg, netmon.NewMonitor(false, nil), nil)

	sig := prober.Probe(context.Background())
	if !sig.Online {
		t.Fatal("any HTTP response should count as online")
	}
	if sig.EffectiveType != "3g" {
		t.Fatalf("expected override effective type, got %q", sig.EffectiveType)
	}
	if method != http.MethodHead {
		t.Fatalf("expected HEAD probe, got %s", method)
	}
}

func TestProbeReportsOfflineOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	prober := netmon.NewProber(probeConfig(url), netmon.NewMonitor(true, nil), nil)
	if sig := prober.Probe(context.Background()); sig.Online {
		t.Fatal("expected offline signal for unreachable probe URL")
	}
}

func TestProberRunReportsAndTriggers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	monitor := netmon.NewMonitor(false, nil)
	restored := make(chan netmon.Event, 4)
	monitor.Subscribe(func(ev netmon.Event) { restored <- ev })

	prober := netmon.NewProber(probeConfig(srv.URL), monitor, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go prober.Run(ctx)

	select {
	case ev := <-restored:
		if ev.Kind != netmon.ConnectivityRestored {
			t.Fatalf("expected restored event, got %s", ev.Kind)
		}
		if ev.Quality != netmon.QualityExcellent {
			t.Fatalf("expected excellent quality for a local probe, got %s", ev.Quality)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial probe")
	}
	prober.Trigger()
	prober.Trigger()
}

func TestNewProberDisabledWithoutURL(t *testing.T) {
	cfg := config.Default()
	cfg.Network.ProbeURL = ""
	if p := netmon.NewProber(&cfg, netmon.NewMonitor(true, nil), nil); p != nil {
		t.Fatal("expected nil prober when probe_url is empty")
	}
	var p *netmon.Prober
	p.Trigger()
	p.Run(context.Background())
}
