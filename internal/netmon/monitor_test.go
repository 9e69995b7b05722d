package netmon_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"moneymind/internal/netmon"
)

func TestClassify(t *testing.T) {
	cases := map[string]netmon.Quality{
		"slow-2g":   netmon.QualityPoor,
		"2g":        netmon.QualityPoor,
		"3g":        netmon.QualityGood,
		"4g":        netmon.QualityExcellent,
		"5G":        netmon.QualityExcellent,
		"ethernet":  netmon.QualityExcellent,
		"":          netmon.QualityUnknown,
		"bluetooth": netmon.QualityUnknown,
	}
	for input, want := range cases {
		if got := netmon.Classify(input); got != want {
			t.Errorf("Classify(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMonitorWithoutLinkInfoIsUnknown(t *testing.T) {
	m := netmon.NewMonitor(true, nil)
	if !m.IsOnline() {
		t.Fatal("expected initial online state")
	}
	if q := m.QualityClass(); q != netmon.QualityUnknown {
		t.Fatalf("expected unknown quality without link info, got %q", q)
	}
}

func TestRestoredFiresOncePerTransition(t *testing.T) {
	m := netmon.NewMonitor(false, nil)
	var restored, lost atomic.Int32
	unsubscribe := m.Subscribe(func(ev netmon.Event) {
		switch ev.Kind {
		case netmon.ConnectivityRestored:
			restored.Add(1)
		case netmon.ConnectivityLost:
			lost.Add(1)
		}
	})
	defer unsubscribe()

	m.Report(netmon.Signal{Online: true, EffectiveType: "4g"})
	m.Report(netmon.Signal{Online: true, EffectiveType: "2g"})
	m.Report(netmon.Signal{Online: true, EffectiveType: "3g"})
	if restored.Load() != 1 {
		t.Fatalf("expected exactly one restored event, got %d", restored.Load())
	}
	if m.QualityClass() != netmon.QualityGood {
		t.Fatalf("expected good quality, got %q", m.QualityClass())
	}

	m.Report(netmon.Signal{Online: false})
	m.Report(netmon.Signal{Online: false})
	m.Report(netmon.Signal{Online: true, EffectiveType: "4g"})
	if restored.Load() != 2 || lost.Load() != 1 {
		t.Fatalf("expected 2 restored and 1 lost, got %d and %d", restored.Load(), lost.Load())
	}
}

func TestConcurrentReportsEmitOneRestored(t *testing.T) {
	m := netmon.NewMonitor(false, nil)
	var restored atomic.Int32
	m.Subscribe(func(ev netmon.Event) {
		if ev.Kind == netmon.ConnectivityRestored {
			restored.Add(1)
		}
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Report(netmon.Signal{Online: true, EffectiveType: "4g"})
		}()
	}
	wg.Wait()
	if restored.Load() != 1 {
		t.Fatalf("expected one restored event, got %d", restored.Load())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := netmon.NewMonitor(true, nil)
	var calls atomic.Int32
	unsubscribe := m.Subscribe(func(netmon.Event) { calls.Add(1) })
	m.Report(netmon.Signal{Online: false})
	unsubscribe()
	unsubscribe()
	m.Report(netmon.Signal{Online: true})
	if calls.Load() != 1 {
		t.Fatalf("expected one delivery before unsubscribe, got %d", calls.Load())
	}
}

func TestSubscriberMayCallBackIntoMonitor(t *testing.T) {
	m := netmon.NewMonitor(false, nil)
	var seenOnline atomic.Bool
	m.Subscribe(func(netmon.Event) {
		seenOnline.Store(m.IsOnline())
	})
	m.Report(netmon.Signal{Online: true})
	if !seenOnline.Load() {
		t.Fatal("subscriber should observe the new state without deadlocking")
	}
}
