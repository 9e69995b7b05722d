package upload

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"moneymind/internal/config"
)

func TestRetrySchedulerOneTimerPerID(t *testing.T) {
	s := newRetryScheduler()
	defer s.Close()

	var fired atomic.Int32
	if !s.Schedule(1, time.Hour, func() { fired.Add(1) }) {
		t.Fatal("first schedule should arm")
	}
	if s.Schedule(1, time.Millisecond, func() { fired.Add(1) }) {
		t.Fatal("second schedule for the same id must be refused")
	}
	if !s.Armed(1) || s.Len() != 1 {
		t.Fatal("expected one armed timer")
	}
	if s.begin(1) {
		t.Fatal("begin must fail while a timer is armed")
	}
	s.Cancel(1)
	if s.Armed(1) {
		t.Fatal("cancel should disarm")
	}
	if !s.begin(1) {
		t.Fatal("begin should succeed after cancel")
	}
	if s.begin(1) {
		t.Fatal("begin must fail while busy")
	}
	s.end(1)
	if fired.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestRetrySchedulerFiresAndMarksBusy(t *testing.T) {
	s := newRetryScheduler()
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	s.Schedule(7, time.Millisecond, func() {
		close(started)
		<-release
	})
	<-started
	if s.Armed(7) {
		t.Fatal("fired timer should no longer be armed")
	}
	if s.begin(7) {
		t.Fatal("running callback must keep the id busy")
	}
	close(release)
	deadline := time.Now().Add(time.Second)
	for !s.begin(7) {
		if time.Now().After(deadline) {
			t.Fatal("id stayed busy after callback returned")
		}
		time.Sleep(time.Millisecond)
	}
	s.end(7)
}

func TestRetrySchedulerCloseDisarms(t *testing.T) {
	s := newRetryScheduler()
	var fired atomic.Int32
	s.Schedule(1, 5*time.Millisecond, func() { fired.Add(1) })
	s.Schedule(2, 5*time.Millisecond, func() { fired.Add(1) })
	s.Close()
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("timers fired after close: %d", fired.Load())
	}
	if s.Schedule(3, time.Millisecond, func() {}) {
		t.Fatal("closed scheduler must refuse new timers")
	}
}

func TestValidatorNormalizesAndDetects(t *testing.T) {
	cfg := config.Default()
	v := newValidator(&cfg)

	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)
	file, err := v.validate(File{Name: "C:\\Users\\me\\Cafe\u0301.jpg", Data: jpeg})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if file.MimeType != "image/jpeg" {
		t.Fatalf("expected detected image/jpeg, got %q", file.MimeType)
	}
	if file.Name != "Caf\u00e9.jpg" {
		t.Fatalf("expected NFC base name, got %q", file.Name)
	}

	if _, err := v.validate(File{Name: "x.bmp", MimeType: "image/bmp", Data: jpeg}); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	big := make([]byte, cfg.Upload.MaxFileBytes+1)
	if _, err := v.validate(File{Name: "big.jpg", MimeType: "image/jpeg", Data: big}); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected size rejection, got %v", err)
	}
	if _, err := v.validate(File{Name: "ok.png", MimeType: "IMAGE/PNG; charset=binary", Data: jpeg}); err != nil {
		t.Fatalf("declared type with params should pass: %v", err)
	}
}

func TestDecodeResult(t *testing.T) {
	if got := string(decodeResult([]byte(` {"id": 4} `))); got != `{"id": 4}` {
		t.Fatalf("unexpected JSON result %q", got)
	}
	if got := string(decodeResult([]byte("OK"))); got != `"OK"` {
		t.Fatalf("unexpected text result %q", got)
	}
	if got := string(decodeResult(nil)); got != "null" {
		t.Fatalf("unexpected empty result %q", got)
	}
}

func TestUploadURLEscapesOwner(t *testing.T) {
	c := newClient("http://example.test/", nil, time.Second)
	if got := c.uploadURL("a b/c"); got != "http://example.test/api/supplier/a%20b%2Fc/images" {
		t.Fatalf("unexpected url %q", got)
	}
}
