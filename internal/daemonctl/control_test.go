package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"moneymind/internal/daemonctl"
	"moneymind/internal/testsupport"
)

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_, err := daemonctl.StopAndTerminate(cfg.SocketPath(), cfg, 100*time.Millisecond)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(cfg.SocketPath())
	if alive || pid != 0 || err != nil {
		t.Fatalf("expected no daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
	if err := daemonctl.WaitForShutdown(cfg.SocketPath(), 100*time.Millisecond); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestBuildStatusSnapshotFallsBackToStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustInsert(t, store, "a.jpg", 100, nil)
	testsupport.MustInsert(t, store, "b.jpg", 50, nil)

	snapshot, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.Running {
		t.Fatal("expected offline snapshot")
	}
	if snapshot.Stats.Pending != 2 || snapshot.Stats.TotalSize != 150 {
		t.Fatalf("unexpected stats %+v (err=%s)", snapshot.Stats, snapshot.StatsError)
	}
}

func TestForceKillProcessRejectsSelf(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "moneymind.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
	if _, err := daemonctl.ForceKillProcess(filepath.Join(dir, "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without a pid")
	}
}
