package adminapi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/audit"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/manager"
	"github.com/fprintd-go/fprintd/policy"
	"github.com/fprintd-go/fprintd/store"
	"github.com/fprintd-go/fprintd/suspend"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	st := store.NewFileStore(store.Config{Path: t.TempDir()})
	if err := st.Init(); err != nil {
		t.Fatalf("store init: %v", err)
	}
	gate := policy.NewGate(policy.NewLocalBackend())
	sc := suspend.New(&suspend.CountingInhibitor{})
	return manager.New(manager.DefaultConfig(), gate, st, sc)
}

func simDevice(id string) *capability.Simulated {
	dev := fprintd.Device{ID: id, Driver: "sim", Name: "Reader " + id, ScanType: fprintd.ScanTypePress, NumEnrollStages: 2}
	return capability.NewSimulated(capability.SimulatedConfig{Device: dev})
}

func startTestServer(t *testing.T, mgr *manager.Manager) (*Server, *Client) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	srv, err := Listen(sockPath, mgr, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, NewClient(sockPath)
}

func TestSnapshotReportsRegisteredDevices(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Register(simDevice("a"))
	_, client := startTestServer(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(snap.Devices))
	}
	d := snap.Devices[0]
	if d.ID != "a" || d.Driver != "sim" {
		t.Fatalf("unexpected device row: %+v", d)
	}
	if d.Claimed {
		t.Fatal("expected unclaimed device to report Claimed == false")
	}
}

func TestSnapshotReflectsClaimOwner(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Register(simDevice("a"))
	if err := sess.Claim(context.Background(), "caller-1", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, client := startTestServer(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Devices[0].Claimed || snap.Devices[0].ClaimOwner != "caller-1" {
		t.Fatalf("expected claim owner caller-1, got %+v", snap.Devices[0])
	}
}

func TestHistoryWithoutJournalReturnsError(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Register(simDevice("a"))
	_, client := startTestServer(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.History(ctx, "", 10); err == nil {
		t.Fatal("expected an error when no audit journal is configured")
	}
}

func TestHistoryFiltersByDevice(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Register(simDevice("a"))

	j, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := j.Append(audit.Record{RunID: "r1", DeviceID: "a", Kind: "enroll", StartedAt: now, EndedAt: now, Outcome: "completed"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(audit.Record{RunID: "r2", DeviceID: "b", Kind: "verify", StartedAt: now, EndedAt: now, Outcome: "completed"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	srv, err := Listen(sockPath, mgr, j)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	client := NewClient(sockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	recs, err := client.History(ctx, "a", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 1 || recs[0].RunID != "r1" {
		t.Fatalf("expected only r1 for device a, got %+v", recs)
	}
}

func TestIsAvailableReflectsListenerLifecycle(t *testing.T) {
	mgr := newTestManager(t)
	srv, client := startTestServer(t, mgr)

	ctx := context.Background()
	if !client.IsAvailable(ctx) {
		t.Fatal("expected IsAvailable to be true while the server is listening")
	}
	srv.Close()
	time.Sleep(50 * time.Millisecond)
	if client.IsAvailable(ctx) {
		t.Fatal("expected IsAvailable to be false after the server stops")
	}
}
