package session

import (
	"context"
	"testing"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/policy"
	"github.com/fprintd-go/fprintd/store"
)

func testDevice() fprintd.Device {
	return fprintd.Device{
		ID:              "dev0",
		Driver:          "sim",
		Name:            "Simulated Reader",
		ScanType:        fprintd.ScanTypePress,
		NumEnrollStages: 3,
		Features:        fprintd.Features{},
	}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	dev := testDevice()
	st := store.NewFileStore(store.Config{Path: t.TempDir()})
	if err := st.Init(); err != nil {
		t.Fatalf("store init: %v", err)
	}
	sim := capability.NewSimulated(capability.SimulatedConfig{Device: dev})
	gate := policy.NewGate(policy.NewLocalBackend())
	return New(sim, st, gate)
}

func TestClaimThenReleaseRoundTrip(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Release(ctx, "alice"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := s.Claim(ctx, "bob", "", "bob"); err != nil {
		t.Fatalf("Claim after release: %v", err)
	}
}

func TestClaimContention(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	err := s.Claim(ctx, "bob", "", "bob")
	if err == nil {
		t.Fatal("expected already-in-use for a second claimant")
	}
	var fe *fprintd.Error
	if !asError(err, &fe) || fe.Kind != fprintd.KindAlreadyInUse {
		t.Fatalf("expected KindAlreadyInUse, got %v", err)
	}
}

func TestListEnrolledFingersNoneReturnsError(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err := s.ListEnrolledFingers(ctx, "alice", "", "alice")
	if err == nil {
		t.Fatal("expected no-enrolled-prints")
	}
}

func TestEnrollStartThenListEnrolledFingers(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.EnrollStart(ctx, "alice", fprintd.FingerRightIndex); err != nil {
		t.Fatalf("EnrollStart: %v", err)
	}
	s.machine.Wait()

	fingers, err := s.ListEnrolledFingers(ctx, "alice", "", "alice")
	if err != nil {
		t.Fatalf("ListEnrolledFingers: %v", err)
	}
	if len(fingers) != 1 || fingers[0] != fprintd.FingerRightIndex {
		t.Fatalf("unexpected fingers: %+v", fingers)
	}
}

func TestDeleteEnrolledFingerRequiresClaim(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	err := s.DeleteEnrolledFinger(ctx, "alice", fprintd.FingerRightIndex)
	if err == nil {
		t.Fatal("expected claim-device error when unclaimed")
	}
}

func TestVanishReleasesClaim(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	s.HandleVanish("alice")
	if err := s.Claim(ctx, "bob", "", "bob"); err != nil {
		t.Fatalf("expected claim slot freed after vanish, got %v", err)
	}
}

func TestAuditSinkRecordsCompletedEnroll(t *testing.T) {
	s := newTestSession(t)
	var recorded []AuditRecord
	s.SetAuditSink(func(rec AuditRecord) { recorded = append(recorded, rec) })

	ctx := context.Background()
	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.EnrollStart(ctx, "alice", fprintd.FingerRightIndex); err != nil {
		t.Fatalf("EnrollStart: %v", err)
	}
	s.machine.Wait()

	if len(recorded) != 1 {
		t.Fatalf("expected 1 audit record, got %d: %+v", len(recorded), recorded)
	}
	rec := recorded[0]
	if rec.Kind != "enroll" || rec.CallerID != "alice" || rec.DeviceID != s.device.ID {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
	if rec.RunID == "" {
		t.Fatal("expected non-empty RunID")
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Fatalf("expected EndedAt >= StartedAt, got %+v", rec)
	}
}

func TestAuditSinkRecordsSynchronousDelete(t *testing.T) {
	s := newTestSession(t)
	var recorded []AuditRecord
	s.SetAuditSink(func(rec AuditRecord) { recorded = append(recorded, rec) })

	ctx := context.Background()
	if err := s.Claim(ctx, "alice", "", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	err := s.DeleteEnrolledFinger(ctx, "alice", fprintd.FingerRightIndex)
	if err == nil {
		t.Fatal("expected delete to fail when nothing is enrolled")
	}

	if len(recorded) != 1 {
		t.Fatalf("expected 1 audit record even for a failed delete, got %d", len(recorded))
	}
	if recorded[0].Kind != "delete" || recorded[0].Outcome != "error" {
		t.Fatalf("unexpected audit record: %+v", recorded[0])
	}
}

func asError(err error, target **fprintd.Error) bool {
	fe, ok := err.(*fprintd.Error)
	if !ok {
		return false
	}
	*target = fe
	return true
}
