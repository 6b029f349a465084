package opfsm

import (
	"context"
	"testing"
	"time"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/claim"
	"github.com/fprintd-go/fprintd/store"
)

func testDevice(features fprintd.Features) fprintd.Device {
	return fprintd.Device{
		ID:              "dev0",
		Driver:          "sim",
		Name:            "Simulated Reader",
		ScanType:        fprintd.ScanTypePress,
		NumEnrollStages: 3,
		Features:        features,
	}
}

func newContext(t *testing.T, dev fprintd.Device, decisions capability.Decisions) (*Context, *capability.Simulated) {
	t.Helper()
	st := store.NewFileStore(store.Config{Path: t.TempDir()})
	if err := st.Init(); err != nil {
		t.Fatalf("store init: %v", err)
	}
	sim := capability.NewSimulated(capability.SimulatedConfig{Device: dev, Decisions: decisions})
	var events []Event
	return &Context{
		Machine:    NewMachine(),
		Capability: sim,
		Store:      st,
		Device:     dev,
		Session:    &claim.Session{CallerID: "caller", ActingUser: "alice"},
		Emit:       func(ev Event) { events = append(events, ev) },
	}, sim
}

func waitNone(t *testing.T, m *Machine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateNone {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for machine to return to none")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnrollStartPersistsTemplate(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	c, _ := newContext(t, dev, capability.Decisions{})

	if err := c.EnrollStart(fprintd.FingerRightIndex, "alice"); err != nil {
		t.Fatalf("EnrollStart: %v", err)
	}
	waitNone(t, c.Machine)

	p, err := c.Store.Load(dev.Driver, dev.ID, fprintd.FingerRightIndex, "alice")
	if err != nil {
		t.Fatalf("Load after enroll: %v", err)
	}
	if p.Username != "alice" || p.Finger != fprintd.FingerRightIndex {
		t.Fatalf("unexpected persisted print: %+v", p)
	}
}

func TestEnrollStartRejectsAnyFinger(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	c, _ := newContext(t, dev, capability.Decisions{})
	if err := c.EnrollStart(fprintd.FingerUnknown, "alice"); err == nil {
		t.Fatal("expected invalid-fingername for enroll with no specific finger")
	}
}

func TestEnrollDuplicateDetection(t *testing.T) {
	dev := testDevice(fprintd.Features{HasIdentify: true})
	existing := fprintd.Print{Username: "alice", Finger: fprintd.FingerLeftThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	decisions := capability.Decisions{
		Identify: func(attempt int, gallery []fprintd.Print) (capability.MatchResult, capability.ScanOutcome) {
			return capability.MatchResult{Print: gallery[0], Matched: true}, capability.ScanOutcome{Status: fprintd.VerifyMatch}
		},
	}
	c, _ := newContext(t, dev, decisions)
	if err := c.Store.Save(existing); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if err := c.EnrollStart(fprintd.FingerRightIndex, "alice"); err != nil {
		t.Fatalf("EnrollStart: %v", err)
	}
	waitNone(t, c.Machine)

	if _, err := c.Store.Load(dev.Driver, dev.ID, fprintd.FingerRightIndex, "alice"); err == nil {
		t.Fatal("expected no print persisted for a detected duplicate")
	}
}

func TestVerifyStartSingleFinger(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	c, _ := newContext(t, dev, capability.Decisions{})
	template := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightIndex, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	if err := c.Store.Save(template); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := c.VerifyStart(fprintd.FingerRightIndex, "alice"); err != nil {
		t.Fatalf("VerifyStart: %v", err)
	}
	waitNone(t, c.Machine)
	if !c.Session.TerminalReported() {
		t.Fatal("expected terminal status reported after verify completes")
	}
}

func TestVerifyStartNoEnrolledPrints(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	c, _ := newContext(t, dev, capability.Decisions{})
	if err := c.VerifyStart(fprintd.FingerUnknown, "alice"); err == nil {
		t.Fatal("expected no-enrolled-prints")
	}
}

func TestVerifyStartAnyFingerMultipleRequiresIdentify(t *testing.T) {
	dev := testDevice(fprintd.Features{}) // no identify capability
	c, _ := newContext(t, dev, capability.Decisions{})
	a := fprintd.Print{Username: "alice", Finger: fprintd.FingerLeftThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	b := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	c.Store.Save(a)
	c.Store.Save(b)

	if err := c.VerifyStart(fprintd.FingerUnknown, "alice"); err == nil {
		t.Fatal("expected no-enrolled-prints when multiple fingers exist but device cannot identify")
	}
}

func TestVerifyRetryClassStatusDoesNotTerminate(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	calls := 0
	decisions := capability.Decisions{
		Verify: func(attempt int, template fprintd.Print) (capability.MatchResult, capability.ScanOutcome) {
			calls++
			if attempt == 1 {
				return capability.MatchResult{}, capability.ScanOutcome{Status: fprintd.VerifySwipeTooShort}
			}
			return capability.MatchResult{Matched: true, Print: template}, capability.ScanOutcome{Status: fprintd.VerifyMatch}
		},
	}
	c, _ := newContext(t, dev, decisions)
	template := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightIndex, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	c.Store.Save(template)

	if err := c.VerifyStart(fprintd.FingerRightIndex, "alice"); err != nil {
		t.Fatalf("VerifyStart: %v", err)
	}
	waitNone(t, c.Machine)
	if calls < 2 {
		t.Fatalf("expected at least 2 verify attempts, got %d", calls)
	}
}

func TestAlreadyInUseWhileOperationRunning(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	block := make(chan struct{})
	decisions := capability.Decisions{
		Verify: func(attempt int, template fprintd.Print) (capability.MatchResult, capability.ScanOutcome) {
			<-block
			return capability.MatchResult{Matched: true, Print: template}, capability.ScanOutcome{Status: fprintd.VerifyMatch}
		},
	}
	c, _ := newContext(t, dev, decisions)
	template := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightIndex, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	c.Store.Save(template)

	if err := c.VerifyStart(fprintd.FingerRightIndex, "alice"); err != nil {
		t.Fatalf("first VerifyStart: %v", err)
	}
	if err := c.VerifyStart(fprintd.FingerRightIndex, "alice"); err == nil {
		t.Fatal("expected already-in-use for concurrent VerifyStart")
	}
	close(block)
	waitNone(t, c.Machine)
}

func TestDeleteFingerSingle(t *testing.T) {
	dev := testDevice(fprintd.Features{HasStorage: true})
	c, sim := newContext(t, dev, capability.Decisions{})
	template := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightIndex, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	c.Store.Save(template)
	sim.Seed(template)

	if err := c.DeleteFinger(fprintd.FingerRightIndex, "alice"); err != nil {
		t.Fatalf("DeleteFinger: %v", err)
	}
	if _, err := c.Store.Load(dev.Driver, dev.ID, fprintd.FingerRightIndex, "alice"); err == nil {
		t.Fatal("expected print removed from store")
	}
}

func TestDeleteFingerNoneEnrolled(t *testing.T) {
	dev := testDevice(fprintd.Features{})
	c, _ := newContext(t, dev, capability.Decisions{})
	if err := c.DeleteFinger(fprintd.FingerUnknown, "alice"); err == nil {
		t.Fatal("expected no-enrolled-prints when nothing to delete")
	}
}

func TestDeleteFingerNamedFingerNeverEnrolled(t *testing.T) {
	dev := testDevice(fprintd.Features{HasStorage: true})
	c, _ := newContext(t, dev, capability.Decisions{})
	other := fprintd.Print{Username: "alice", Finger: fprintd.FingerLeftThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	c.Store.Save(other)

	err := c.DeleteFinger(fprintd.FingerRightIndex, "alice")
	if err == nil {
		t.Fatal("expected no-enrolled-prints for a named finger the user never enrolled")
	}
	ferr, ok := err.(*fprintd.Error)
	if !ok || ferr.Kind != fprintd.KindNoEnrolledPrints {
		t.Fatalf("expected KindNoEnrolledPrints, got %v", err)
	}
	if _, err := c.Store.Load(dev.Driver, dev.ID, fprintd.FingerLeftThumb, "alice"); err != nil {
		t.Fatal("expected the unrelated enrolled finger to survive untouched")
	}
}

func TestGarbageCollectOneRemovesOldestOrphan(t *testing.T) {
	dev := testDevice(fprintd.Features{HasStorage: true, HasStorageList: true})
	c, sim := newContext(t, dev, capability.Decisions{})
	orphanOld := fprintd.Print{Username: "bob", Finger: fprintd.FingerLeftThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now().Add(-time.Hour)}
	orphanNew := fprintd.Print{Username: "bob", Finger: fprintd.FingerLeftIndex, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	enrolled := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now().Add(-2 * time.Hour)}
	c.Store.Save(enrolled)
	sim.Seed(orphanOld, orphanNew, enrolled)

	ok := c.garbageCollectOne(context.Background())
	if !ok {
		t.Fatal("expected an orphan to be found and deleted")
	}

	onDevice, err := sim.ListPrints(context.Background())
	if err != nil {
		t.Fatalf("ListPrints: %v", err)
	}
	for _, p := range onDevice {
		if p.Matches(dev.Driver, dev.ID, orphanOld.Finger, orphanOld.Username) {
			t.Fatal("expected the oldest orphan to be garbage collected from the device")
		}
	}
	var sawNewOrphan, sawEnrolled bool
	for _, p := range onDevice {
		if p.Matches(dev.Driver, dev.ID, orphanNew.Finger, orphanNew.Username) {
			sawNewOrphan = true
		}
		if p.Matches(dev.Driver, dev.ID, enrolled.Finger, enrolled.Username) {
			sawEnrolled = true
		}
	}
	if !sawNewOrphan {
		t.Fatal("expected the newer orphan to survive")
	}
	if !sawEnrolled {
		t.Fatal("expected the legitimately enrolled print to survive on the device")
	}
	if _, err := c.Store.Load(dev.Driver, dev.ID, enrolled.Finger, "alice"); err != nil {
		t.Fatal("expected the legitimately enrolled print to survive in the store")
	}
}

func TestGarbageCollectOneRequiresStorageList(t *testing.T) {
	dev := testDevice(fprintd.Features{HasStorage: true})
	c, sim := newContext(t, dev, capability.Decisions{})
	orphan := fprintd.Print{Username: "bob", Finger: fprintd.FingerLeftThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	sim.Seed(orphan)

	if ok := c.garbageCollectOne(context.Background()); ok {
		t.Fatal("expected no garbage collection without on-device storage listing")
	}
}

func TestGarbageCollectOneNoOrphans(t *testing.T) {
	dev := testDevice(fprintd.Features{HasStorage: true, HasStorageList: true})
	c, sim := newContext(t, dev, capability.Decisions{})
	enrolled := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightThumb, Driver: dev.Driver, DeviceID: dev.ID, EnrolledAt: time.Now()}
	c.Store.Save(enrolled)
	sim.Seed(enrolled)

	if ok := c.garbageCollectOne(context.Background()); ok {
		t.Fatal("expected no victim when every device print has a host-store record")
	}
}
