package suspend

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDevice struct {
	suspended, resumed chan struct{}
	suspendErr         error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{suspended: make(chan struct{}, 1), resumed: make(chan struct{}, 1)}
}

func (f *fakeDevice) Suspend(ctx context.Context) error {
	f.suspended <- struct{}{}
	return f.suspendErr
}

func (f *fakeDevice) Resume(ctx context.Context) error {
	f.resumed <- struct{}{}
	return nil
}

func TestStartAcquiresInitialInhibitor(t *testing.T) {
	inh := &CountingInhibitor{}
	c := New(inh)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inh.Acquired != 1 {
		t.Fatalf("expected 1 acquire at startup, got %d", inh.Acquired)
	}
}

func TestSuspendReleasesOnlyAfterAllDevicesDone(t *testing.T) {
	inh := &CountingInhibitor{}
	c := New(inh)
	c.Start(context.Background())

	d1, d2 := newFakeDevice(), newFakeDevice()
	c.AddDevice("d1", d1)
	c.AddDevice("d2", d2)

	c.OnPrepareForSleep(context.Background(), true)

	select {
	case <-d1.suspended:
	case <-time.After(time.Second):
		t.Fatal("device 1 never suspended")
	}
	select {
	case <-d2.suspended:
	case <-time.After(time.Second):
		t.Fatal("device 2 never suspended")
	}
	if inh.Released != 1 {
		t.Fatalf("expected inhibitor released exactly once, got %d", inh.Released)
	}
}

func TestSuspendWithNoDevicesStillReleases(t *testing.T) {
	inh := &CountingInhibitor{}
	c := New(inh)
	c.Start(context.Background())

	c.OnPrepareForSleep(context.Background(), true)

	if inh.Released != 1 {
		t.Fatalf("expected inhibitor released for the zero-device case, got %d", inh.Released)
	}
}

func TestResumeReacquiresAfterEveryDeviceResumed(t *testing.T) {
	inh := &CountingInhibitor{}
	c := New(inh)
	c.Start(context.Background())

	d1 := newFakeDevice()
	c.AddDevice("d1", d1)
	c.OnPrepareForSleep(context.Background(), true)

	c.OnPrepareForSleep(context.Background(), false)
	select {
	case <-d1.resumed:
	case <-time.After(time.Second):
		t.Fatal("device never resumed")
	}
	if inh.Acquired != 2 {
		t.Fatalf("expected a second acquire after resume, got %d", inh.Acquired)
	}
}

func TestIgnorableSuspendErrorDoesNotBlockRelease(t *testing.T) {
	inh := &CountingInhibitor{}
	c := New(inh)
	c.Start(context.Background())

	d1 := newFakeDevice()
	d1.suspendErr = errors.New("not-supported")
	c.AddDevice("d1", d1)

	c.OnPrepareForSleep(context.Background(), true)
	if inh.Released != 1 {
		t.Fatalf("expected release despite ignorable suspend error, got %d", inh.Released)
	}
}
