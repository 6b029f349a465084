// Package suspend implements the Suspend Coordinator of SPEC_FULL.md
// §4.8: it holds a sleep inhibitor across the awake period and releases
// it only once every device has finished its own suspend() call, using a
// pending-count barrier seeded with a sentinel so the "no devices"
// case still releases correctly.
package suspend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Device is the narrow surface the coordinator needs from each managed
// device; session.Session satisfies it via thin wrapper methods.
type Device interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Inhibitor is the platform collaborator that actually holds the sleep
// lock (§4.8 "Platform backend"). A logind-backed implementation takes a
// real file descriptor from org.freedesktop.login1.Manager.Inhibit; the
// in-memory CountingInhibitor in testing.go is used for tests.
type Inhibitor interface {
	// Acquire takes a new inhibitor lock, returning a token Release needs.
	Acquire(ctx context.Context) (any, error)
	// Release drops the lock held by token.
	Release(token any) error
}

// Coordinator runs the suspend/resume barrier for a fixed device set.
type Coordinator struct {
	inhibitor Inhibitor
	log       logrus.FieldLogger

	mu      sync.Mutex
	devices map[string]Device
	token   any
	pending int64
}

func New(inhibitor Inhibitor) *Coordinator {
	return &Coordinator{
		inhibitor: inhibitor,
		devices:   make(map[string]Device),
		log:       logrus.WithField("component", "suspend"),
	}
}

func (c *Coordinator) AddDevice(id string, d Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[id] = d
}

func (c *Coordinator) RemoveDevice(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, id)
}

// Start takes the first inhibitor, the synthetic "resumed" event issued
// once at startup (§4.8).
func (c *Coordinator) Start(ctx context.Context) error {
	return c.onResumed(ctx)
}

// OnPrepareForSleep handles the PrepareForSleep(bool) signal: true means
// about-to-sleep, false means resumed.
func (c *Coordinator) OnPrepareForSleep(ctx context.Context, aboutToSleep bool) {
	if aboutToSleep {
		c.onAboutToSleep(ctx)
		return
	}
	if err := c.onResumed(ctx); err != nil {
		c.log.WithError(err).Warn("failed to reacquire sleep inhibitor on resume")
	}
}

// onAboutToSleep implements the three-step algorithm of §4.8: a sentinel
// of 1 plus one increment per device keeps the counter from reaching zero
// until every real suspend has completed, even with zero devices.
func (c *Coordinator) onAboutToSleep(ctx context.Context) {
	c.mu.Lock()
	devices := make(map[string]Device, len(c.devices))
	for id, d := range c.devices {
		devices[id] = d
	}
	c.mu.Unlock()

	atomic.StoreInt64(&c.pending, 1)
	var wg sync.WaitGroup
	for id, d := range devices {
		atomic.AddInt64(&c.pending, 1)
		wg.Add(1)
		go func(id string, d Device) {
			defer wg.Done()
			if err := d.Suspend(ctx); err != nil && !isIgnorableSuspendError(err) {
				c.log.WithFields(logrus.Fields{"device": id, "err": err}).Warn("suspend failed")
			}
			if atomic.AddInt64(&c.pending, -1) == 0 {
				c.releaseInhibitor()
			}
		}(id, d)
	}
	wg.Wait()
	if atomic.AddInt64(&c.pending, -1) == 0 {
		c.releaseInhibitor()
	}
}

// onResumed resumes every device then reacquires the inhibitor, strictly
// after every device has been told to resume (§5 ordering guarantee).
func (c *Coordinator) onResumed(ctx context.Context) error {
	c.mu.Lock()
	devices := make(map[string]Device, len(c.devices))
	for id, d := range c.devices {
		devices[id] = d
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for id, d := range devices {
		wg.Add(1)
		go func(id string, d Device) {
			defer wg.Done()
			if err := d.Resume(ctx); err != nil {
				c.log.WithFields(logrus.Fields{"device": id, "err": err}).Warn("resume failed")
			}
		}(id, d)
	}
	wg.Wait()

	token, err := c.inhibitor.Acquire(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) releaseInhibitor() {
	c.mu.Lock()
	token := c.token
	c.token = nil
	c.mu.Unlock()
	if token == nil {
		return
	}
	if err := c.inhibitor.Release(token); err != nil {
		c.log.WithError(err).Warn("failed to release sleep inhibitor")
	}
}

// isIgnorableSuspendError reports whether a driver error during suspend
// should be swallowed rather than logged loudly (§4.8: "not-open" and
// "not-supported" are ignored during suspend).
func isIgnorableSuspendError(err error) bool {
	switch err.Error() {
	case "not-open", "not-supported":
		return true
	default:
		return false
	}
}
