package opfsm

import (
	"context"
	"time"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/capability"
)

// EnrollStart implements the 7-step enroll protocol of §4.5:
//  1. delete any existing print at (driver, device, finger, user) - enroll
//     always overwrites, it never fails on a pre-existing print;
//  2. on a device that can't list its own storage, and with no prints on
//     file yet for this device, call clear_storage so a fresh device never
//     inherits another host's leftover templates; failure is ignored, it's
//     a best-effort hygiene step, not a precondition for enrolling;
//  3. if the device can identify, run one identify pass across the gallery
//     first to catch an already-enrolled duplicate before spending a full
//     enroll sequence on the reader;
//  4. drive the reader's own multi-stage Enroll, reporting one
//     EnrollStagePassed per completed stage;
//  5. on enroll-data-full, garbage-collect the single oldest orphaned print
//     on the device and restart the attempt exactly once, via Handoff;
//  6. stamp the resulting template with today's date and persist it;
//  7. report EnrollCompleted.
func (c *Context) EnrollStart(finger fprintd.Finger, actingUser string) error {
	if !finger.Valid() || finger == fprintd.FingerUnknown {
		return fprintd.NewError(fprintd.KindInvalidFingerName, "EnrollStart", nil)
	}
	c.Session.ResetTerminal()

	return c.Machine.Start(StateEnroll, func(ctx context.Context) {
		_ = c.Store.Delete(c.Device.Driver, c.Device.ID, finger, actingUser)
		c.maybeClearStorage(ctx)
		c.runEnroll(ctx, finger, actingUser, false)
	})
}

// maybeClearStorage implements enroll step 2 (§4.5): a device without
// on-device print listing can't be reconciled or garbage-collected later,
// so the first enroll against it wipes whatever templates it may already
// hold, as long as the host store doesn't yet know of any print for this
// device - once the host has recorded an enrollment here, clearing would
// silently orphan it on the device.
func (c *Context) maybeClearStorage(ctx context.Context) {
	if c.Device.Features.HasStorageList {
		return
	}
	all, err := c.Store.AllPrints()
	if err != nil {
		return
	}
	for _, p := range all {
		if p.Driver == c.Device.Driver && p.DeviceID == c.Device.ID {
			return
		}
	}
	_ = c.Capability.ClearStorage(ctx)
}

// enrollState is threaded through the attempt Transition: the target
// finger/user, and whether the single data-full garbage-collect restart
// has already been spent.
type enrollState struct {
	finger     fprintd.Finger
	actingUser string
	gcUsed     bool
}

// runEnroll repeatedly runs the single-attempt Transition until it
// returns a terminal Abort (success or a non-retryable failure, both
// already reported via emit inside the transition) or the context is
// cancelled. A Handoff error from the transition means "garbage collect
// then re-enter with a fresh attempt" (§4.5 step 5); everything else
// naturally retries by looping again with the same state.
func (c *Context) runEnroll(ctx context.Context, finger fprintd.Finger, actingUser string, gcAlreadyUsed bool) {
	req := NewRequest(ctx, enrollState{finger: finger, actingUser: actingUser, gcUsed: gcAlreadyUsed})
	for {
		_, err := c.enrollAttempt(req)
		switch {
		case IsAbort(err):
			return
		case err == errRetry:
			continue
		default:
			if _, ok := err.(*HandoffError); !ok {
				return // unexpected error shape, stop rather than loop forever
			}
			if req.Context().Err() != nil {
				return
			}
			if !c.garbageCollectOne(req.Context()) {
				c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollFailed, Done: true})
				return
			}
			req.State.gcUsed = true
		}
	}
}

// enrollAttempt is the Transition for a single pass of the enroll
// pipeline: duplicate check (skipped once the data-full restart has been
// spent, so the restart goes straight to Enroll), one driver Enroll call, and terminal
// handling. It returns Abort(nil) once a terminal status has been
// reported, or Handoff("data-full") to ask runEnroll to garbage collect
// and re-enter.
func (c *Context) enrollAttempt(req *Request[enrollState]) (*Response[struct{}], error) {
	ctx := req.Context()
	st := req.State

	if c.Device.Features.HasIdentify && !st.gcUsed {
		if _, ok := c.checkEnrollDuplicate(ctx, st.actingUser); ok {
			c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollDuplicate, Done: true})
			return nil, Abort(nil)
		}
		if ctx.Err() != nil {
			return nil, Abort(nil)
		}
	}

	template := fprintd.Print{
		Username:   st.actingUser,
		Finger:     st.finger,
		Driver:     c.Device.Driver,
		DeviceID:   c.Device.ID,
		EnrolledAt: time.Now(),
	}

	ch, err := c.Capability.Enroll(ctx, template, func(n int) {
		c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollStagePassed, Done: false})
	})
	if err != nil {
		c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollUnknownError, Done: true})
		return nil, Abort(nil)
	}

	var out capability.ScanOutcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		return nil, Abort(nil)
	}

	switch {
	case out.Err != nil:
		c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollUnknownError, Done: true})
		return nil, Abort(nil)
	case fprintd.IsRetryableEnrollStatus(out.Status):
		c.emit(Event{Kind: "enroll-status", Status: out.Status, Done: false})
		return nil, errRetry // loop again with the same state
	case out.Status == fprintd.EnrollDataFull:
		if st.gcUsed {
			c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollFailed, Done: true})
			return nil, Abort(nil)
		}
		return nil, Handoff("data-full")
	case out.Status == fprintd.EnrollCompleted:
		if err := c.Store.Save(template); err != nil {
			c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollFailed, Done: true})
			return nil, Abort(nil)
		}
		c.Session.MarkTerminalReported()
		c.emit(Event{Kind: "enroll-status", Status: fprintd.EnrollCompleted, Done: true})
		return nil, Abort(nil)
	default:
		c.emit(Event{Kind: "enroll-status", Status: out.Status, Done: true})
		return nil, Abort(nil)
	}
}

// errRetry is a private sentinel meaning "retry-class outcome, loop
// again" - distinct from both Abort (stop) and Handoff (restart via gc).
var errRetry = &retryError{}

type retryError struct{}

func (*retryError) Error() string { return "retry" }

// checkEnrollDuplicate runs the pre-enroll identify pass (§4.5 step 3)
// against the caller's existing gallery; a match means the finger being
// enrolled already has a print on file under a different finger name.
func (c *Context) checkEnrollDuplicate(ctx context.Context, actingUser string) (fprintd.Print, bool) {
	fingers, err := c.Store.DiscoverPrints(c.Device.Driver, c.Device.ID, actingUser)
	if err != nil || len(fingers) == 0 {
		return fprintd.Print{}, false
	}
	gallery := make([]fprintd.Print, 0, len(fingers))
	for _, f := range fingers {
		p, err := c.Store.Load(c.Device.Driver, c.Device.ID, f, actingUser)
		if err == nil {
			gallery = append(gallery, p)
		}
	}
	if len(gallery) == 0 {
		return fprintd.Print{}, false
	}
	var matched fprintd.Print
	var isMatch bool
	ch, err := c.Capability.Identify(ctx, gallery, func(r capability.MatchResult) {
		matched = r.Print
		isMatch = r.Matched
	})
	if err != nil {
		return fprintd.Print{}, false
	}
	select {
	case out := <-ch:
		if out.Err != nil {
			return fprintd.Print{}, false
		}
	case <-ctx.Done():
		return fprintd.Print{}, false
	}
	return matched, isMatch
}
