package opfsm

import (
	"context"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/claim"
	"github.com/fprintd-go/fprintd/store"
)

// Context bundles everything one Device Session's protocols need: the
// state machine, the capability adapter, the print store, the device's
// static description, the claiming session, and the event sink. One
// Context is constructed per Device Session and reused across operations.
type Context struct {
	Machine    *Machine
	Capability capability.Device
	Store      store.Store
	Device     fprintd.Device
	Session    *claim.Session
	Emit       Emitter
	// RunID is minted by the Device Session once per Start invocation
	// (§3 "Run identifier") and stamped onto every Event this Context
	// emits that doesn't already carry one.
	RunID string
}

// VerifyStart implements the verify protocol of §4.5. The finger/gallery
// resolution runs synchronously (it only touches the print store, never
// hardware); a resolution failure is returned directly without ever
// entering the Verify/Identify state. Once resolution succeeds, the
// actual scan is driven asynchronously via Machine.Start.
func (c *Context) VerifyStart(finger fprintd.Finger, actingUser string) error {
	gallery, selected, useIdentify, err := c.resolveVerifyTarget(finger, actingUser)
	if err != nil {
		return err
	}
	c.Session.ResetTerminal()

	kind := StateVerify
	if useIdentify {
		kind = StateIdentify
	}
	c.emit(Event{Kind: "verify-finger-selected", Finger: selected})

	return c.Machine.Start(kind, func(ctx context.Context) {
		if useIdentify {
			c.runIdentify(ctx, gallery, actingUser)
		} else {
			c.runVerify(ctx, gallery[0], actingUser)
		}
	})
}

// resolveVerifyTarget implements the finger/gallery resolution rules of
// §4.5 "Verify protocol". It returns the gallery to drive the scan
// against, the finger to report via VerifyFingerSelected (FingerUnknown
// when the target isn't narrowed to one finger, i.e. the identify path),
// and whether to use Identify rather than single-template Verify.
func (c *Context) resolveVerifyTarget(finger fprintd.Finger, actingUser string) ([]fprintd.Print, fprintd.Finger, bool, error) {
	if finger != fprintd.FingerUnknown {
		if !finger.Valid() {
			return nil, finger, false, fprintd.NewError(fprintd.KindInvalidFingerName, "VerifyStart", nil)
		}
		p, err := c.Store.Load(c.Device.Driver, c.Device.ID, finger, actingUser)
		if err != nil {
			return nil, finger, false, err
		}
		return []fprintd.Print{p}, finger, false, nil
	}

	fingers, err := c.Store.DiscoverPrints(c.Device.Driver, c.Device.ID, actingUser)
	if err != nil {
		return nil, finger, false, err
	}
	if len(fingers) == 0 {
		return nil, finger, false, fprintd.NewError(fprintd.KindNoEnrolledPrints, "VerifyStart", nil)
	}
	if len(fingers) == 1 {
		p, err := c.Store.Load(c.Device.Driver, c.Device.ID, fingers[0], actingUser)
		if err != nil {
			return nil, finger, false, err
		}
		return []fprintd.Print{p}, fingers[0], false, nil
	}
	if !c.Device.Features.HasIdentify {
		// §9 open question, resolved in REDESIGN FLAGS: fail rather than
		// silently pick one print without a clear finger-selected contract.
		return nil, finger, false, fprintd.NewError(fprintd.KindNoEnrolledPrints, "VerifyStart", nil)
	}
	gallery := make([]fprintd.Print, 0, len(fingers))
	for _, f := range fingers {
		p, err := c.Store.Load(c.Device.Driver, c.Device.ID, f, actingUser)
		if err != nil {
			continue
		}
		gallery = append(gallery, p)
	}
	if len(gallery) == 0 {
		return nil, finger, false, fprintd.NewError(fprintd.KindNoEnrolledPrints, "VerifyStart", nil)
	}
	return gallery, fprintd.FingerUnknown, true, nil
}

// runVerify drives single-template verify, restarting transparently on
// retry-class statuses (§4.5) until a terminal status or cancellation.
func (c *Context) runVerify(ctx context.Context, template fprintd.Print, actingUser string) {
	for {
		status, matched := c.oneVerifyAttempt(ctx, template)
		if status == "cancelled" {
			return
		}
		if fprintd.IsRetryableVerifyStatus(status) {
			c.emitTerminalSafe(Event{Kind: "verify-status", Status: status, Done: false})
			continue
		}
		c.finishVerify(ctx, status, matched)
		return
	}
}

func (c *Context) oneVerifyAttempt(ctx context.Context, template fprintd.Print) (string, bool) {
	var matched bool
	ch, err := c.Capability.Verify(ctx, template, func(r capability.MatchResult) {
		matched = r.Matched
	})
	if err != nil {
		return fprintd.VerifyUnknownError, false
	}
	select {
	case out := <-ch:
		if out.Err != nil {
			return fprintd.VerifyUnknownError, false
		}
		return out.Status, matched
	case <-ctx.Done():
		return "cancelled", false
	}
}

// runIdentify drives identify-based "any finger" verify against a
// multi-print gallery.
func (c *Context) runIdentify(ctx context.Context, gallery []fprintd.Print, actingUser string) {
	for {
		status, matched := c.oneIdentifyAttempt(ctx, gallery)
		if status == "cancelled" {
			return
		}
		if fprintd.IsRetryableVerifyStatus(status) {
			c.emitTerminalSafe(Event{Kind: "verify-status", Status: status, Done: false})
			continue
		}
		c.finishVerify(ctx, status, matched)
		return
	}
}

func (c *Context) oneIdentifyAttempt(ctx context.Context, gallery []fprintd.Print) (string, bool) {
	var matched bool
	ch, err := c.Capability.Identify(ctx, gallery, func(r capability.MatchResult) {
		matched = r.Matched
	})
	if err != nil {
		return fprintd.VerifyUnknownError, false
	}
	select {
	case out := <-ch:
		if out.Err != nil {
			return fprintd.VerifyUnknownError, false
		}
		return out.Status, matched
	case <-ctx.Done():
		return "cancelled", false
	}
}

// finishVerify reports the terminal status exactly once per Start (§4.5
// "Match reporting", testable property 3), triggers storage reconciliation
// on a no-match or a driver-reported error (§4.5 "Storage reconciliation"
// - this vocabulary has no separate data-not-found status, so the generic
// unknown-error terminal status stands in for it), and marks the session's
// terminal flag so a subsequent Stop knows to use the grace period instead
// of cancelling immediately.
func (c *Context) finishVerify(ctx context.Context, status string, matched bool) {
	if status == "" {
		if matched {
			status = fprintd.VerifyMatch
		} else {
			status = fprintd.VerifyNoMatch
		}
	}
	c.Session.MarkTerminalReported()
	c.emitTerminalSafe(Event{Kind: "verify-status", Status: status, Done: true})

	triggersReconcile := status == fprintd.VerifyNoMatch || status == fprintd.VerifyUnknownError
	if triggersReconcile && c.Device.Features.HasStorageList {
		c.maybeReconcile(ctx)
	}
}

// emitTerminalSafe is a thin alias kept distinct from direct Emit calls so
// the idempotence rule is visually anchored at call sites that report a
// potentially-terminal status.
func (c *Context) emitTerminalSafe(ev Event) {
	c.emit(ev)
}

func (c *Context) emit(ev Event) {
	if ev.RunID == "" {
		ev.RunID = c.RunID
	}
	if c.Emit != nil {
		c.Emit(ev)
	}
}
