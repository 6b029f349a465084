package opfsm

import (
	"context"

	"github.com/fprintd-go/fprintd"
)

// DeleteFinger implements DeleteEnrolledFinger/DeleteEnrolledFingers2
// (§4.5 "Delete protocol"): resolve one or every enrolled finger for
// actingUser, delete each from the device first (when supported) and
// then from the store. It returns synchronously rather than reporting a
// terminal status via signal, since a delete completes in one step and
// the bus method itself carries the result. A host-store delete failure
// outranks a device-side one, per the spec's explicit priority rule.
func (c *Context) DeleteFinger(finger fprintd.Finger, actingUser string) error {
	var fingers []fprintd.Finger
	if finger == fprintd.FingerUnknown {
		all, err := c.Store.DiscoverPrints(c.Device.Driver, c.Device.ID, actingUser)
		if err != nil {
			return err
		}
		fingers = all
	} else {
		if !finger.Valid() {
			return fprintd.NewError(fprintd.KindInvalidFingerName, "DeleteFinger", nil)
		}
		fingers = []fprintd.Finger{finger}
	}
	if len(fingers) == 0 {
		return fprintd.NewError(fprintd.KindNoEnrolledPrints, "DeleteFinger", nil)
	}

	return c.Machine.RunExclusive(StateDelete, func(ctx context.Context) error {
		var deviceErr, hostErr error
		var matched bool
		for _, f := range fingers {
			p, err := c.Store.Load(c.Device.Driver, c.Device.ID, f, actingUser)
			if err != nil {
				continue
			}
			matched = true
			if c.Device.Features.HasStorage {
				if err := c.Capability.DeletePrint(ctx, p); err != nil && deviceErr == nil {
					deviceErr = fprintd.NewError(fprintd.KindPrintsNotDeletedOnDevice, "DeleteFinger", err)
				}
			}
			if err := c.Store.Delete(c.Device.Driver, c.Device.ID, f, actingUser); err != nil && hostErr == nil {
				hostErr = fprintd.NewError(fprintd.KindPrintsNotDeleted, "DeleteFinger", err)
			}
		}
		if !matched {
			return fprintd.NewError(fprintd.KindNoEnrolledPrints, "DeleteFinger", nil)
		}
		if hostErr != nil {
			return hostErr
		}
		return deviceErr
	})
}
