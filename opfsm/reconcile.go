package opfsm

import (
	"context"

	"github.com/fprintd-go/fprintd"
)

// maybeReconcile implements storage reconciliation (§4.5 "Storage
// reconciliation", testable property 9): when a verify/identify comes
// back empty-handed against a device that supports listing on-device
// storage, cross-check every user's enrolled prints for this
// driver/device against the device's own print list and prune host-side
// records the device no longer has. Runs at most once per claiming
// session - enforced by claim.Session.TryBeginReconcile, not by this
// function - since repeating it on every failed verify would turn one
// slow device into O(attempts) full store scans.
func (c *Context) maybeReconcile(ctx context.Context) {
	if !c.Session.TryBeginReconcile() {
		return
	}
	if !c.Device.Features.HasStorageList {
		return
	}
	onDevice, err := c.Capability.ListPrints(ctx)
	if err != nil {
		return
	}
	onDeviceSet := make(map[string]bool, len(onDevice))
	for _, p := range onDevice {
		onDeviceSet[reconcileKey(p)] = true
	}

	all, err := c.Store.AllPrints()
	if err != nil {
		return
	}
	for _, p := range all {
		if p.Driver != c.Device.Driver || p.DeviceID != c.Device.ID {
			continue
		}
		if !onDeviceSet[reconcileKey(p)] {
			_ = c.Store.Delete(p.Driver, p.DeviceID, p.Finger, p.Username)
		}
	}
}

func reconcileKey(p fprintd.Print) string {
	return p.Username + "\x00" + p.Finger.String()
}
