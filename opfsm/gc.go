package opfsm

import (
	"context"
	"crypto/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fprintd-go/fprintd"
)

// garbageCollectOne implements the single-print garbage collector (§4.5
// step 7): list the device's own prints, drop every one that still has a
// host-store record (a legitimate enrollment, never a collection target),
// and delete the oldest remaining orphan from the device. It reports
// whether a victim was found at all (false means there's nothing left to
// reclaim - enroll then simply fails rather than looping).
//
// Ties on EnrolledAt are broken by a ULID minted the first time two prints
// are compared, giving a stable total order without needing the store to
// persist an explicit sequence column.
func (c *Context) garbageCollectOne(ctx context.Context) bool {
	if !c.Device.Features.HasStorageList {
		return false
	}
	onDevice, err := c.Capability.ListPrints(ctx)
	if err != nil || len(onDevice) == 0 {
		return false
	}

	all, err := c.Store.AllPrints()
	if err != nil {
		return false
	}
	hostSet := make(map[string]bool, len(all))
	for _, p := range all {
		if p.Driver == c.Device.Driver && p.DeviceID == c.Device.ID {
			hostSet[reconcileKey(p)] = true
		}
	}

	var orphans []fprintd.Print
	for _, p := range onDevice {
		if !hostSet[reconcileKey(p)] {
			orphans = append(orphans, p)
		}
	}
	if len(orphans) == 0 {
		return false
	}

	type tagged struct {
		print fprintd.Print
		tag   ulid.ULID
	}
	items := make([]tagged, len(orphans))
	for i, p := range orphans {
		items[i] = tagged{print: p, tag: ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := items[i].print, items[j].print
		if !pi.EnrolledAt.Equal(pj.EnrolledAt) {
			return pi.EnrolledAt.Before(pj.EnrolledAt)
		}
		return items[i].tag.Compare(items[j].tag) < 0
	})

	if !c.Device.Features.HasStorage {
		return false
	}
	victim := items[0].print
	return c.Capability.DeletePrint(ctx, victim) == nil
}
