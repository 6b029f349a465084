package fprintd

// Device describes a fingerprint reader as published by the Manager (§3).
// It is the read-only identity/attribute half of a device; the mutable,
// observable half (finger presence, busy, property-change notifications)
// lives in the capability and session packages, which reference a Device
// by ID rather than embedding it, so a hotplug replace cannot leave stale
// copies floating in other components.
type Device struct {
	ID              string
	Driver          string
	Name            string
	ScanType        ScanType
	NumEnrollStages int
	Features        Features
}

// EffectiveEnrollStages returns NumEnrollStages, incremented by one when the
// device can identify, since the Session inserts an internal pre-enroll
// identify pass that counts as a stage (§4.3).
func (d Device) EffectiveEnrollStages() int {
	if d.Features.HasIdentify {
		return d.NumEnrollStages + 1
	}
	return d.NumEnrollStages
}
