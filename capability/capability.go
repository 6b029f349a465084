// Package capability defines the uniform adapter surface over an opaque
// fingerprint driver (SPEC_FULL.md §4.3) and ships one concrete
// implementation, Simulated, used for tests, development hosts without
// hardware, and the monitor CLI's demo mode. A libfprint-backed adapter
// would satisfy the same Device interface.
//
// The error-kind-over-raw-errors, fail-dumb-on-the-driver-boundary style
// here is grounded on devicemapper/dm.go's adapter conventions, applied to
// scan outcomes instead of thin-pool operations.
package capability

import (
	"context"

	"github.com/fprintd-go/fprintd"
)

// MatchResult is delivered to a match callback during verify/identify,
// before the final async completion (§4.5 "Match reporting").
type MatchResult struct {
	// Print is the matched print, or the zero value on no-match.
	Print fprintd.Print
	// Matched is true iff the driver returned a print and the call was
	// not cancelled; callers must additionally check their own
	// cancellation token per §4.5, this field alone is not sufficient.
	Matched bool
}

// ScanOutcome is a single asynchronous completion from the driver: either
// a named status (e.g. VerifyMatch, EnrollDataFull) or an error.
type ScanOutcome struct {
	Status string
	Err    error
}

// PropertyChange is delivered on a device's change-notification channel
// whenever an observable property in §4.3 changes.
type PropertyChange struct {
	FingerPresent *bool
	FingerNeeded  *bool
	Temperature   *fprintd.Temperature
}

// Device is the uniform surface over one opaque hardware reader (§4.3).
// Every method that drives a scan takes a context for cancellation; the
// capability layer is expected to treat ctx cancellation as equivalent to
// a driver-level "cancelled" completion, never an error surfaced to
// clients (§5 "Cancellation errors never propagate to clients").
type Device interface {
	Describe() fprintd.Device

	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// Enroll drives one enrol attempt for template (finger/user/driver/
	// device-id/date already populated by the caller). progress is
	// invoked once per completed stage; the returned channel delivers the
	// single final ScanOutcome.
	Enroll(ctx context.Context, template fprintd.Print, progress func(stagesDone int)) (<-chan ScanOutcome, error)
	// Verify drives one verify attempt against a single template. match
	// is invoked at most once, before the returned channel's outcome.
	Verify(ctx context.Context, template fprintd.Print, match func(MatchResult)) (<-chan ScanOutcome, error)
	// Identify drives one identify attempt against a gallery. match is
	// invoked at most once with the matched print, if any.
	Identify(ctx context.Context, gallery []fprintd.Print, match func(MatchResult)) (<-chan ScanOutcome, error)

	// ListPrints lists prints present on the device itself (only
	// meaningful when Describe().Features.HasStorageList).
	ListPrints(ctx context.Context) ([]fprintd.Print, error)
	// DeletePrint removes one print from on-device storage (only
	// meaningful when Describe().Features.HasStorage).
	DeletePrint(ctx context.Context, p fprintd.Print) error
	// ClearStorage wipes all on-device prints.
	ClearStorage(ctx context.Context) error

	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error

	// Changes returns the channel on which PropertyChange notifications
	// are delivered for the lifetime of the device.
	Changes() <-chan PropertyChange
}
