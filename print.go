package fprintd

import "time"

// Print is a serialised fingerprint template bound to the user, finger,
// driver and device it was enrolled against, per §3.
type Print struct {
	Username string
	Finger   Finger
	Driver   string
	DeviceID string
	EnrolledAt time.Time
	Template []byte
}

// Matches reports whether this print is compatible with a load request for
// the given device/finger/user, the invariant store.Load must enforce
// before handing a Print back to a caller (§4.1).
func (p Print) Matches(driver, deviceID string, finger Finger, username string) bool {
	return p.Driver == driver && p.DeviceID == deviceID && p.Finger == finger && p.Username == username
}

// Temperature is the device's coarse thermal class, reported by the
// capability adapter and consulted when computing the Busy property (§4.6).
type Temperature int

const (
	TemperatureCold Temperature = iota
	TemperatureWarm
	TemperatureHot
)

// ScanType describes how the reader samples a finger.
type ScanType string

const (
	ScanTypePress ScanType = "press"
	ScanTypeSwipe ScanType = "swipe"
)

// Features are the capability bits a driver advertises (§4.3).
type Features struct {
	HasIdentify   bool
	HasStorage    bool
	HasStorageList bool
}

// Verify status names emitted on the wire (§7). Terminal statuses carry
// done=true; VerifyMatch and VerifyNoMatch are always terminal.
const (
	VerifyMatch             = "verify-match"
	VerifyNoMatch           = "verify-no-match"
	VerifySwipeTooShort     = "verify-swipe-too-short"
	VerifyFingerNotCentered = "verify-finger-not-centered"
	VerifyRemoveAndRetry    = "verify-remove-and-retry"
	VerifyRetryScan         = "verify-retry-scan"
	VerifyDisconnected      = "verify-disconnected"
	VerifyUnknownError      = "verify-unknown-error"
)

// Enroll status names emitted on the wire (§7).
const (
	EnrollStagePassed      = "enroll-stage-passed"
	EnrollCompleted        = "enroll-completed"
	EnrollFailed           = "enroll-failed"
	EnrollDuplicate        = "enroll-duplicate"
	EnrollSwipeTooShort    = "enroll-swipe-too-short"
	EnrollFingerNotCentered = "enroll-finger-not-centered"
	EnrollRemoveAndRetry   = "enroll-remove-and-retry"
	EnrollRetryScan        = "enroll-retry-scan"
	EnrollDisconnected     = "enroll-disconnected"
	EnrollDataFull         = "enroll-data-full"
	EnrollUnknownError     = "enroll-unknown-error"
)

// retryableVerify and retryableEnroll are the "retry-class" statuses (§4.5,
// glossary): the driver's own completion indicating the scan should simply
// be re-issued, not reported to the client as a failure.
var retryableVerify = map[string]bool{
	VerifySwipeTooShort:     true,
	VerifyFingerNotCentered: true,
	VerifyRemoveAndRetry:    true,
	VerifyRetryScan:         true,
}

var retryableEnroll = map[string]bool{
	EnrollSwipeTooShort:     true,
	EnrollFingerNotCentered: true,
	EnrollRemoveAndRetry:    true,
	EnrollRetryScan:         true,
}

// IsRetryableVerifyStatus reports whether status is a retry-class verify
// outcome that should restart the same call rather than surface to clients.
func IsRetryableVerifyStatus(status string) bool { return retryableVerify[status] }

// IsRetryableEnrollStatus reports whether status is a retry-class enroll
// outcome that should restart the same call rather than surface to clients.
func IsRetryableEnrollStatus(status string) bool { return retryableEnroll[status] }
