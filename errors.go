package fprintd

import "fmt"

// Kind is the stable error vocabulary surfaced to clients over the bus.
// Unlike the teacher's per-condition struct types (DeviceExistsError,
// PoolFullError, ...), this domain needs one closed, wire-stable set of
// kinds rather than ad hoc structured payloads, so a single typed string
// carries the vocabulary and Error wraps it with the operation and cause.
type Kind string

const (
	KindClaimDevice              Kind = "claim-device"
	KindAlreadyInUse             Kind = "already-in-use"
	KindInternal                 Kind = "internal"
	KindPermissionDenied         Kind = "permission-denied"
	KindNoEnrolledPrints         Kind = "no-enrolled-prints"
	KindFingerAlreadyEnrolled    Kind = "finger-already-enrolled"
	KindNoActionInProgress       Kind = "no-action-in-progress"
	KindInvalidFingerName        Kind = "invalid-fingername"
	KindNoSuchDevice             Kind = "no-such-device"
	KindPrintsNotDeleted         Kind = "prints-not-deleted"
	KindPrintsNotDeletedOnDevice Kind = "prints-not-deleted-from-device"
)

// Error is the single error type produced by every component in this
// module. Op names the failing operation (e.g. "Store.Load",
// "Session.VerifyStart") the way devicemapper's errors carry a DeviceID;
// Cause is the underlying error, if any, and is reachable via Unwrap.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &Error{Kind: KindX}) match on Kind alone,
// regardless of Op/Cause, the same loose-match convenience the teacher's
// Is*Error helpers provide as package functions.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs an Error, the single constructor every component
// should use instead of ad hoc fmt.Errorf so the Kind vocabulary stays
// closed and clients get a stable error surface.
func NewError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}
