package busapi

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/fprintd-go/fprintd"
)

// toDBusError translates a fprintd.Error's Kind into the matching
// net.reactivated.Fprint.Error.<Kind> D-Bus error name (§7 "Ambient error
// representation"), keeping the Kind vocabulary itself transport-agnostic.
// Errors that aren't a *fprintd.Error (should not happen in practice,
// since every component uses fprintd.NewError) map to a generic internal
// error rather than panicking the bus dispatch.
func toDBusError(err error) *dbus.Error {
	var fe *fprintd.Error
	if !errors.As(err, &fe) {
		return dbus.NewError("net.reactivated.Fprint.Error.Internal", []interface{}{err.Error()})
	}
	return dbus.NewError("net.reactivated.Fprint.Error."+kindErrorSuffix(fe.Kind), []interface{}{fe.Error()})
}

func kindErrorSuffix(kind fprintd.Kind) string {
	switch kind {
	case fprintd.KindClaimDevice:
		return "ClaimDevice"
	case fprintd.KindAlreadyInUse:
		return "AlreadyInUse"
	case fprintd.KindInternal:
		return "Internal"
	case fprintd.KindPermissionDenied:
		return "PermissionDenied"
	case fprintd.KindNoEnrolledPrints:
		return "NoEnrolledPrints"
	case fprintd.KindFingerAlreadyEnrolled:
		return "FingerAlreadyEnrolled"
	case fprintd.KindNoActionInProgress:
		return "NoActionInProgress"
	case fprintd.KindInvalidFingerName:
		return "InvalidFingername"
	case fprintd.KindNoSuchDevice:
		return "NoSuchDevice"
	case fprintd.KindPrintsNotDeleted:
		return "PrintsNotDeleted"
	case fprintd.KindPrintsNotDeletedOnDevice:
		return "PrintsNotDeletedFromDevice"
	default:
		return "Internal"
	}
}
