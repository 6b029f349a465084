package busapi

import (
	"errors"
	"testing"

	"github.com/fprintd-go/fprintd"
)

func TestToDBusErrorMapsKindToStableErrorName(t *testing.T) {
	cases := []struct {
		kind fprintd.Kind
		want string
	}{
		{fprintd.KindClaimDevice, "net.reactivated.Fprint.Error.ClaimDevice"},
		{fprintd.KindAlreadyInUse, "net.reactivated.Fprint.Error.AlreadyInUse"},
		{fprintd.KindNoEnrolledPrints, "net.reactivated.Fprint.Error.NoEnrolledPrints"},
		{fprintd.KindInvalidFingerName, "net.reactivated.Fprint.Error.InvalidFingername"},
		{fprintd.KindNoSuchDevice, "net.reactivated.Fprint.Error.NoSuchDevice"},
		{fprintd.KindPrintsNotDeletedOnDevice, "net.reactivated.Fprint.Error.PrintsNotDeletedFromDevice"},
	}
	for _, c := range cases {
		err := fprintd.NewError(c.kind, "Op", nil)
		got := toDBusError(err)
		if got.Name != c.want {
			t.Errorf("kind %q: got %q, want %q", c.kind, got.Name, c.want)
		}
	}
}

func TestToDBusErrorWrapsNonFprintdErrorAsInternal(t *testing.T) {
	got := toDBusError(errors.New("boom"))
	if got.Name != "net.reactivated.Fprint.Error.Internal" {
		t.Fatalf("expected Internal, got %q", got.Name)
	}
}

func TestToDBusErrorUnwrapsThroughWrappedCause(t *testing.T) {
	inner := fprintd.NewError(fprintd.KindPermissionDenied, "Gate.Authorize", nil)
	got := toDBusError(&wrapped{inner})
	if got.Name != "net.reactivated.Fprint.Error.PermissionDenied" {
		t.Fatalf("expected PermissionDenied through errors.As, got %q", got.Name)
	}
}

type wrapped struct{ cause error }

func (w *wrapped) Error() string { return "wrapped: " + w.cause.Error() }
func (w *wrapped) Unwrap() error { return w.cause }
