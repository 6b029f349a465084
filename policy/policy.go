// Package policy maps each client operation to its required permission
// tags and resolves the "acting user" an operation targets, per
// SPEC_FULL.md §4.2. The permission-decision itself is delegated to a
// narrow Backend interface, the same opaque-adapter shape the teacher
// uses for devicemapper/safeguards health checks: this package owns the
// table and the evaluation order, not the trust decision.
package policy

import (
	"fmt"
	"os/user"

	"github.com/fprintd-go/fprintd"
)

// Permission is one of the three action tags named verbatim in §6.
type Permission string

const (
	PermissionVerify      Permission = "net.reactivated.fprint.device.verify"
	PermissionEnroll      Permission = "net.reactivated.fprint.device.enroll"
	PermissionSetUsername Permission = "net.reactivated.fprint.device.setusername"
)

// Operation names the client-facing call being authorized.
type Operation string

const (
	OpClaim                  Operation = "Claim"
	OpRelease                Operation = "Release"
	OpEnrollStart            Operation = "EnrollStart"
	OpEnrollStop             Operation = "EnrollStop"
	OpVerifyStart            Operation = "VerifyStart"
	OpVerifyStop             Operation = "VerifyStop"
	OpListEnrolledFingers    Operation = "ListEnrolledFingers"
	OpDeleteEnrolledFinger   Operation = "DeleteEnrolledFinger"
	OpDeleteEnrolledFingers  Operation = "DeleteEnrolledFingers"  // legacy (takes a username)
	OpDeleteEnrolledFingers2 Operation = "DeleteEnrolledFingers2" // acts on the acting user only
)

// rule is one row of the table in §4.2.
type rule struct {
	required        []Permission
	resolvesAnyUser bool // true => takes a username and requires ResolveActingUser (Claim, ListEnrolledFingers, legacy DeleteEnrolledFingers)
}

var table = map[Operation]rule{
	OpClaim:                  {required: []Permission{PermissionVerify, PermissionEnroll}, resolvesAnyUser: true},
	OpRelease:                {},
	OpEnrollStart:            {required: []Permission{PermissionEnroll}},
	OpEnrollStop:             {required: []Permission{PermissionEnroll}},
	OpVerifyStart:            {required: []Permission{PermissionVerify}},
	OpVerifyStop:             {required: []Permission{PermissionVerify}},
	OpListEnrolledFingers:    {required: []Permission{PermissionVerify}, resolvesAnyUser: true},
	OpDeleteEnrolledFinger:   {required: []Permission{PermissionEnroll}},
	OpDeleteEnrolledFingers:  {required: []Permission{PermissionEnroll}, resolvesAnyUser: true},
	OpDeleteEnrolledFingers2: {required: []Permission{PermissionEnroll}},
}

// Backend is the opaque permission-decision collaborator (§1: "The
// authorization backend — opaque, queried through a policy decision
// interface"). A polkit-backed implementation would satisfy this same
// interface by shelling out to pkcheck.
type Backend interface {
	// Allowed reports whether caller is granted perm to act as actingUser.
	Allowed(callerID, actingUser string, perm Permission) (bool, error)
}

// Gate evaluates operations against the table above plus a Backend.
type Gate struct {
	backend Backend
}

func NewGate(backend Backend) *Gate {
	return &Gate{backend: backend}
}

// ResolveActingUser implements the acting-user resolution rule of §4.2: an
// empty requestedUser resolves to the caller's own OS username; a
// non-empty one additionally requires PermissionSetUsername.
func (g *Gate) ResolveActingUser(callerID, callerOSUser, requestedUser string) (string, error) {
	if requestedUser == "" {
		return callerOSUser, nil
	}
	if requestedUser == callerOSUser {
		return requestedUser, nil
	}
	allowed, err := g.backend.Allowed(callerID, requestedUser, PermissionSetUsername)
	if err != nil {
		return "", fprintd.NewError(fprintd.KindInternal, "Gate.ResolveActingUser", err)
	}
	if !allowed {
		return "", fprintd.NewError(fprintd.KindPermissionDenied, "Gate.ResolveActingUser",
			fmt.Errorf("caller %s may not act as %s", callerID, requestedUser))
	}
	return requestedUser, nil
}

// Authorize performs step (c) of the evaluation order in §4.2: a
// first-matching-grant check against every required permission tag. The
// claim check (a) and acting-user resolution (b) are the caller's
// responsibility (claim.Registry and ResolveActingUser above), evaluated
// before Authorize per the ordering rule.
func (g *Gate) Authorize(callerID, actingUser string, op Operation) error {
	r, ok := table[op]
	if !ok {
		return fprintd.NewError(fprintd.KindInternal, "Gate.Authorize", fmt.Errorf("unknown operation %q", op))
	}
	for _, perm := range r.required {
		allowed, err := g.backend.Allowed(callerID, actingUser, perm)
		if err != nil {
			return fprintd.NewError(fprintd.KindInternal, "Gate.Authorize", err)
		}
		if allowed {
			return nil
		}
	}
	if len(r.required) == 0 {
		return nil
	}
	return fprintd.NewError(fprintd.KindPermissionDenied, "Gate.Authorize",
		fmt.Errorf("operation %s denied for caller %s acting as %s", op, callerID, actingUser))
}

// ResolvesActingUser reports whether op requires acting-user resolution
// per the table in §4.2, so callers can skip that step for operations
// that don't need it (e.g. EnrollStart acts implicitly on the claim's
// already-resolved acting user).
func ResolvesActingUser(op Operation) bool {
	return table[op].resolvesAnyUser
}

// LocalBackend is a minimal Backend: every caller is granted verify and
// enroll permission whatever the acting user (acting as someone other
// than oneself is checked separately, through set-username in
// Gate.ResolveActingUser); set-username is denied
// unless the caller's OS user appears in the Admins allow-list. This
// plays the "simple local backend" role named in SPEC_FULL.md §4.2 - a
// polkit-shaped backend is an out-of-scope external collaborator, but the
// interface boundary is exactly here.
type LocalBackend struct {
	Admins map[string]bool
}

func NewLocalBackend(admins ...string) *LocalBackend {
	m := make(map[string]bool, len(admins))
	for _, a := range admins {
		m[a] = true
	}
	return &LocalBackend{Admins: m}
}

func (b *LocalBackend) Allowed(callerID, actingUser string, perm Permission) (bool, error) {
	switch perm {
	case PermissionVerify, PermissionEnroll:
		return true, nil
	case PermissionSetUsername:
		osUser, err := callerOSUsername(callerID)
		if err != nil {
			return false, nil
		}
		return b.Admins[osUser], nil
	default:
		return false, nil
	}
}

// callerOSUsername resolves callerID (treated as an OS username already,
// the shape a D-Bus credential lookup hands back) to a confirmed local
// account, rejecting anything os/user doesn't recognise.
func callerOSUsername(callerID string) (string, error) {
	u, err := user.Lookup(callerID)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
