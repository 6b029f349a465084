// Package claim tracks the single current owner of a device and watches
// that owner's liveness, per SPEC_FULL.md §4.4. The Session slot is
// guarded by compare-and-swap with a sentinel value so a reader never
// observes a partially replaced Session (§9 "Atomic pointer dance"),
// adapted from the single-flight semaphore-guard shape of
// safeguards.OperationGuard.
package claim

import (
	"sync"
	"sync/atomic"

	"github.com/fprintd-go/fprintd"
)

// CheckKind classifies how an invocation's claim requirement is enforced
// (§4.4).
type CheckKind int

const (
	CheckAnytime CheckKind = iota
	CheckAutoClaim
	CheckUnclaimed
	CheckClaimed
)

// Session is the per-claim soft state tracked by the registry (§3).
type Session struct {
	CallerID   string
	ActingUser string

	mu            sync.Mutex
	inFlight      bool // another invocation of this session is in flight
	terminalSet   bool // last verify/identify has already reported a terminal status
	reconcileDone bool // storage reconciliation has already run this session (§4.5)
}

// TryBeginInvocation marks the session busy for the duration of one
// invocation, returning false if another invocation is already running -
// the "another invocation of the same session is in flight" clause of
// CheckClaimed (§4.4).
func (s *Session) TryBeginInvocation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Session) EndInvocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

// MarkTerminalReported and TerminalReported implement the idempotence
// bookkeeping §4.5's match-reporting rule depends on: once a terminal
// verify/identify status has been reported, further match callbacks for
// the same session are dropped.
func (s *Session) MarkTerminalReported() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminalSet = true
}

func (s *Session) TerminalReported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalSet
}

// ResetTerminal clears the terminal-reported flag at the start of a new
// verify/identify Start.
func (s *Session) ResetTerminal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminalSet = false
}

// TryBeginReconcile reports true (and marks reconciliation as started) the
// first time it's called for this session, false on every subsequent
// call - the "runs at most once per session" rule for storage
// reconciliation (§4.5, testable property 9).
func (s *Session) TryBeginReconcile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconcileDone {
		return false
	}
	s.reconcileDone = true
	return true
}

// claimPending is the sentinel "busy" value guarding the slot during a
// swap, per §9: readers that observe it must retry rather than treat it
// as "no session".
var claimPending = &Session{CallerID: "\x00pending\x00"}

// Registry holds the claim slot for one device.
type Registry struct {
	slot atomic.Pointer[Session]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the current session, retrying past the pending sentinel so
// it never hands back a torn/in-progress value.
func (r *Registry) Get() *Session {
	for {
		s := r.slot.Load()
		if s != claimPending {
			return s
		}
	}
}

// Claim installs a new session if the slot is empty, failing
// KindAlreadyInUse otherwise (§4.4).
func (r *Registry) Claim(callerID, actingUser string) (*Session, error) {
	if !r.slot.CompareAndSwap(nil, claimPending) {
		return nil, fprintd.NewError(fprintd.KindAlreadyInUse, "Registry.Claim", nil)
	}
	s := &Session{CallerID: callerID, ActingUser: actingUser}
	r.slot.Store(s)
	return s, nil
}

// Release clears the slot unconditionally. Callers must already know the
// caller is entitled to release (checked via Check(..., CheckClaimed) or
// the vanish path).
func (r *Registry) Release() {
	r.slot.CompareAndSwap(claimPending, nil) // defensive: never leave the sentinel stuck
	r.slot.Store(nil)
}

// VanishFunc performs the "on vanish" sequence from §4.4: cancel the
// current Operation, wait for the state machine to reach None, close the
// device if still open, clear the slot. The registry does not know how
// to do any of that - it only knows when to trigger it - so the session
// package supplies this callback at construction time.
type VanishFunc func(s *Session)

// HandleVanish runs fn against the current session (if any) and then
// clears the slot. session.Session.HandleVanish is its caller; no
// transport in this repository watches bus-name ownership, so a claiming
// client's disconnect does not by itself trigger it.
func (r *Registry) HandleVanish(fn VanishFunc) {
	s := r.Get()
	if s == nil {
		return
	}
	if fn != nil {
		fn(s)
	}
	r.Release()
}

// Check enforces the claim requirement for an invocation per the four
// CheckKind rules in §4.4.
func (r *Registry) Check(callerID string, kind CheckKind) error {
	switch kind {
	case CheckAnytime:
		return nil
	case CheckAutoClaim:
		return nil
	case CheckUnclaimed:
		if r.Get() != nil {
			return fprintd.NewError(fprintd.KindAlreadyInUse, "Registry.Check", nil)
		}
		return nil
	case CheckClaimed:
		s := r.Get()
		if s == nil {
			return fprintd.NewError(fprintd.KindClaimDevice, "Registry.Check", nil)
		}
		if s.CallerID != callerID {
			return fprintd.NewError(fprintd.KindAlreadyInUse, "Registry.Check", nil)
		}
		return nil
	default:
		return fprintd.NewError(fprintd.KindInternal, "Registry.Check", nil)
	}
}
