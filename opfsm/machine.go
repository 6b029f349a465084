package opfsm

import (
	"context"
	"sync"
	"time"

	"github.com/fprintd-go/fprintd"
)

// State is one of the seven operation states of §4.5.
type State int

const (
	StateNone State = iota
	StateOpen
	StateClose
	StateEnroll
	StateVerify
	StateIdentify
	StateDelete
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateOpen:
		return "open"
	case StateClose:
		return "close"
	case StateEnroll:
		return "enroll"
	case StateVerify:
		return "verify"
	case StateIdentify:
		return "identify"
	case StateDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// collapseForStop implements "Verify/Identify collapse for stop purposes
// into Verify" (§4.5 Stop rule).
func collapseForStop(s State) State {
	if s == StateIdentify {
		return StateVerify
	}
	return s
}

// VerifyStopGrace is the bounded wait (§4.5 "Verify-stop grace period")
// a Stop gives the driver to deliver its own terminal completion after a
// terminal status has already been reported to the client.
const VerifyStopGrace = time.Second

// Event is one progress/status notification emitted during an operation
// (§6 signals: VerifyStatus, VerifyFingerSelected, EnrollStatus).
type Event struct {
	Kind   string // "verify-status" | "verify-finger-selected" | "enroll-status"
	Status string
	Done   bool
	Finger fprintd.Finger
	// RunID correlates every Event from one Start invocation back to a
	// single run (§3 "Run identifier"), stamped by Context.emit from
	// Context.RunID when the caller hasn't already set it.
	RunID string
}

// Emitter delivers Events to whatever is listening (Device Session wires
// this to D-Bus signal emission and the audit journal).
type Emitter func(Event)

type stopRequest struct {
	done chan struct{}
}

// Machine is the per-device operation state machine. One Machine
// instance is owned by exactly one Device Session; nothing here is
// concurrency-safe across devices, only within one (mirroring §5's
// single-threaded-per-device model, expressed as one goroutine per
// in-flight operation guarded by the mutex below rather than a literal
// single OS thread).
type Machine struct {
	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	stopPending *stopRequest
	doneCh      chan struct{}
}

func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current operation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start enforces the Start rule (§4.5: a new operation may be started
// only from None) and, if it succeeds, runs work in its own goroutine
// with a cancellable context, returning to None when work returns.
func (m *Machine) Start(kind State, work func(ctx context.Context)) error {
	m.mu.Lock()
	if m.state != StateNone {
		m.mu.Unlock()
		return fprintd.NewError(fprintd.KindAlreadyInUse, "Machine.Start", nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.state = kind
	m.cancel = cancel
	m.stopPending = nil
	done := make(chan struct{})
	m.doneCh = done
	m.mu.Unlock()

	go func() {
		work(ctx)
		m.finish()
		close(done)
	}()
	return nil
}

// RunExclusive enforces the same Start rule as Start (only from None) but
// runs work synchronously on the caller's goroutine and returns its error
// directly, for protocols that complete in one step rather than reporting
// terminal status via signal (§4.5 "Delete protocol").
func (m *Machine) RunExclusive(kind State, work func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.state != StateNone {
		m.mu.Unlock()
		return fprintd.NewError(fprintd.KindAlreadyInUse, "Machine.RunExclusive", nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.state = kind
	m.cancel = cancel
	m.mu.Unlock()

	err := work(ctx)

	m.mu.Lock()
	m.state = StateNone
	m.cancel = nil
	pending := m.stopPending
	m.stopPending = nil
	m.mu.Unlock()
	if pending != nil {
		close(pending.done)
	}
	return err
}

func (m *Machine) finish() {
	m.mu.Lock()
	m.state = StateNone
	m.cancel = nil
	pending := m.stopPending
	m.stopPending = nil
	m.mu.Unlock()
	if pending != nil {
		close(pending.done)
	}
}

// Stop enforces the Stop rule (§4.5): succeeds only if the current state
// matches kind (collapsing Identify into Verify), and no prior stop is
// pending. terminalAlreadyReported selects the grace-period behaviour
// (§4.5 "Verify-stop grace period"): when true, the cancellation is
// delayed up to VerifyStopGrace to give the driver a chance to deliver
// its native completion first.
func (m *Machine) Stop(kind State, terminalAlreadyReported bool) error {
	m.mu.Lock()
	if m.state == StateNone {
		m.mu.Unlock()
		return fprintd.NewError(fprintd.KindNoActionInProgress, "Machine.Stop", nil)
	}
	if collapseForStop(m.state) != collapseForStop(kind) {
		m.mu.Unlock()
		return fprintd.NewError(fprintd.KindAlreadyInUse, "Machine.Stop", nil)
	}
	if m.stopPending != nil {
		m.mu.Unlock()
		return fprintd.NewError(fprintd.KindAlreadyInUse, "Machine.Stop", nil)
	}
	pending := &stopRequest{done: make(chan struct{})}
	m.stopPending = pending
	cancel := m.cancel
	m.mu.Unlock()

	if terminalAlreadyReported {
		select {
		case <-pending.done:
			return nil
		case <-time.After(VerifyStopGrace):
		}
	}
	cancel()
	<-pending.done
	return nil
}

// Wait blocks until the machine returns to None, used by the Claim
// Registry's vanish path (§4.4: "wait for the state machine to reach
// None").
func (m *Machine) Wait() {
	m.mu.Lock()
	done := m.doneCh
	state := m.state
	m.mu.Unlock()
	if state == StateNone || done == nil {
		return
	}
	<-done
}
