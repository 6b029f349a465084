// Package session is the Device Session composition facade (SPEC_FULL.md
// §4.6): it wires one device's Policy Gate, Claim Registry, capability
// adapter and operation state machine together, gates every call through
// authorization before dispatch, tracks the watched-client set used to
// compute the busy property, and publishes progress/status events to
// subscribers - the same Subscribe/notify shape as tui/callback.go's
// ProgressTracker, applied to verify/enroll signals instead of download
// progress.
package session

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/claim"
	"github.com/fprintd-go/fprintd/metrics"
	"github.com/fprintd-go/fprintd/opfsm"
	"github.com/fprintd-go/fprintd/policy"
	"github.com/fprintd-go/fprintd/store"
)

var tracer = otel.Tracer("github.com/fprintd-go/fprintd/session")

// EventCallback receives every opfsm.Event dispatched for this session,
// the Device Session's signal-emission point (busapi.PublishDevice
// subscribes one via Subscribe; the audit journal is fed separately
// through SetAuditSink).
type EventCallback func(Event)

// Event is one opfsm.Event annotated with the device it came from, the
// shape busapi needs to pick the right object path to emit a signal on.
type Event struct {
	DeviceID string
	opfsm.Event
}

// AuditRecord is one completed operation's audit trail, shaped like
// audit.Record without importing the audit package directly - the
// Manager adapts this into an audit.Record at the journal's Append
// call site, keeping Session ignorant of the persistence choice.
type AuditRecord struct {
	RunID     string
	DeviceID  string
	Kind      string
	CallerID  string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   string
}

// AuditSink receives one AuditRecord per completed Start-class or Delete
// operation (§3 "Operation record"). Wired by the Manager at session
// construction time.
type AuditSink func(AuditRecord)

type pendingAudit struct {
	kind      string
	callerID  string
	startedAt time.Time
}

// Session is one Device Session: one physical reader, one claim slot,
// one operation state machine.
type Session struct {
	device     fprintd.Device
	capability capability.Device
	store      store.Store
	gate       *policy.Gate
	claims     *claim.Registry
	machine    *opfsm.Machine

	mu        sync.Mutex
	callbacks []EventCallback
	watched   map[string]bool // callerIDs currently watching this device
	log       logrus.FieldLogger

	auditSink AuditSink
	pending   map[string]pendingAudit // runID -> in-flight Start-class call

	propCallbacks []PropertyCallback
	fingerPresent bool
	fingerNeeded  bool
	temp          fprintd.Temperature
}

// Properties is the live, independently-observable device attribute set
// (§4.6, §6 "Device properties") that changes outside of any dispatched
// call - fed by the capability adapter's change-notification channel
// rather than by a client request.
type Properties struct {
	FingerPresent bool
	FingerNeeded  bool
	Busy          bool
}

// PropertyCallback receives the updated Properties snapshot every time the
// capability adapter reports a change (busapi uses this to emit
// org.freedesktop.DBus.Properties.PropertiesChanged).
type PropertyCallback func(Properties)

// New constructs a Device Session. The capability.Device must already be
// Open; the Session does not manage the open/close lifecycle, the
// Manager does (§4.7), since Open/Close span hotplug rather than claim
// lifetime.
func New(dev capability.Device, st store.Store, gate *policy.Gate) *Session {
	desc := dev.Describe()
	return &Session{
		device:     desc,
		capability: dev,
		store:      st,
		gate:       gate,
		claims:     claim.NewRegistry(),
		machine:    opfsm.NewMachine(),
		watched:    make(map[string]bool),
		pending:    make(map[string]pendingAudit),
		log:        logrus.WithFields(logrus.Fields{"component": "session", "device": desc.ID}),
	}
}

// WatchChanges drains the capability adapter's change-notification channel
// for the lifetime of the process, updating the cached Properties and
// notifying subscribers (§4.6: "subscribes to capability change
// notifications"). The Manager starts this once per registered device; it
// is not started automatically by New so tests that never touch
// properties don't pay for an extra goroutine.
func (s *Session) WatchChanges() {
	for change := range s.capability.Changes() {
		s.applyChange(change)
	}
}

func (s *Session) applyChange(change capability.PropertyChange) {
	s.mu.Lock()
	if change.FingerPresent != nil {
		s.fingerPresent = *change.FingerPresent
	}
	if change.FingerNeeded != nil {
		s.fingerNeeded = *change.FingerNeeded
	}
	if change.Temperature != nil {
		s.temp = *change.Temperature
	}
	props := Properties{
		FingerPresent: s.fingerPresent,
		FingerNeeded:  s.fingerNeeded,
		Busy:          len(s.watched) > 0 || s.temp != fprintd.TemperatureCold,
	}
	cbs := append([]PropertyCallback(nil), s.propCallbacks...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(props)
	}
}

// SubscribeProperties registers fn to receive every Properties update
// produced by WatchChanges.
func (s *Session) SubscribeProperties(fn PropertyCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propCallbacks = append(s.propCallbacks, fn)
}

// Properties returns the current cached property snapshot.
func (s *Session) Properties() Properties {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Properties{
		FingerPresent: s.fingerPresent,
		FingerNeeded:  s.fingerNeeded,
		Busy:          len(s.watched) > 0 || s.temp != fprintd.TemperatureCold,
	}
}

// Subscribe registers fn to receive every Event this session emits.
func (s *Session) Subscribe(fn EventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// SetAuditSink installs the callback that receives one AuditRecord per
// completed Start-class or Delete operation. Must be called before the
// session handles its first request; it is not safe to change concurrently
// with dispatch.
func (s *Session) SetAuditSink(sink AuditSink) {
	s.auditSink = sink
}

func (s *Session) emit(ev opfsm.Event) {
	s.mu.Lock()
	cbs := append([]EventCallback(nil), s.callbacks...)
	s.mu.Unlock()
	wrapped := Event{DeviceID: s.device.ID, Event: ev}
	for _, cb := range cbs {
		cb(wrapped)
	}
	if ev.Done {
		s.completeAudit(ev.RunID, ev.Status)
	}
}

// beginAudit records the start of a Start-class or Delete call keyed by
// its run identifier, so the eventual terminal event (or, for the
// synchronous Delete protocol, the direct call to finishAuditSync) can be
// turned into one AuditRecord without threading caller/timing state
// through opfsm.
func (s *Session) beginAudit(runID, kind, callerID string) {
	if s.auditSink == nil || runID == "" {
		return
	}
	s.mu.Lock()
	s.pending[runID] = pendingAudit{kind: kind, callerID: callerID, startedAt: time.Now()}
	s.mu.Unlock()
}

// completeAudit is invoked from emit on every terminal (Done) Event and
// turns the matching pending entry into an AuditRecord.
func (s *Session) completeAudit(runID, outcome string) {
	if s.auditSink == nil || runID == "" {
		return
	}
	s.mu.Lock()
	entry, ok := s.pending[runID]
	if ok {
		delete(s.pending, runID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.auditSink(AuditRecord{
		RunID:     runID,
		DeviceID:  s.device.ID,
		Kind:      entry.kind,
		CallerID:  entry.callerID,
		StartedAt: entry.startedAt,
		EndedAt:   time.Now(),
		Outcome:   outcome,
	})
}

// finishAuditSync records an AuditRecord directly for operations that
// complete synchronously and never emit a terminal Event (the Delete
// protocol's RunExclusive dispatch).
func (s *Session) finishAuditSync(runID, kind string, err error) {
	if s.auditSink == nil || runID == "" {
		return
	}
	s.mu.Lock()
	entry, ok := s.pending[runID]
	if ok {
		delete(s.pending, runID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.auditSink(AuditRecord{
		RunID:     runID,
		DeviceID:  s.device.ID,
		Kind:      kind,
		CallerID:  entry.callerID,
		StartedAt: entry.startedAt,
		EndedAt:   time.Now(),
		Outcome:   outcomeLabel(err),
	})
}

// Describe returns the device's static description.
func (s *Session) Describe() fprintd.Device { return s.device }

// Snapshot is a read-only view of one Session's live state, used by the
// monitor side-channel (§6 "Monitor/admin side-channel") - it is never
// consulted for authorization or state-machine decisions, only reported.
type Snapshot struct {
	ClaimOwner     string
	Claimed        bool
	OperationState string
	Properties     Properties
}

// Snapshot returns the current claim owner, operation state, and cached
// properties for reporting over the admin socket.
func (s *Session) Snapshot() Snapshot {
	claimed := s.claims.Get()
	snap := Snapshot{
		OperationState: s.machine.State().String(),
		Properties:     s.Properties(),
	}
	if claimed != nil {
		snap.Claimed = true
		snap.ClaimOwner = claimed.CallerID
	}
	return snap
}

// Suspend and Resume delegate to the underlying capability device,
// letting Session satisfy suspend.Device directly so the Suspend
// Coordinator can drive devices without knowing about sessions at all.
func (s *Session) Suspend(ctx context.Context) error { return s.capability.Suspend(ctx) }
func (s *Session) Resume(ctx context.Context) error  { return s.capability.Resume(ctx) }

// Watch and Unwatch track the set of clients observing this device,
// which feeds Busy (§4.6).
func (s *Session) Watch(callerID string) {
	s.mu.Lock()
	s.watched[callerID] = true
	s.mu.Unlock()
	s.notifyProperties()
}

func (s *Session) Unwatch(callerID string) {
	s.mu.Lock()
	delete(s.watched, callerID)
	s.mu.Unlock()
	s.notifyProperties()
}

func (s *Session) notifyProperties() {
	s.mu.Lock()
	props := Properties{
		FingerPresent: s.fingerPresent,
		FingerNeeded:  s.fingerNeeded,
		Busy:          len(s.watched) > 0 || s.temp != fprintd.TemperatureCold,
	}
	cbs := append([]PropertyCallback(nil), s.propCallbacks...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(props)
	}
}

// Busy reports true iff any client is watching this device, or the
// device's last reported temperature is above cold (§4.6).
func (s *Session) Busy(temp fprintd.Temperature) bool {
	s.mu.Lock()
	n := len(s.watched)
	s.mu.Unlock()
	return n > 0 || temp != fprintd.TemperatureCold
}

// opCtx builds the opfsm.Context for one dispatch, wiring this call's
// emit through both the session's subscribers and the metrics package.
// RunID is minted fresh per Start-class call (§3 "Run identifier") so a
// client or operator can correlate the burst of status events and the
// eventual audit record back to one invocation.
func (s *Session) opCtx() *opfsm.Context {
	return &opfsm.Context{
		Machine:    s.machine,
		Capability: s.capability,
		Store:      s.store,
		Device:     s.device,
		Emit:       s.emit,
		RunID:      ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
	}
}

// dispatch wraps op in an OpenTelemetry span and the operation/duration
// metrics, per §4.6 "Observability wiring".
func (s *Session) dispatch(ctx context.Context, op policy.Operation, callerID string, fn func() error) error {
	ctx, span := tracer.Start(ctx, string(op), trace.WithAttributes(
		attribute.String("device", s.device.ID),
		attribute.String("caller", callerID),
	))
	defer span.End()

	start := time.Now()
	err := fn()
	metrics.ObserveOperation(string(op), outcomeLabel(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		s.log.WithFields(logrus.Fields{"op": op, "caller": callerID, "err": err}).Warn("operation failed")
	}
	return err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Claim implements the Claim call (§3/§4.4): authorize, then install the
// claim-registry session for callerID acting as actingUser.
func (s *Session) Claim(ctx context.Context, callerID, requestedUser, callerOSUser string) error {
	return s.dispatch(ctx, policy.OpClaim, callerID, func() error {
		if err := s.claims.Check(callerID, claim.CheckUnclaimed); err != nil {
			return err
		}
		actingUser, err := s.gate.ResolveActingUser(callerID, callerOSUser, requestedUser)
		if err != nil {
			return err
		}
		if err := s.gate.Authorize(callerID, actingUser, policy.OpClaim); err != nil {
			return err
		}
		_, err = s.claims.Claim(callerID, actingUser)
		if err == nil {
			s.Watch(callerID)
		}
		return err
	})
}

// Release implements Release (§4.4): any caller owning the claim may
// release it unconditionally.
func (s *Session) Release(ctx context.Context, callerID string) error {
	return s.dispatch(ctx, policy.OpRelease, callerID, func() error {
		if err := s.claims.Check(callerID, claim.CheckClaimed); err != nil {
			return err
		}
		s.claims.Release()
		s.Unwatch(callerID)
		return nil
	})
}

// EnrollStart implements EnrollStart (§4.5/§4.2).
func (s *Session) EnrollStart(ctx context.Context, callerID string, finger fprintd.Finger) error {
	return s.dispatch(ctx, policy.OpEnrollStart, callerID, func() error {
		claimed, err := s.authorizedSession(callerID, policy.OpEnrollStart)
		if err != nil {
			return err
		}
		oc := s.opCtx()
		s.beginAudit(oc.RunID, "enroll", callerID)
		oc.Session = claimed
		return oc.EnrollStart(finger, claimed.ActingUser)
	})
}

// EnrollStop implements EnrollStop (§4.5 Stop rule).
func (s *Session) EnrollStop(ctx context.Context, callerID string) error {
	return s.dispatch(ctx, policy.OpEnrollStop, callerID, func() error {
		if _, err := s.authorizedSession(callerID, policy.OpEnrollStop); err != nil {
			return err
		}
		return s.machine.Stop(opfsm.StateEnroll, false)
	})
}

// VerifyStart implements VerifyStart (§4.5/§4.2).
func (s *Session) VerifyStart(ctx context.Context, callerID string, finger fprintd.Finger) error {
	return s.dispatch(ctx, policy.OpVerifyStart, callerID, func() error {
		claimed, err := s.authorizedSession(callerID, policy.OpVerifyStart)
		if err != nil {
			return err
		}
		oc := s.opCtx()
		s.beginAudit(oc.RunID, "verify", callerID)
		oc.Session = claimed
		return oc.VerifyStart(finger, claimed.ActingUser)
	})
}

// VerifyStop implements VerifyStop (§4.5 Stop rule, verify-stop grace
// period gated by whether a terminal status was already reported).
func (s *Session) VerifyStop(ctx context.Context, callerID string) error {
	return s.dispatch(ctx, policy.OpVerifyStop, callerID, func() error {
		claimed, err := s.authorizedSession(callerID, policy.OpVerifyStop)
		if err != nil {
			return err
		}
		return s.machine.Stop(opfsm.StateVerify, claimed.TerminalReported())
	})
}

// ListEnrolledFingers implements ListEnrolledFingers (§4.1/§4.2).
func (s *Session) ListEnrolledFingers(ctx context.Context, callerID, requestedUser, callerOSUser string) ([]fprintd.Finger, error) {
	var out []fprintd.Finger
	err := s.dispatch(ctx, policy.OpListEnrolledFingers, callerID, func() error {
		if err := s.claims.Check(callerID, claim.CheckAnytime); err != nil {
			return err
		}
		actingUser, err := s.gate.ResolveActingUser(callerID, callerOSUser, requestedUser)
		if err != nil {
			return err
		}
		if err := s.gate.Authorize(callerID, actingUser, policy.OpListEnrolledFingers); err != nil {
			return err
		}
		fingers, err := s.store.DiscoverPrints(s.device.Driver, s.device.ID, actingUser)
		if err != nil {
			return err
		}
		if len(fingers) == 0 {
			return fprintd.NewError(fprintd.KindNoEnrolledPrints, "ListEnrolledFingers", nil)
		}
		out = fingers
		return nil
	})
	return out, err
}

// DeleteEnrolledFinger implements DeleteEnrolledFinger (§4.5 Delete
// protocol, single named finger).
func (s *Session) DeleteEnrolledFinger(ctx context.Context, callerID string, finger fprintd.Finger) error {
	return s.dispatch(ctx, policy.OpDeleteEnrolledFinger, callerID, func() error {
		claimed, err := s.authorizedSession(callerID, policy.OpDeleteEnrolledFinger)
		if err != nil {
			return err
		}
		oc := s.opCtx()
		s.beginAudit(oc.RunID, "delete", callerID)
		oc.Session = claimed
		err = oc.DeleteFinger(finger, claimed.ActingUser)
		s.finishAuditSync(oc.RunID, "delete", err)
		return err
	})
}

// DeleteEnrolledFingers2 implements DeleteEnrolledFingers2 (every finger
// for the claim's own acting user).
func (s *Session) DeleteEnrolledFingers2(ctx context.Context, callerID string) error {
	return s.dispatch(ctx, policy.OpDeleteEnrolledFingers2, callerID, func() error {
		claimed, err := s.authorizedSession(callerID, policy.OpDeleteEnrolledFingers2)
		if err != nil {
			return err
		}
		oc := s.opCtx()
		s.beginAudit(oc.RunID, "delete", callerID)
		oc.Session = claimed
		err = oc.DeleteFinger(fprintd.FingerUnknown, claimed.ActingUser)
		s.finishAuditSync(oc.RunID, "delete", err)
		return err
	})
}

// DeleteEnrolledFingers implements the legacy form that takes an explicit
// username and therefore resolves acting-user itself rather than trusting
// the claim's.
func (s *Session) DeleteEnrolledFingers(ctx context.Context, callerID, requestedUser, callerOSUser string) error {
	return s.dispatch(ctx, policy.OpDeleteEnrolledFingers, callerID, func() error {
		if err := s.claims.Check(callerID, claim.CheckClaimed); err != nil {
			return err
		}
		actingUser, err := s.gate.ResolveActingUser(callerID, callerOSUser, requestedUser)
		if err != nil {
			return err
		}
		if err := s.gate.Authorize(callerID, actingUser, policy.OpDeleteEnrolledFingers); err != nil {
			return err
		}
		claimed := s.claims.Get()
		oc := s.opCtx()
		s.beginAudit(oc.RunID, "delete", callerID)
		oc.Session = claimed
		err = oc.DeleteFinger(fprintd.FingerUnknown, actingUser)
		s.finishAuditSync(oc.RunID, "delete", err)
		return err
	})
}

// authorizedSession implements the evaluation order of §4.2 shared by
// every claim-scoped operation: claim check, then authorize against the
// claim's own acting user (ResolvesActingUser is false for all of
// these - they act on whoever holds the claim, not an explicit target).
func (s *Session) authorizedSession(callerID string, op policy.Operation) (*claim.Session, error) {
	if err := s.claims.Check(callerID, claim.CheckClaimed); err != nil {
		return nil, err
	}
	claimed := s.claims.Get()
	if err := s.gate.Authorize(callerID, claimed.ActingUser, op); err != nil {
		return nil, err
	}
	if !claimed.TryBeginInvocation() {
		return nil, fprintd.NewError(fprintd.KindAlreadyInUse, string(op), nil)
	}
	defer claimed.EndInvocation()
	return claimed, nil
}

// HandleVanish runs the on-vanish sequence for callerID (§4.4): cancel
// the in-flight operation, wait for the machine to reach None, clear the
// claim slot.
func (s *Session) HandleVanish(callerID string) {
	s.claims.HandleVanish(func(claimed *claim.Session) {
		if claimed.CallerID != callerID {
			return
		}
		s.Unwatch(callerID)
		_ = s.machine.Stop(s.machine.State(), claimed.TerminalReported())
		s.machine.Wait()
	})
}

// DrainIdle waits for any operation currently in flight on this device to
// reach None, without regard to which caller owns the claim - the
// Manager's idle-exit drain (§4.7 "Idle-exit redesign") needs every
// device quiesced, not just one caller's.
func (s *Session) DrainIdle() {
	if s.machine.State() != opfsm.StateNone {
		_ = s.machine.Stop(s.machine.State(), false)
	}
	s.machine.Wait()
}
