// Package manager implements the Manager component of SPEC_FULL.md §4.7:
// it enumerates devices, creates and publishes one session.Session per
// device under a stable object path, watches for hotplug add/remove, and
// arms an idle-exit countdown when no device is busy. Config/DefaultConfig
// and the daemon lock-file/signal-handling shape it expects from its
// caller follow cmd/flyio-image-manager/main.go's runDaemon.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/hashicorp/go-memdb"
	"github.com/sirupsen/logrus"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/metrics"
	"github.com/fprintd-go/fprintd/policy"
	"github.com/fprintd-go/fprintd/session"
	"github.com/fprintd-go/fprintd/store"
	"github.com/fprintd-go/fprintd/suspend"
)

// AuditSink receives one session.AuditRecord per completed Start-class or
// Delete operation on any registered device. Set on Manager before the
// first Register call; nil disables audit recording entirely.
type AuditSink func(session.AuditRecord)

// Config configures idle-exit behaviour (§4.7).
type Config struct {
	// IdleTimeout is how long every device must report not-busy before the
	// Manager begins draining. Zero (with NoTimeout unset) uses the
	// package default.
	IdleTimeout time.Duration
	// NoTimeout disables idle-exit entirely (the "--no-timeout" flag).
	NoTimeout bool
}

// DefaultConfig mirrors the real daemon's default idle window.
func DefaultConfig() Config {
	return Config{IdleTimeout: 5 * time.Minute}
}

// deviceEntry is one row of the memdb device index.
type deviceEntry struct {
	ID      string
	Path    string
	Session *session.Session
	Seq     int // monotonic insertion order, serves the "last device is default" rule
}

var deviceSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"device": {
			Name: "device",
			Indexes: map[string]*memdb.IndexSchema{
				"id":   {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				"path": {Name: "path", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Path"}},
				"seq":  {Name: "seq", Indexer: &memdb.IntFieldIndex{Field: "Seq"}},
			},
		},
	},
}

// Manager owns the live device table and the Claim->Session fan-out.
type Manager struct {
	cfg       Config
	gate      *policy.Gate
	store     store.Store
	suspendC  *suspend.Coordinator
	auditSink AuditSink
	log       logrus.FieldLogger

	db *memdb.MemDB

	mu       sync.Mutex
	nextSeq  int
	snapshot *immutable.Map[string, string] // device id -> object path, published to readers
	draining bool
	idleT    *time.Timer
}

// New constructs an empty Manager. suspendC may be nil (e.g. in tests
// that don't exercise suspend/resume); when set, every registered device
// is wired into its barrier automatically.
func New(cfg Config, gate *policy.Gate, st store.Store, suspendC *suspend.Coordinator) *Manager {
	db, err := memdb.NewMemDB(deviceSchema)
	if err != nil {
		panic(err) // schema is static and known-good at compile time
	}
	return &Manager{
		cfg:      cfg,
		gate:     gate,
		store:    st,
		suspendC: suspendC,
		log:      logrus.WithField("component", "manager"),
		db:       db,
		snapshot: immutable.NewMap[string, string](nil),
	}
}

// SetAuditSink installs the audit callback applied to every Session this
// Manager registers from this point on. Existing sessions already
// registered are not retroactively wired.
func (m *Manager) SetAuditSink(sink AuditSink) {
	m.auditSink = sink
}

// Register publishes a newly discovered device (§4.7: hotplug add) and
// mints its stable D-Bus object path, ".../Device/<monotonic-id>".
func (m *Manager) Register(dev capability.Device) *session.Session {
	desc := dev.Describe()
	sess := session.New(dev, m.store, m.gate)
	if m.auditSink != nil {
		sink := m.auditSink
		sess.SetAuditSink(func(rec session.AuditRecord) { sink(rec) })
	}
	go sess.WatchChanges()

	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	path := fmt.Sprintf("/net/reactivated/Fprint/Device/%d", seq)
	m.snapshot = m.snapshot.Set(desc.ID, path)
	m.mu.Unlock()

	txn := m.db.Txn(true)
	_ = txn.Insert("device", &deviceEntry{ID: desc.ID, Path: path, Session: sess, Seq: seq})
	txn.Commit()

	if m.suspendC != nil {
		m.suspendC.AddDevice(desc.ID, sess)
	}

	m.log.WithFields(logrus.Fields{"device": desc.ID, "path": path}).Info("device registered")
	return sess
}

// Unregister removes a device that has been unplugged (§4.7: hotplug
// remove).
func (m *Manager) Unregister(deviceID string) {
	txn := m.db.Txn(true)
	raw, err := txn.First("device", "id", deviceID)
	if err != nil || raw == nil {
		txn.Abort()
		return
	}
	_ = txn.Delete("device", raw)
	txn.Commit()

	m.mu.Lock()
	m.snapshot = m.snapshot.Delete(deviceID)
	m.mu.Unlock()

	if m.suspendC != nil {
		m.suspendC.RemoveDevice(deviceID)
	}

	m.log.WithField("device", deviceID).Info("device unregistered")
}

// GetDevices returns every published device id -> object path pair, read
// from the immutable snapshot so a concurrent hotplug mutation never
// produces a torn view (§4.7, §9 "Atomic pointer dance" applied to the
// whole device set).
func (m *Manager) GetDevices() map[string]string {
	m.mu.Lock()
	snap := m.snapshot
	m.mu.Unlock()

	out := make(map[string]string, snap.Len())
	itr := snap.Iterator()
	for !itr.Done() {
		id, path, _ := itr.Next()
		out[id] = path
	}
	return out
}

// GetDefaultDevice returns the most recently registered device's path,
// the "last device" rule (§4.7), served by the seq index rather than a
// linear scan.
func (m *Manager) GetDefaultDevice() (string, error) {
	txn := m.db.Txn(false)
	it, err := txn.GetReverse("device", "seq")
	if err != nil {
		return "", fprintd.NewError(fprintd.KindInternal, "Manager.GetDefaultDevice", err)
	}
	raw := it.Next()
	if raw == nil {
		return "", fprintd.NewError(fprintd.KindNoSuchDevice, "Manager.GetDefaultDevice", nil)
	}
	return raw.(*deviceEntry).Path, nil
}

// SessionFor looks up the Session for a device id.
func (m *Manager) SessionFor(deviceID string) (*session.Session, error) {
	txn := m.db.Txn(false)
	raw, err := txn.First("device", "id", deviceID)
	if err != nil {
		return nil, fprintd.NewError(fprintd.KindInternal, "Manager.SessionFor", err)
	}
	if raw == nil {
		return nil, fprintd.NewError(fprintd.KindNoSuchDevice, "Manager.SessionFor", nil)
	}
	return raw.(*deviceEntry).Session, nil
}

// Draining reports whether the Manager has begun its idle-exit drain
// (§4.7 "Idle-exit redesign"): new Claim/EnrollStart/VerifyStart calls
// must be rejected with already-in-use while draining.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// anyBusy reports whether any registered device currently reports busy.
func (m *Manager) anyBusy(tempOf func(deviceID string) fprintd.Temperature) bool {
	txn := m.db.Txn(false)
	it, err := txn.Get("device", "id")
	if err != nil {
		return false
	}
	n := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*deviceEntry)
		if e.Session.Busy(tempOf(e.ID)) {
			n++
		}
	}
	metrics.SetDevicesBusy(n)
	return n > 0
}

// Run arms the idle-exit timer (unless NoTimeout) and blocks until
// either ctx is cancelled or the idle countdown fires and drains to
// completion, returning nil on a clean drain-to-exit and ctx.Err() on
// external cancellation.
func (m *Manager) Run(ctx context.Context, tempOf func(deviceID string) fprintd.Temperature) error {
	if m.cfg.NoTimeout {
		<-ctx.Done()
		return ctx.Err()
	}
	timeout := m.cfg.IdleTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().IdleTimeout
	}
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	idleSince := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.anyBusy(tempOf) {
				idleSince = time.Time{}
				continue
			}
			if idleSince.IsZero() {
				idleSince = time.Now()
				continue
			}
			if time.Since(idleSince) >= timeout {
				return m.drain(ctx)
			}
		}
	}
}

// drain implements the idle-exit redesign (§4.7, REDESIGN FLAGS): refuse
// new claims, wait for every Session's operation to reach None, then
// return so the caller can exit(0).
func (m *Manager) drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()
	m.log.Info("idle timeout reached, draining before exit")

	txn := m.db.Txn(false)
	it, err := txn.Get("device", "id")
	if err != nil {
		return nil
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*deviceEntry)
		e.Session.DrainIdle()
	}
	return nil
}
