// Package audit implements the append-only operation journal
// named in SPEC_FULL.md §3 ("Operation record") and §2's ambient
// component table: every terminal Operation State Machine transition is
// recorded here for the monitor CLI and postmortem debugging. It is
// purely observational - SPEC_FULL.md §3 is explicit that it is "never
// consulted for authorization or state-machine decisions", keeping the
// "no operation state across restarts" Non-goal intact even though the
// journal itself does persist.
//
// Grounded on database/schema.go's versioned-migration convention, with
// go.etcd.io/bbolt standing in for modernc.org/sqlite: a single
// long-lived bucket keyed by the ULID run identifier (SPEC_FULL.md §3),
// which sorts lexicographically the same way the rows would sort by
// created_at in the teacher's schema.
package audit

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

var operationsBucket = []byte("operations")

// Record is one completed operation's audit trail (SPEC_FULL.md §3
// "Operation record").
type Record struct {
	RunID     string    `json:"run_id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	CallerID  string    `json:"caller_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   string    `json:"outcome"`
}

// Journal is a bbolt-backed append-only log of Records.
type Journal struct {
	db *bbolt.DB
}

// Open creates or opens the journal file at path, creating the
// operations bucket if absent.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(operationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database file.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one completed operation, keyed by its run identifier so
// entries stay ordered by start time without a separate index.
func (j *Journal) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(operationsBucket)
		return b.Put([]byte(rec.RunID), data)
	})
}

// Recent returns up to n most recently started records, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(operationsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// ForDevice returns up to n most recent records for deviceID, newest
// first, used by the monitor CLI's per-device history view.
func (j *Journal) ForDevice(deviceID string, n int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(operationsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.DeviceID == deviceID {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}
