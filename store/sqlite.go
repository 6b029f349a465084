package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fprintd-go/fprintd"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

func init() {
	Register("sqlite", func(cfg Config) (Store, error) {
		return NewSQLiteStore(cfg)
	})
}

// SQLiteStore is the pluggable alternative to FileStore named in §4.1 and
// §9 ("two concrete implementations"). It follows the teacher's
// database.New shape: WAL mode, pragma tuning and the same
// connection-pool defaults, with no migrations table - applied here to a one-table
// print schema instead of the teacher's images/unpacked_images/snapshots.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS prints (
    username   TEXT NOT NULL,
    driver     TEXT NOT NULL,
    device_id  TEXT NOT NULL,
    finger     INTEGER NOT NULL,
    enrolled_at INTEGER NOT NULL,
    template   BLOB NOT NULL,
    PRIMARY KEY (username, driver, device_id, finger)
);
CREATE INDEX IF NOT EXISTS idx_prints_device ON prints(driver, device_id);
CREATE INDEX IF NOT EXISTS idx_prints_username ON prints(username);
`

// NewSQLiteStore opens (creating if needed) a SQLite-backed print store at
// cfg.Path.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = defaultRoot() + "/fprintd.db"
	}
	return &SQLiteStore{path: path}, nil
}

func (s *SQLiteStore) Init() error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fprintd.NewError(fprintd.KindInternal, "SQLiteStore.Init", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return fprintd.NewError(fprintd.KindInternal, "SQLiteStore.Init", fmt.Errorf("pragma %q: %w", p, err))
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return fprintd.NewError(fprintd.KindInternal, "SQLiteStore.Init", err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Deinit() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Save(p fprintd.Print) error {
	const q = `INSERT INTO prints (username, driver, device_id, finger, enrolled_at, template)
	           VALUES (?, ?, ?, ?, ?, ?)
	           ON CONFLICT (username, driver, device_id, finger) DO UPDATE SET
	             enrolled_at = excluded.enrolled_at, template = excluded.template`
	_, err := s.db.Exec(q, p.Username, p.Driver, p.DeviceID, int(p.Finger), p.EnrolledAt.Unix(), p.Template)
	if err != nil {
		return fprintd.NewError(fprintd.KindInternal, "SQLiteStore.Save", err)
	}
	return nil
}

func (s *SQLiteStore) Load(driver, deviceID string, finger fprintd.Finger, username string) (fprintd.Print, error) {
	const q = `SELECT enrolled_at, template FROM prints WHERE username = ? AND driver = ? AND device_id = ? AND finger = ?`
	var enrolledAt int64
	var template []byte
	err := s.db.QueryRow(q, username, driver, deviceID, int(finger)).Scan(&enrolledAt, &template)
	if errors.Is(err, sql.ErrNoRows) {
		return fprintd.Print{}, fprintd.NewError(fprintd.KindNoEnrolledPrints, "SQLiteStore.Load", err)
	}
	if err != nil {
		return fprintd.Print{}, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.Load", err)
	}
	return fprintd.Print{
		Username: username, Finger: finger, Driver: driver, DeviceID: deviceID,
		EnrolledAt: time.Unix(enrolledAt, 0), Template: template,
	}, nil
}

func (s *SQLiteStore) Delete(driver, deviceID string, finger fprintd.Finger, username string) error {
	const q = `DELETE FROM prints WHERE username = ? AND driver = ? AND device_id = ? AND finger = ?`
	_, err := s.db.Exec(q, username, driver, deviceID, int(finger))
	if err != nil {
		return fprintd.NewError(fprintd.KindInternal, "SQLiteStore.Delete", err)
	}
	return nil
}

func (s *SQLiteStore) DiscoverPrints(driver, deviceID string, username string) ([]fprintd.Finger, error) {
	const q = `SELECT finger FROM prints WHERE username = ? AND driver = ? AND device_id = ?`
	rows, err := s.db.Query(q, username, driver, deviceID)
	if err != nil {
		return nil, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.DiscoverPrints", err)
	}
	defer rows.Close()
	var out []fprintd.Finger
	for rows.Next() {
		var f int
		if err := rows.Scan(&f); err != nil {
			return nil, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.DiscoverPrints", err)
		}
		out = append(out, fprintd.Finger(f))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DiscoverUsers() ([]string, error) {
	const q = `SELECT DISTINCT username FROM prints`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.DiscoverUsers", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.DiscoverUsers", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AllPrints() ([]fprintd.Print, error) {
	const q = `SELECT username, driver, device_id, finger, enrolled_at, template FROM prints`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.AllPrints", err)
	}
	defer rows.Close()
	var out []fprintd.Print
	for rows.Next() {
		var p fprintd.Print
		var finger int
		var enrolledAt int64
		if err := rows.Scan(&p.Username, &p.Driver, &p.DeviceID, &finger, &enrolledAt, &p.Template); err != nil {
			return nil, fprintd.NewError(fprintd.KindInternal, "SQLiteStore.AllPrints", err)
		}
		p.Finger = fprintd.Finger(finger)
		p.EnrolledAt = time.Unix(enrolledAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}
