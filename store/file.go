package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fprintd-go/fprintd"
	"github.com/sirupsen/logrus"
)

func init() {
	Register("file", func(cfg Config) (Store, error) {
		return NewFileStore(cfg), nil
	})
}

// FileStore is the default Print Store: one file per (user, driver,
// device-id, finger), laid out exactly as §6 specifies:
//
//	<root>/<username>/<driver>/<device-id>/<finger-hex>
//
// with directories created 0700. File contents are a gob-encoded
// fileRecord rather than a bare serialised template, so Load can validate
// the on-disk (finger, username) against the path before trusting it -
// the defence §4.1 and testable-property 6 require against a file that
// was moved, copied, or corrupted into the wrong slot.
type FileStore struct {
	root string
	log  logrus.FieldLogger
}

// fileRecord is what actually gets gob-encoded to disk. It duplicates the
// key fields encoded in the path so Load can reject a mismatch instead of
// trusting the filesystem path alone.
type fileRecord struct {
	Username   string
	Finger     fprintd.Finger
	Driver     string
	DeviceID   string
	EnrolledAt int64 // unix seconds, avoids time.Time gob-registration surprises
	Template   []byte
}

// NewFileStore constructs a FileStore rooted at cfg.Path (or the §6
// default/STATE_DIRECTORY resolution if empty).
func NewFileStore(cfg Config) *FileStore {
	root := cfg.Path
	if root == "" {
		root = defaultRoot()
	}
	return &FileStore{root: root, log: logrus.WithField("component", "store.file")}
}

func (s *FileStore) Init() error {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return fprintd.NewError(fprintd.KindInternal, "FileStore.Init", err)
	}
	return nil
}

func (s *FileStore) Deinit() error { return nil }

func (s *FileStore) userDir(username string) string {
	return filepath.Join(s.root, username)
}

func (s *FileStore) deviceDir(username, driver, deviceID string) string {
	return filepath.Join(s.userDir(username), driver, deviceID)
}

func (s *FileStore) printPath(username, driver, deviceID string, finger fprintd.Finger) string {
	return filepath.Join(s.deviceDir(username, driver, deviceID), finger.Hex())
}

func (s *FileStore) Save(p fprintd.Print) error {
	dir := s.deviceDir(p.Username, p.Driver, p.DeviceID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fprintd.NewError(fprintd.KindInternal, "FileStore.Save", err)
	}
	rec := fileRecord{
		Username:   p.Username,
		Finger:     p.Finger,
		Driver:     p.Driver,
		DeviceID:   p.DeviceID,
		EnrolledAt: p.EnrolledAt.Unix(),
		Template:   p.Template,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fprintd.NewError(fprintd.KindInternal, "FileStore.Save", err)
	}
	path := s.printPath(p.Username, p.Driver, p.DeviceID, p.Finger)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fprintd.NewError(fprintd.KindInternal, "FileStore.Save", err)
	}
	s.log.WithFields(logrus.Fields{"user": p.Username, "driver": p.Driver, "device": p.DeviceID, "finger": p.Finger}).Debug("print saved")
	return nil
}

func (s *FileStore) Load(driver, deviceID string, finger fprintd.Finger, username string) (fprintd.Print, error) {
	path := s.printPath(username, driver, deviceID, finger)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fprintd.Print{}, fprintd.NewError(fprintd.KindNoEnrolledPrints, "FileStore.Load", err)
		}
		return fprintd.Print{}, fprintd.NewError(fprintd.KindInternal, "FileStore.Load", err)
	}
	var rec fileRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return fprintd.Print{}, fprintd.NewError(fprintd.KindInternal, "FileStore.Load", err)
	}
	if rec.Finger != finger || rec.Username != username || rec.Driver != driver || rec.DeviceID != deviceID {
		return fprintd.Print{}, fprintd.NewError(fprintd.KindNoEnrolledPrints, "FileStore.Load",
			fmt.Errorf("stored record at %s does not match requested key", path))
	}
	return fprintd.Print{
		Username: rec.Username, Finger: rec.Finger, Driver: rec.Driver, DeviceID: rec.DeviceID,
		EnrolledAt: time.Unix(rec.EnrolledAt, 0),
		Template:   rec.Template,
	}, nil
}

func (s *FileStore) Delete(driver, deviceID string, finger fprintd.Finger, username string) error {
	path := s.printPath(username, driver, deviceID, finger)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fprintd.NewError(fprintd.KindInternal, "FileStore.Delete", err)
	}
	s.pruneEmptyParents(filepath.Dir(path), username)
	return nil
}

// pruneEmptyParents removes now-empty directories up to (but not above)
// the per-user root, per §4.1 ("prune any now-empty parent directories
// scoped to the user").
func (s *FileStore) pruneEmptyParents(dir, username string) {
	userRoot := s.userDir(username)
	for strings.HasPrefix(dir, userRoot) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		if dir == userRoot {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *FileStore) DiscoverPrints(driver, deviceID string, username string) ([]fprintd.Finger, error) {
	dir := s.deviceDir(username, driver, deviceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fprintd.NewError(fprintd.KindInternal, "FileStore.DiscoverPrints", err)
	}
	var out []fprintd.Finger
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, f := range fprintd.AllFingers() {
			if f.Hex() == e.Name() {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

func (s *FileStore) DiscoverUsers() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fprintd.NewError(fprintd.KindInternal, "FileStore.DiscoverUsers", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s *FileStore) AllPrints() ([]fprintd.Print, error) {
	var out []fprintd.Print
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // best-effort scan; a file vanishing mid-walk is not fatal
		}
		var rec fileRecord
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
			return nil // skip anything that isn't a print record
		}
		out = append(out, fprintd.Print{
			Username: rec.Username, Finger: rec.Finger, Driver: rec.Driver, DeviceID: rec.DeviceID,
			EnrolledAt: time.Unix(rec.EnrolledAt, 0),
			Template:   rec.Template,
		})
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fprintd.NewError(fprintd.KindInternal, "FileStore.AllPrints", err)
	}
	return out, nil
}
