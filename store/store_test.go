package store

import (
	"testing"
	"time"

	"github.com/fprintd-go/fprintd"
)

func testPrint() fprintd.Print {
	return fprintd.Print{
		Username:   "alice",
		Finger:     fprintd.FingerRightIndex,
		Driver:     "simulated",
		DeviceID:   "dev0",
		EnrolledAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Template:   []byte("template-bytes"),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(Config{Path: t.TempDir()})
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Deinit()

	p := testPrint()
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(p.Driver, p.DeviceID, p.Finger, p.Username)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Username != p.Username || got.Finger != p.Finger || string(got.Template) != string(p.Template) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
	}

	fingers, err := s.DiscoverPrints(p.Driver, p.DeviceID, p.Username)
	if err != nil {
		t.Fatalf("DiscoverPrints: %v", err)
	}
	if len(fingers) != 1 || fingers[0] != p.Finger {
		t.Fatalf("DiscoverPrints = %v, want [%v]", fingers, p.Finger)
	}
}

func TestFileStoreRejectsMismatch(t *testing.T) {
	s := NewFileStore(Config{Path: t.TempDir()})
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Deinit()

	p := testPrint()
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Same path, different requested username: must not be returned as a match.
	if _, err := s.Load(p.Driver, p.DeviceID, p.Finger, "mallory"); err == nil {
		t.Fatal("expected error loading print under wrong username, got nil")
	}
}

func TestFileStorePrunesEmptyDirs(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(Config{Path: root})
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Deinit()

	p := testPrint()
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(p.Driver, p.DeviceID, p.Finger, p.Username); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	entries, err := s.DiscoverUsers()
	if err != nil {
		t.Fatalf("DiscoverUsers: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected user directory to be pruned, found %v", entries)
	}
}

func TestFileStoreAllPrints(t *testing.T) {
	s := NewFileStore(Config{Path: t.TempDir()})
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Deinit()

	p1 := testPrint()
	p2 := testPrint()
	p2.Finger = fprintd.FingerLeftThumb
	p2.Username = "bob"
	if err := s.Save(p1); err != nil {
		t.Fatalf("Save p1: %v", err)
	}
	if err := s.Save(p2); err != nil {
		t.Fatalf("Save p2: %v", err)
	}

	all, err := s.AllPrints()
	if err != nil {
		t.Fatalf("AllPrints: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("AllPrints = %d prints, want 2", len(all))
	}
}

func TestOpenUnknownType(t *testing.T) {
	if _, err := Open(Config{Type: "nonexistent"}); err == nil {
		t.Fatal("expected error for unknown store type")
	}
}

func TestOpenDefaultsToFile(t *testing.T) {
	s, err := Open(Config{Type: "file", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("Open(type=file) returned %T, want *FileStore", s)
	}
}
