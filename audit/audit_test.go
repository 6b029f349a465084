package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendThenRecentRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	rec := Record{
		RunID:     "01HX000000000000000000AAAA",
		DeviceID:  "device-0",
		Kind:      "verify",
		CallerID:  "user-1",
		StartedAt: time.Unix(1000, 0).UTC(),
		EndedAt:   time.Unix(1001, 0).UTC(),
		Outcome:   "verify-match",
	}
	if err := j.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent: got %d records, want 1", len(recent))
	}
	if recent[0] != rec {
		t.Fatalf("Recent: got %+v, want %+v", recent[0], rec)
	}
}

func TestRecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	j := openTestJournal(t)

	runIDs := []string{
		"01HX000000000000000000AAAA",
		"01HX000000000000000000BBBB",
		"01HX000000000000000000CCCC",
	}
	for _, id := range runIDs {
		if err := j.Append(Record{RunID: id, DeviceID: "device-0", Kind: "verify"}); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	got, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent: got %d records, want 2", len(got))
	}
	if got[0].RunID != runIDs[2] || got[1].RunID != runIDs[1] {
		t.Fatalf("Recent: got order %s, %s; want newest-first", got[0].RunID, got[1].RunID)
	}
}

func TestForDeviceFiltersByDeviceID(t *testing.T) {
	j := openTestJournal(t)

	records := []Record{
		{RunID: "01HX000000000000000000AAAA", DeviceID: "device-a", Kind: "enroll"},
		{RunID: "01HX000000000000000000BBBB", DeviceID: "device-b", Kind: "verify"},
		{RunID: "01HX000000000000000000CCCC", DeviceID: "device-a", Kind: "delete"},
	}
	for _, rec := range records {
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append(%s): %v", rec.RunID, err)
		}
	}

	got, err := j.ForDevice("device-a", 10)
	if err != nil {
		t.Fatalf("ForDevice: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ForDevice: got %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.DeviceID != "device-a" {
			t.Fatalf("ForDevice: got record for %s, want only device-a", rec.DeviceID)
		}
	}
	if got[0].RunID != "01HX000000000000000000CCCC" {
		t.Fatalf("ForDevice: got %s first, want newest-first order", got[0].RunID)
	}
}

func TestForDeviceUnknownDeviceReturnsEmpty(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Append(Record{RunID: "01HX000000000000000000AAAA", DeviceID: "device-a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := j.ForDevice("device-z", 10)
	if err != nil {
		t.Fatalf("ForDevice: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ForDevice: got %d records, want 0", len(got))
	}
}
