package capability

import (
	"context"
	"testing"

	"github.com/fprintd-go/fprintd"
)

func TestSimulatedVerifyMatch(t *testing.T) {
	dev := NewSimulated(SimulatedConfig{
		Device: fprintd.Device{ID: "dev0", Driver: "simulated", NumEnrollStages: 3},
	})
	tmpl := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightIndex}

	var got MatchResult
	ch, err := dev.Verify(context.Background(), tmpl, func(r MatchResult) { got = r })
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	outcome := <-ch
	if outcome.Status != fprintd.VerifyMatch {
		t.Fatalf("outcome = %+v, want verify-match", outcome)
	}
	if !got.Matched {
		t.Fatal("expected match callback to report Matched=true")
	}
}

func TestSimulatedEnrollStoresOnSuccess(t *testing.T) {
	dev := NewSimulated(SimulatedConfig{
		Device: fprintd.Device{ID: "dev0", Driver: "simulated", NumEnrollStages: 2},
	})
	tmpl := fprintd.Print{Username: "alice", Finger: fprintd.FingerLeftThumb, Driver: "simulated", DeviceID: "dev0"}

	var stages []int
	ch, err := dev.Enroll(context.Background(), tmpl, func(n int) { stages = append(stages, n) })
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	outcome := <-ch
	if outcome.Status != fprintd.EnrollCompleted {
		t.Fatalf("outcome = %+v, want enroll-completed", outcome)
	}
	if len(stages) != 2 {
		t.Fatalf("stages = %v, want 2 progress calls", stages)
	}

	listed, err := dev.ListPrints(context.Background())
	if err != nil {
		t.Fatalf("ListPrints: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("ListPrints = %v, want 1 stored print", listed)
	}
}

func TestSimulatedScriptedRetryThenMatch(t *testing.T) {
	dev := NewSimulated(SimulatedConfig{
		Device: fprintd.Device{ID: "dev0", Driver: "simulated"},
		Decisions: Decisions{
			Verify: func(attempt int, template fprintd.Print) (MatchResult, ScanOutcome) {
				if attempt == 1 {
					return MatchResult{}, ScanOutcome{Status: fprintd.VerifyRetryScan}
				}
				return MatchResult{Matched: true, Print: template}, ScanOutcome{Status: fprintd.VerifyMatch}
			},
		},
	})
	tmpl := fprintd.Print{Username: "alice"}

	ch, _ := dev.Verify(context.Background(), tmpl, nil)
	if out := <-ch; out.Status != fprintd.VerifyRetryScan {
		t.Fatalf("first attempt = %+v, want retry", out)
	}
	ch, _ = dev.Verify(context.Background(), tmpl, nil)
	if out := <-ch; out.Status != fprintd.VerifyMatch {
		t.Fatalf("second attempt = %+v, want match", out)
	}
}

func TestSimulatedDeletePrint(t *testing.T) {
	dev := NewSimulated(SimulatedConfig{Device: fprintd.Device{ID: "dev0", Driver: "simulated"}})
	p := fprintd.Print{Username: "alice", Finger: fprintd.FingerRightThumb, Driver: "simulated", DeviceID: "dev0"}
	dev.Seed(p)

	if err := dev.DeletePrint(context.Background(), p); err != nil {
		t.Fatalf("DeletePrint: %v", err)
	}
	listed, _ := dev.ListPrints(context.Background())
	if len(listed) != 0 {
		t.Fatalf("expected empty storage after delete, got %v", listed)
	}
}
