package capability

import (
	"context"
	"sync"
	"time"

	"github.com/fprintd-go/fprintd"
)

// Decisions scripts a Simulated device's scan outcomes, letting tests drive
// the exact sequences SPEC_FULL.md's scenarios require (retry-class
// errors, duplicates, data-full) without any real driver. attempt counts
// scan calls on the device, starting at 1, since it was created or since
// the last ResetAttempts.
type Decisions struct {
	// Enroll decides the outcome of one Enroll call.
	Enroll func(attempt int, template fprintd.Print) ScanOutcome
	// Verify decides the match result and outcome of one Verify call.
	Verify func(attempt int, template fprintd.Print) (MatchResult, ScanOutcome)
	// Identify decides the match result and outcome of one Identify call.
	Identify func(attempt int, gallery []fprintd.Print) (MatchResult, ScanOutcome)
}

func defaultDecisions() Decisions {
	return Decisions{
		Enroll: func(attempt int, template fprintd.Print) ScanOutcome {
			return ScanOutcome{Status: fprintd.EnrollCompleted}
		},
		Verify: func(attempt int, template fprintd.Print) (MatchResult, ScanOutcome) {
			return MatchResult{Print: template, Matched: true}, ScanOutcome{Status: fprintd.VerifyMatch}
		},
		Identify: func(attempt int, gallery []fprintd.Print) (MatchResult, ScanOutcome) {
			return MatchResult{}, ScanOutcome{Status: fprintd.VerifyNoMatch}
		},
	}
}

// SimulatedConfig configures a Simulated device.
type SimulatedConfig struct {
	Device    fprintd.Device
	Decisions Decisions
}

// Simulated is an in-process capability.Device used for tests, hostless
// development, and the monitor CLI's demo mode. It maintains its own
// on-device print list whatever Device.Features says (every completed
// Enroll and every Seed adds to it), so delete and garbage-collect
// behaviour can be exercised without real hardware.
type Simulated struct {
	desc      fprintd.Device
	decisions Decisions

	mu       sync.Mutex
	open     bool
	storage  []fprintd.Print
	changes  chan PropertyChange
	attempts int
}

func NewSimulated(cfg SimulatedConfig) *Simulated {
	d := cfg.Decisions
	def := defaultDecisions()
	if d.Enroll == nil {
		d.Enroll = def.Enroll
	}
	if d.Verify == nil {
		d.Verify = def.Verify
	}
	if d.Identify == nil {
		d.Identify = def.Identify
	}
	return &Simulated{
		desc:      cfg.Device,
		decisions: d,
		changes:   make(chan PropertyChange, 16),
	}
}

func (s *Simulated) Describe() fprintd.Device { return s.desc }

func (s *Simulated) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *Simulated) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Simulated) nextAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

// ResetAttempts starts a fresh attempt count, so the next scan call sees
// attempt 1. It is not part of the Device interface and the operation
// state machine does not call it, so without it the numbering runs on
// across operations.
func (s *Simulated) ResetAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}

func (s *Simulated) Enroll(ctx context.Context, template fprintd.Print, progress func(stagesDone int)) (<-chan ScanOutcome, error) {
	ch := make(chan ScanOutcome, 1)
	attempt := s.nextAttempt()
	go func() {
		stages := s.desc.NumEnrollStages
		for i := 1; i <= stages; i++ {
			select {
			case <-ctx.Done():
				ch <- ScanOutcome{Status: "cancelled"}
				return
			default:
			}
			if progress != nil {
				progress(i)
			}
		}
		outcome := s.decisions.Enroll(attempt, template)
		if outcome.Status == fprintd.EnrollCompleted {
			s.mu.Lock()
			s.storage = append(s.storage, template)
			s.mu.Unlock()
		}
		ch <- outcome
	}()
	return ch, nil
}

func (s *Simulated) Verify(ctx context.Context, template fprintd.Print, match func(MatchResult)) (<-chan ScanOutcome, error) {
	ch := make(chan ScanOutcome, 1)
	attempt := s.nextAttempt()
	go func() {
		result, outcome := s.decisions.Verify(attempt, template)
		select {
		case <-ctx.Done():
			ch <- ScanOutcome{Status: "cancelled"}
			return
		default:
		}
		if match != nil {
			result.Matched = result.Matched && ctx.Err() == nil
			match(result)
		}
		ch <- outcome
	}()
	return ch, nil
}

func (s *Simulated) Identify(ctx context.Context, gallery []fprintd.Print, match func(MatchResult)) (<-chan ScanOutcome, error) {
	ch := make(chan ScanOutcome, 1)
	attempt := s.nextAttempt()
	go func() {
		result, outcome := s.decisions.Identify(attempt, gallery)
		select {
		case <-ctx.Done():
			ch <- ScanOutcome{Status: "cancelled"}
			return
		default:
		}
		if match != nil {
			result.Matched = result.Matched && ctx.Err() == nil
			match(result)
		}
		ch <- outcome
	}()
	return ch, nil
}

func (s *Simulated) ListPrints(ctx context.Context) ([]fprintd.Print, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fprintd.Print, len(s.storage))
	copy(out, s.storage)
	return out, nil
}

func (s *Simulated) DeletePrint(ctx context.Context, p fprintd.Print) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.storage {
		if existing.Matches(p.Driver, p.DeviceID, p.Finger, p.Username) {
			s.storage = append(s.storage[:i], s.storage[i+1:]...)
			return nil
		}
	}
	return fprintd.NewError(fprintd.KindInternal, "Simulated.DeletePrint", nil)
}

func (s *Simulated) ClearStorage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = nil
	return nil
}

func (s *Simulated) Suspend(ctx context.Context) error {
	select {
	case <-time.After(time.Millisecond):
	case <-ctx.Done():
	}
	return nil
}

func (s *Simulated) Resume(ctx context.Context) error {
	return nil
}

func (s *Simulated) Changes() <-chan PropertyChange { return s.changes }

// Seed pre-populates the device's on-device storage, used by tests that
// need a device to already list prints before an operation runs.
func (s *Simulated) Seed(prints ...fprintd.Print) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = append(s.storage, prints...)
}

var _ Device = (*Simulated)(nil)
