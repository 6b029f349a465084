package claim

import (
	"sync"
	"testing"
)

func TestClaimExclusivity(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Claim("alice", "alice"); err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if _, err := r.Claim("bob", "bob"); err == nil {
		t.Fatal("expected second Claim to fail already-in-use")
	}
}

func TestCheckUnclaimedVsClaimed(t *testing.T) {
	r := NewRegistry()
	if err := r.Check("alice", CheckUnclaimed); err != nil {
		t.Fatalf("unclaimed check on empty registry: %v", err)
	}
	if _, err := r.Claim("alice", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := r.Check("alice", CheckUnclaimed); err == nil {
		t.Fatal("expected already-in-use once claimed")
	}
	if err := r.Check("alice", CheckClaimed); err != nil {
		t.Fatalf("owner's claimed check: %v", err)
	}
	if err := r.Check("bob", CheckClaimed); err == nil {
		t.Fatal("expected already-in-use for non-owner claimed check")
	}
}

func TestCheckClaimedRequiresClaim(t *testing.T) {
	r := NewRegistry()
	if err := r.Check("alice", CheckClaimed); err == nil {
		t.Fatal("expected claim-device error with no session")
	}
}

func TestReleaseThenReclaim(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Claim("alice", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	r.Release()
	if _, err := r.Claim("bob", "bob"); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestSessionInvocationExclusivity(t *testing.T) {
	r := NewRegistry()
	s, _ := r.Claim("alice", "alice")
	if !s.TryBeginInvocation() {
		t.Fatal("first invocation should succeed")
	}
	if s.TryBeginInvocation() {
		t.Fatal("concurrent invocation on the same session should be rejected")
	}
	s.EndInvocation()
	if !s.TryBeginInvocation() {
		t.Fatal("invocation should succeed again after EndInvocation")
	}
}

func TestConcurrentClaimOnlyOneWins(t *testing.T) {
	r := NewRegistry()
	const n = 50
	var wg sync.WaitGroup
	successes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Claim("caller", "user"); err == nil {
				successes <- "ok"
			}
		}(i)
	}
	wg.Wait()
	close(successes)
	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winning Claim, got %d", count)
	}
}

func TestHandleVanishReleasesSlot(t *testing.T) {
	r := NewRegistry()
	r.Claim("alice", "alice")
	called := false
	r.HandleVanish(func(s *Session) { called = true })
	if !called {
		t.Fatal("expected vanish callback to run")
	}
	if r.Get() != nil {
		t.Fatal("expected slot cleared after vanish")
	}
}
