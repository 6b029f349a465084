package policy

import "testing"

type stubBackend struct {
	allow map[Permission]bool
}

func (b stubBackend) Allowed(callerID, actingUser string, perm Permission) (bool, error) {
	return b.allow[perm], nil
}

func TestResolveActingUserEmptyDefaultsToCaller(t *testing.T) {
	g := NewGate(stubBackend{})
	got, err := g.ResolveActingUser("alice", "alice", "")
	if err != nil {
		t.Fatalf("ResolveActingUser: %v", err)
	}
	if got != "alice" {
		t.Fatalf("got %q, want alice", got)
	}
}

func TestResolveActingUserRequiresSetUsername(t *testing.T) {
	g := NewGate(stubBackend{allow: map[Permission]bool{}})
	if _, err := g.ResolveActingUser("alice", "alice", "bob"); err == nil {
		t.Fatal("expected permission-denied resolving a different acting user without set-username")
	}

	g2 := NewGate(stubBackend{allow: map[Permission]bool{PermissionSetUsername: true}})
	got, err := g2.ResolveActingUser("alice", "alice", "bob")
	if err != nil {
		t.Fatalf("ResolveActingUser: %v", err)
	}
	if got != "bob" {
		t.Fatalf("got %q, want bob", got)
	}
}

func TestAuthorizeRequiresEitherGrant(t *testing.T) {
	g := NewGate(stubBackend{allow: map[Permission]bool{PermissionVerify: true}})
	if err := g.Authorize("alice", "alice", OpClaim); err != nil {
		t.Fatalf("Authorize(Claim) with verify granted: %v", err)
	}

	g2 := NewGate(stubBackend{})
	if err := g2.Authorize("alice", "alice", OpClaim); err == nil {
		t.Fatal("expected permission-denied with no grants")
	}
}

func TestAuthorizeReleaseNeverFails(t *testing.T) {
	g := NewGate(stubBackend{})
	if err := g.Authorize("alice", "alice", OpRelease); err != nil {
		t.Fatalf("Release should require no permission, got %v", err)
	}
}

func TestLocalBackendGrantsSelfOnly(t *testing.T) {
	b := NewLocalBackend()
	ok, err := b.Allowed("alice", "alice", PermissionVerify)
	if err != nil || !ok {
		t.Fatalf("expected verify granted, got ok=%v err=%v", ok, err)
	}
	ok, err = b.Allowed("alice", "alice", PermissionSetUsername)
	if err != nil || ok {
		t.Fatalf("expected set-username denied for non-admin, got ok=%v err=%v", ok, err)
	}
}
