package claimsession

import (
	"testing"
	"time"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

const testSecret = "claimsession-test-secret-needs-32-chars"

func TestStorePutGet(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	store := NewStore(clk, testSecret, TTL)

	store.Put("token-1", State{AgentID: "agent-1", Verifier: "abc"})

	got, ok := store.Get("token-1")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.AgentID != "agent-1" || got.Verifier != "abc" {
		t.Errorf("Get() = %+v, unexpected", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewStore(&fixedClock{now: time.Now()}, testSecret, TTL)
	if _, ok := store.Get("missing"); ok {
		t.Error("Get() ok = true for missing token, want false")
	}
}

func TestStoreGetExpired(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	store := NewStore(clk, testSecret, TTL)
	store.Put("token-1", State{AgentID: "agent-1"})

	clk.now = clk.now.Add(TTL + time.Second)

	if _, ok := store.Get("token-1"); ok {
		t.Error("Get() ok = true for expired token, want false")
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewStore(&fixedClock{now: time.Now()}, testSecret, TTL)
	store.Put("token-1", State{AgentID: "agent-1"})
	store.Delete("token-1")

	if _, ok := store.Get("token-1"); ok {
		t.Error("Get() ok = true after Delete, want false")
	}
}

func TestStoreSweep(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	store := NewStore(clk, testSecret, TTL)
	store.Put("expired", State{AgentID: "a"})
	clk.now = clk.now.Add(TTL + time.Second)
	store.Put("fresh", State{AgentID: "b"})

	removed := store.Sweep()
	if removed != 1 {
		t.Errorf("Sweep() removed = %d, want 1", removed)
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Error("Get(fresh) ok = false after Sweep, want true")
	}
}

func TestIssueAndValidateSessionToken(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	store := NewStore(clk, testSecret, TTL)

	token, err := store.IssueSessionToken("claim-token-1")
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}

	if err := store.ValidateSessionToken(token, "claim-token-1"); err != nil {
		t.Errorf("ValidateSessionToken() error = %v, want nil", err)
	}
}

func TestValidateSessionToken_WrongClaimTokenRejected(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	store := NewStore(clk, testSecret, TTL)

	token, err := store.IssueSessionToken("claim-token-1")
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}

	if err := store.ValidateSessionToken(token, "some-other-token"); err == nil {
		t.Error("ValidateSessionToken() error = nil, want rejection for mismatched claim token")
	}
}

func TestValidateSessionToken_ExpiredRejected(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	store := NewStore(clk, testSecret, TTL)

	token, err := store.IssueSessionToken("claim-token-1")
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}

	clk.now = clk.now.Add(TTL + time.Second)

	if err := store.ValidateSessionToken(token, "claim-token-1"); err == nil {
		t.Error("ValidateSessionToken() error = nil, want rejection for expired token")
	}
}

func TestValidateSessionToken_WrongSecretRejected(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Now()}
	issuer := NewStore(clk, testSecret, TTL)
	verifier := NewStore(clk, "a-completely-different-secret-32ch", TTL)

	token, err := issuer.IssueSessionToken("claim-token-1")
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}

	if err := verifier.ValidateSessionToken(token, "claim-token-1"); err == nil {
		t.Error("ValidateSessionToken() error = nil, want rejection for signature mismatch")
	}
}

func TestValidateSessionToken_EmptyRejected(t *testing.T) {
	t.Parallel()

	store := NewStore(&fixedClock{now: time.Now()}, testSecret, TTL)
	if err := store.ValidateSessionToken("", "claim-token-1"); err == nil {
		t.Error("ValidateSessionToken() error = nil, want rejection for empty token")
	}
}
