package admission

import (
	"fmt"
	"testing"
	"time"
)

func TestDuplicateWithinWindow(t *testing.T) {
	g := New(0, 15*time.Second)
	base := time.Unix(1_700_000_000, 0)

	if !g.ShouldAccept("alice", "hello chat", base) {
		t.Fatal("first message should be accepted")
	}
	if g.ShouldAccept("alice", "hello chat", base.Add(time.Second)) {
		t.Fatal("duplicate within window should be rejected")
	}
	if g.ShouldAccept("bob", "HELLO CHAT", base.Add(2*time.Second)) {
		t.Fatal("duplicate from another user (case-insensitive) should be rejected")
	}
	if !g.ShouldAccept("alice", "hello chat", base.Add(16*time.Second)) {
		t.Fatal("duplicate after window should be accepted")
	}
}

func TestCooldown(t *testing.T) {
	g := New(1500*time.Millisecond, 0)
	base := time.Unix(1_700_000_000, 0)

	if !g.ShouldAccept("alice", "one", base) {
		t.Fatal("first message should be accepted")
	}
	if g.ShouldAccept("alice", "two", base.Add(time.Second)) {
		t.Fatal("different message inside cooldown should be rejected")
	}
	if !g.ShouldAccept("bob", "two", base.Add(time.Second)) {
		t.Fatal("other users are not affected by alice's cooldown")
	}
	if !g.ShouldAccept("alice", "three", base.Add(1500*time.Millisecond)) {
		t.Fatal("message after cooldown should be accepted")
	}
}

func TestRejectionDoesNotRecord(t *testing.T) {
	g := New(time.Second, 10*time.Second)
	base := time.Unix(1_700_000_000, 0)

	g.ShouldAccept("alice", "first", base)
	// Rejected on cooldown; its content must not be remembered.
	if g.ShouldAccept("alice", "second", base.Add(100*time.Millisecond)) {
		t.Fatal("expected cooldown rejection")
	}
	if !g.ShouldAccept("bob", "second", base.Add(200*time.Millisecond)) {
		t.Fatal("rejected content should not count as seen")
	}
}

func TestSweepBoundsMaps(t *testing.T) {
	g := New(time.Millisecond, time.Millisecond)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3*SweepCeiling; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		if !g.ShouldAccept(fmt.Sprintf("user%d", i), fmt.Sprintf("msg %d", i), now) {
			t.Fatalf("message %d unexpectedly rejected", i)
		}
	}
	users, hashes := g.Len()
	if users > SweepCeiling+1 || hashes > SweepCeiling+1 {
		t.Fatalf("maps not swept: users=%d hashes=%d", users, hashes)
	}
}

func TestContentHashTruncates(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	a := string(long)
	b := string(long[:200]) + "different tail"
	if ContentHash(a) != ContentHash(b) {
		t.Fatal("hash should only consider the first 200 runes")
	}
}
