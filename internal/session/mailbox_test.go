package session

import (
	"testing"
	"testing/synctest"
	"time"
)

func TestNewMailbox(t *testing.T) {
	_, err := NewMailbox[string](-10 * time.Second)
	if nil == err {
		t.Error("Could construct Mailbox with retention < 0")
	}
	_, err = NewMailbox[string](4 * time.Nanosecond)
	if nil == err {
		t.Error("Could construct Mailbox with retention < numSlot")
	}
	mb, err := NewMailbox[string](numSlot * time.Nanosecond)
	if nil != err {
		t.Errorf("Failed NewMailbox, got error %v", err)
	}
	if nil == mb {
		t.Error("Got nil *Mailbox")
	}
}

func TestMailboxPushDrain(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mb, err := NewMailbox[string](32 * time.Second)
		if nil != err {
			t.Fatalf("Failed NewMailbox, got error %v", err)
		}

		// empty mailbox drains nothing
		if msgs := mb.Drain("alice"); 0 != len(msgs) {
			t.Errorf("Drain on empty mailbox returned %d values", len(msgs))
		}

		mb.Push("alice", "m0")
		time.Sleep(2 * time.Second)
		mb.Push("alice", "m1")
		mb.Push("bob", "x0")

		if count := mb.Count("alice"); 2 != count {
			t.Errorf("Count returned %d != 2", count)
		}

		msgs := mb.Drain("alice")
		if 2 != len(msgs) {
			t.Fatalf("Drain returned %d values != 2", len(msgs))
		}
		if "m0" != msgs[0] || "m1" != msgs[1] {
			t.Errorf("Drain returned out of order values %v", msgs)
		}

		// drained values are gone, other owners untouched
		if msgs := mb.Drain("alice"); 0 != len(msgs) {
			t.Errorf("second Drain returned %d values", len(msgs))
		}
		if msgs := mb.Drain("bob"); 1 != len(msgs) || "x0" != msgs[0] {
			t.Errorf("Drain(bob) returned unexpected values %v", msgs)
		}
	})
}

func TestMailboxExpires(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		retention := 32 * time.Second
		mb, err := NewMailbox[int](retention)
		if nil != err {
			t.Fatalf("Failed NewMailbox, got error %v", err)
		}

		mb.Push("carol", 1)

		// value survives just under the minimum guaranteed retention
		time.Sleep(retention - retention/numSlot)
		if count := mb.Count("carol"); 1 != count {
			t.Fatalf("Count returned %d != 1 before expiry", count)
		}

		// and is gone once the full retention window elapsed
		time.Sleep(retention)
		if count := mb.Count("carol"); 0 != count {
			t.Errorf("Count returned %d != 0 after expiry", count)
		}
		if msgs := mb.Drain("carol"); 0 != len(msgs) {
			t.Errorf("Drain returned expired values %v", msgs)
		}
	})
}
