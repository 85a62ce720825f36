// Package session provides expiring in memory storage for the reference OOB gateway.
// Messages that were neither delivered by push nor fetched within the retention window
// are silently dropped.
package session

import (
	"sync"
	"time"
)

const (
	numSlot = 16
)

type slot[V any] struct {
	mut   sync.Mutex
	t     int64
	boxes map[string][]V
}

// Mailbox is an in memory per owner FIFO that automatically expires its content.
//
// Values are grouped in numSlot time slots; a slot is recycled whenever the scaled clock
// has moved past its timestamp, which caps value lifetime to the configured retention.
type Mailbox[V any] struct {
	clock Clock
	slots [numSlot]slot[V]
}

// NewMailbox instantiates a Mailbox that retains values for approximately retention.
// It errors if retention is too small to be split over the inner time slots.
func NewMailbox[V any](retention time.Duration) (*Mailbox[V], error) {
	if retention < numSlot {
		return nil, newError("Invalid retention %d < %d ns", retention, numSlot)
	}

	mb := &Mailbox[V]{}
	err := mb.clock.Init(retention / numSlot)
	if nil != err {
		return nil, wrapError(err, "failed clock initialization")
	}

	return mb, nil
}

// Push appends v to the owner FIFO.
func (self *Mailbox[V]) Push(owner string, v V) {
	ts := self.clock.T()
	slot := &(self.slots[ts%numSlot])
	slot.mut.Lock()
	defer slot.mut.Unlock()

	if ts != slot.t || nil == slot.boxes {
		// slot contains expired data
		slot.t = ts
		slot.boxes = make(map[string][]V)
	}
	slot.boxes[owner] = append(slot.boxes[owner], v)
}

// Drain removes and returns all non expired values pushed for owner, oldest first.
func (self *Mailbox[V]) Drain(owner string) []V {
	var rv []V

	now := self.clock.T()
	for ts := now - numSlot + 1; ts <= now; ts++ {
		if ts < 0 {
			continue
		}
		slot := &(self.slots[ts%numSlot])
		slot.mut.Lock()
		if ts == slot.t {
			rv = append(rv, slot.boxes[owner]...)
			delete(slot.boxes, owner)
		}
		slot.mut.Unlock()
	}

	return rv
}

// Count returns the number of non expired values currently held for owner.
func (self *Mailbox[V]) Count(owner string) int {
	var count int

	now := self.clock.T()
	for ts := now - numSlot + 1; ts <= now; ts++ {
		if ts < 0 {
			continue
		}
		slot := &(self.slots[ts%numSlot])
		slot.mut.Lock()
		if ts == slot.t {
			count += len(slot.boxes[owner])
		}
		slot.mut.Unlock()
	}

	return count
}
