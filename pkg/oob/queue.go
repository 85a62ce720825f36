package oob

import (
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/blake2s"
)

// messageQueue is the FIFO of pending IncomingMessages.
//
// At most one message is active (being displayed for decision) at a time; an active
// message stays at the queue head until it is consumed, so a cancelled decision leaves
// the queue untouched. Every enqueued identity is remembered for de-duplication of
// messages that arrive both by push and by fetch.
type messageQueue struct {
	mut    sync.Mutex
	items  []IncomingMessage
	seen   map[string]bool
	active bool
}

func newMessageQueue() *messageQueue {
	return &messageQueue{seen: make(map[string]bool)}
}

// push enqueues msg, returning false if its identity was already seen.
func (self *messageQueue) push(msg IncomingMessage) bool {
	key := msg.dedupKey()

	self.mut.Lock()
	defer self.mut.Unlock()

	if self.seen[key] {
		return false
	}
	self.seen[key] = true
	self.items = append(self.items, msg)

	return true
}

// next returns the queue head and marks it active.
// It returns false when the queue is empty or a message is already active.
func (self *messageQueue) next() (IncomingMessage, bool) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.active || 0 == len(self.items) {
		return IncomingMessage{}, false
	}
	self.active = true

	return self.items[0], true
}

// cancel returns the active message to the queue head, un-consumed.
func (self *messageQueue) cancel() {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.active = false
}

// consume removes the active message from the queue after its decision completed.
func (self *messageQueue) consume() {
	self.mut.Lock()
	defer self.mut.Unlock()

	if !self.active {
		return
	}
	self.items[0].Challenge.Wipe()
	self.items = self.items[1:]
	self.active = false
}

// size returns the number of queued messages, the active one included.
func (self *messageQueue) size() int {
	self.mut.Lock()
	defer self.mut.Unlock()

	return len(self.items)
}

// dedupKey identifies a message: the server assigned id when present, else a digest of
// content and timestamp.
func (self IncomingMessage) dedupKey() string {
	if "" != self.Id {
		return "id:" + self.Id
	}

	buf := make([]byte, 0, len(self.Text)+8)
	buf = append(buf, self.Text...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(self.SentAt))
	sum := blake2s.Sum256(buf)

	return "cs:" + string(sum[:])
}
