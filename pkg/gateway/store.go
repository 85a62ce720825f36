package gateway

import (
	"context"
	"time"

	"code.aegisid.org/golang/internal/session"
)

// MessageStore retains pending QueuedMessages per OOB client until they are fetched or
// their retention window elapses.
type MessageStore interface {

	// Append queues msg for clientId.
	Append(ctx context.Context, clientId string, msg QueuedMessage) error

	// Drain removes and returns all pending messages of clientId, oldest first.
	Drain(ctx context.Context, clientId string) ([]QueuedMessage, error)
}

// MemMessageStore is the in memory MessageStore used by the reference Server and tests.
type MemMessageStore struct {
	mailbox *session.Mailbox[QueuedMessage]
}

// NewMemMessageStore instantiates a MemMessageStore retaining messages for retention.
func NewMemMessageStore(retention time.Duration) (*MemMessageStore, error) {
	mb, err := session.NewMailbox[QueuedMessage](retention)
	if nil != err {
		return nil, wrapError(err, "failed Mailbox construction")
	}

	return &MemMessageStore{mailbox: mb}, nil
}

// Append implements MessageStore.
func (self *MemMessageStore) Append(ctx context.Context, clientId string, msg QueuedMessage) error {
	err := msg.Check()
	if nil != err {
		return wrapError(err, "invalid message")
	}
	self.mailbox.Push(clientId, msg)

	return nil
}

// Drain implements MessageStore.
func (self *MemMessageStore) Drain(ctx context.Context, clientId string) ([]QueuedMessage, error) {
	return self.mailbox.Drain(clientId), nil
}

var _ MessageStore = &MemMessageStore{}
