package oob

import (
	"encoding/base64"
	"time"

	"code.aegisid.org/golang/internal/transport"
	"code.aegisid.org/golang/pkg/gateway"
	"code.aegisid.org/golang/pkg/secrets"
)

var jsonSrz = transport.JSONSerializer{}

// IncomingMessage is a pending authentication request delivered over the OOB channel,
// by push notification or by queued message fetch.
type IncomingMessage struct {
	Id         string          // server assigned, may be empty on push delivery
	Text       string
	Challenge  *secrets.Handle // nil when the request carries no transaction challenge
	SentAt     int64           // unix seconds, server clock
	ReceivedAt time.Time
}

// pushPayload is the JSON shape of a platform push notification.
// Unknown fields are ignored for forward compatibility.
type pushPayload struct {
	MsgId     string  `json:"msgId"`
	Message   *string `json:"message"`
	Challenge string  `json:"challenge"` // base64
	SentAt    int64   `json:"sentAt"`
}

// parsePushPayload decodes a raw notification payload into an IncomingMessage.
// A missing message field or an undecodable challenge yields ErrMalformed.
func parsePushPayload(payload []byte) (IncomingMessage, error) {
	pp := pushPayload{}
	err := jsonSrz.Unmarshal(payload, &pp)
	if nil != err {
		return IncomingMessage{}, wrapError(ErrMalformed, "undecodable payload, got error %v", err)
	}
	if nil == pp.Message || "" == *pp.Message {
		return IncomingMessage{}, wrapError(ErrMalformed, "payload has no message field")
	}

	msg := IncomingMessage{
		Id:         pp.MsgId,
		Text:       *pp.Message,
		SentAt:     pp.SentAt,
		ReceivedAt: time.Now(),
	}
	if "" != pp.Challenge {
		challenge, err := base64.StdEncoding.DecodeString(pp.Challenge)
		if nil != err {
			return IncomingMessage{}, wrapError(ErrMalformed, "undecodable challenge field")
		}
		msg.Challenge = secrets.New(challenge)
	}

	return msg, nil
}

// fromQueuedMessage normalizes a fetched gateway message into an IncomingMessage.
func fromQueuedMessage(qm gateway.QueuedMessage) IncomingMessage {
	msg := IncomingMessage{
		Id:         qm.Id,
		Text:       qm.Text,
		SentAt:     qm.SentAt,
		ReceivedAt: time.Now(),
	}
	if len(qm.Challenge) > 0 {
		msg.Challenge = secrets.New(qm.Challenge)
	}

	return msg
}
