// Package gateway defines the wire contract between the authenticator core and the OOB
// server: client/push-token binding, OOB registration, token provisioning, decision
// submission and queued message fetch.
//
// The package also ships an HTTP Client implementation and a reference Server so the
// whole enrollment and approval flow can be exercised against a loopback gateway.
package gateway

import (
	"context"
	"encoding/hex"
)

const (
	maxUserIdLen    = 64
	maxPushTokenLen = 512
	minRegCodeLen   = 6
	minDeviceIdLen  = 16
	minSecretLen    = 32
)

// Client enumerates the request/response operations the core consumes.
// Every operation is potentially slow and fallible with ErrUnreachable, ErrRejected,
// ErrTimedOut or ErrMalformed kinds.
type Client interface {
	RegisterClient(ctx context.Context, reg ClientRegistration) error
	UnregisterClient(ctx context.Context, clientId string) error
	RegisterOOB(ctx context.Context, reg OobRegistration) (OobRegistrationResponse, error)
	UnregisterOOB(ctx context.Context, clientId string) error
	CreateToken(ctx context.Context, req TokenRequest) (TokenGrant, error)
	DestroyToken(ctx context.Context, deviceId []byte) error
	SubmitDecision(ctx context.Context, dec DecisionSubmission) error
	FetchMessages(ctx context.Context, clientId string) ([]QueuedMessage, error)
}

// ClientRegistration binds the current platform push token to an OOB client id.
type ClientRegistration struct {
	ClientId  string `json:"cId" cbor:"1,keyasint"`
	PushToken string `json:"pushToken" cbor:"2,keyasint"`
}

// Check returns an error if the ClientRegistration is invalid.
func (self ClientRegistration) Check() error {
	if "" == self.ClientId {
		return wrapError(ErrMalformed, "empty ClientId")
	}
	if "" == self.PushToken || len(self.PushToken) > maxPushTokenLen {
		return wrapError(ErrMalformed, "invalid PushToken length %d", len(self.PushToken))
	}
	_, err := hex.DecodeString(self.PushToken)
	if nil != err {
		return wrapError(ErrMalformed, "PushToken is not hex encoded")
	}

	return nil
}

// OobRegistration enrolls a user on the OOB channel.
type OobRegistration struct {
	UserId           string `json:"userId" cbor:"1,keyasint"`
	RegistrationCode []byte `json:"regCode" cbor:"2,keyasint"`
	PushToken        string `json:"pushToken" cbor:"3,keyasint,omitempty"`
}

// Check returns an error if the OobRegistration is invalid.
func (self OobRegistration) Check() error {
	if "" == self.UserId || len(self.UserId) > maxUserIdLen {
		return wrapError(ErrMalformed, "invalid UserId length %d", len(self.UserId))
	}
	if len(self.RegistrationCode) < minRegCodeLen {
		return wrapError(ErrMalformed, "RegistrationCode too short")
	}

	return nil
}

// OobRegistrationResponse carries the server assigned OOB client id.
type OobRegistrationResponse struct {
	ClientId string `json:"cId" cbor:"1,keyasint"`
}

// Check returns an error if the OobRegistrationResponse is invalid.
func (self OobRegistrationResponse) Check() error {
	if "" == self.ClientId {
		return wrapError(ErrMalformed, "empty ClientId")
	}

	return nil
}

// TokenRequest exchanges a registration code for a device bound token grant.
type TokenRequest struct {
	UserId           string `json:"userId" cbor:"1,keyasint"`
	RegistrationCode []byte `json:"regCode" cbor:"2,keyasint"`
}

// Check returns an error if the TokenRequest is invalid.
func (self TokenRequest) Check() error {
	if "" == self.UserId || len(self.UserId) > maxUserIdLen {
		return wrapError(ErrMalformed, "invalid UserId length %d", len(self.UserId))
	}
	if len(self.RegistrationCode) < minRegCodeLen {
		return wrapError(ErrMalformed, "RegistrationCode too short")
	}

	return nil
}

// TokenGrant is the server material backing a provisioned token.
type TokenGrant struct {
	DeviceId    []byte `json:"deviceId" cbor:"1,keyasint"`
	Secret      []byte `json:"secret" cbor:"2,keyasint"`
	MaxLifespan int64  `json:"maxLifespan" cbor:"3,keyasint"` // seconds
}

// Check returns an error if the TokenGrant is invalid.
func (self TokenGrant) Check() error {
	if len(self.DeviceId) < minDeviceIdLen {
		return wrapError(ErrMalformed, "DeviceId too short")
	}
	if len(self.Secret) < minSecretLen {
		return wrapError(ErrMalformed, "Secret too short")
	}
	if self.MaxLifespan <= 0 {
		return wrapError(ErrMalformed, "invalid MaxLifespan %d", self.MaxLifespan)
	}

	return nil
}

// DecisionSubmission reports an approve/deny decision for a previously delivered message.
type DecisionSubmission struct {
	MessageId string `json:"msgId" cbor:"1,keyasint"`
	Approved  bool   `json:"approved" cbor:"2,keyasint"`
	Otp       []byte `json:"otp" cbor:"3,keyasint,omitempty"`
}

// Check returns an error if the DecisionSubmission is invalid.
// Approvals must carry the signing OTP; denials must not.
func (self DecisionSubmission) Check() error {
	if "" == self.MessageId {
		return wrapError(ErrMalformed, "empty MessageId")
	}
	if self.Approved && 0 == len(self.Otp) {
		return wrapError(ErrMalformed, "approval without OTP")
	}
	if !self.Approved && len(self.Otp) > 0 {
		return wrapError(ErrMalformed, "denial carrying an OTP")
	}

	return nil
}

// QueuedMessage is a pending authentication request retained by the server for clients
// that missed the corresponding push.
type QueuedMessage struct {
	Id        string `json:"id" cbor:"1,keyasint"`
	Text      string `json:"text" cbor:"2,keyasint"`
	Challenge []byte `json:"challenge" cbor:"3,keyasint,omitempty"`
	SentAt    int64  `json:"sentAt" cbor:"4,keyasint"` // unix seconds
}

// Check returns an error if the QueuedMessage is invalid.
func (self QueuedMessage) Check() error {
	if "" == self.Id {
		return wrapError(ErrMalformed, "empty Id")
	}
	if "" == self.Text {
		return wrapError(ErrMalformed, "empty Text")
	}

	return nil
}
