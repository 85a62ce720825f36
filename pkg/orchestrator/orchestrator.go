// Package orchestrator is the top level façade of the authenticator core.
//
// It sequences provisioning across the OOB and token managers, drives the approve/deny
// flow for incoming authentication requests, and exposes "most comfortable factor" OTP
// generation. Cross component invariants live here: OOB registration strictly precedes
// token provisioning, and a user cancellation at the proof step leaves the pending
// message queued, un-consumed.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"code.aegisid.org/golang/internal/observability"
	"code.aegisid.org/golang/pkg/factors"
	"code.aegisid.org/golang/pkg/gateway"
	"code.aegisid.org/golang/pkg/oob"
	"code.aegisid.org/golang/pkg/provision"
	"code.aegisid.org/golang/pkg/secrets"
	"code.aegisid.org/golang/pkg/token"
)

// Decision is the user verdict on an incoming authentication request.
type Decision int

const (
	Deny Decision = iota
	Approve
)

// Config parametrizes New.
type Config struct {
	Token  *token.Manager
	OOB    *oob.Manager
	Parser *provision.Parser // optional, required only for QR based provisioning
	Log    *slog.Logger
}

// Orchestrator combines the token manager, the OOB manager and the provisioning code
// parser behind the operations the application shell calls.
type Orchestrator struct {
	token  *token.Manager
	oob    *oob.Manager
	parser *provision.Parser
	log    *slog.Logger

	mut    sync.Mutex
	closed bool
}

// New instantiates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if nil == cfg.Token || nil == cfg.OOB {
		return nil, newError("Token and OOB managers are both required")
	}
	log := cfg.Log
	if nil == log {
		log = observability.NoopLogger()
	}

	return &Orchestrator{
		token:  cfg.Token,
		oob:    cfg.OOB,
		parser: cfg.Parser,
		log:    observability.ComponentLogger(log, "orchestrator"),
	}, nil
}

// Init prepares the Orchestrator for use. When the OOB channel is registered it
// performs a best-effort poll for messages missed while the application was down.
func (self *Orchestrator) Init(ctx context.Context) error {
	if err := self.guard(); nil != err {
		return err
	}

	if self.oob.Registered() {
		merged, err := self.oob.FetchQueuedMessages(ctx)
		if nil != err {
			// polling is opportunistic, the push channel still delivers
			self.log.Warn("failed startup message poll", "error", err)
		} else if len(merged) > 0 {
			self.log.Info("recovered missed messages", "count", len(merged))
		}
	}

	return nil
}

// Shutdown marks the Orchestrator closed; subsequent operations fail with ErrClosed.
func (self *Orchestrator) Shutdown() {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.closed = true
}

// ProvisionFlow enrolls userId: OOB registration first, token provisioning second,
// never the reverse.
//
// If OOB registration fails, provisioning is not attempted. If provisioning fails, the
// OOB registration is left intact (it is independently revocable) and the provisioning
// failure is returned.
func (self *Orchestrator) ProvisionFlow(ctx context.Context, userId string, regCode *secrets.Handle) error {
	if err := self.guard(); nil != err {
		return err
	}

	_, err := self.oob.RegisterOOB(ctx, userId, regCode)
	if nil != err {
		return wrapError(err, "failed OOB registration, provisioning not attempted")
	}

	_, err = self.token.Provision(ctx, userId, regCode)
	if nil != err {
		return wrapError(err, "OOB registered but token provisioning failed")
	}
	self.log.Info("completed provisioning flow", "userId", userId)

	return nil
}

// ProvisionFromQR parses an enrollment QR payload and runs ProvisionFlow with the
// decoded identity. The decoded registration code is wiped before returning.
func (self *Orchestrator) ProvisionFromQR(ctx context.Context, qrPayload []byte) error {
	if err := self.guard(); nil != err {
		return err
	}
	if nil == self.parser {
		return newError("no provisioning code parser configured")
	}

	code, err := self.parser.Parse(qrPayload)
	if nil != err {
		return err
	}
	defer code.RegistrationCode.Wipe()

	return self.ProvisionFlow(ctx, code.UserId, code.RegistrationCode)
}

// DeleteCredential destroys the enrolled token and unregisters the OOB channel.
//
// Both cleanups are attempted; a partial remote failure in either is reported after
// local state is cleared.
func (self *Orchestrator) DeleteCredential(ctx context.Context) error {
	if err := self.guard(); nil != err {
		return err
	}

	tokErr := self.token.Delete(ctx)
	if nil != tokErr && !errors.Is(tokErr, token.ErrPartialCleanup) {
		return tokErr
	}

	oobErr := self.oob.UnregisterOOB(ctx)
	if nil != oobErr && !errors.Is(oobErr, oob.ErrPartialCleanup) {
		return oobErr
	}

	if nil != tokErr || nil != oobErr {
		return wrapError(token.ErrPartialCleanup, "local state cleared, server cleanup incomplete")
	}

	return nil
}

// ApproveOrDeny resolves the active incoming message msg.
//
// On Approve, a fresh OTP bound to the message challenge is generated with factor
// (factors.FactorAuto selects by precedence) and submitted with the decision. On Deny,
// no OTP is generated. A user cancellation at the proof step is a deliberate no-op: the
// message returns to the queue un-consumed and no error is reported.
func (self *Orchestrator) ApproveOrDeny(ctx context.Context, msg oob.IncomingMessage, decision Decision, factor factors.Factor) error {
	if err := self.guard(); nil != err {
		return err
	}
	if "" == msg.Id {
		self.oob.CancelMessage()
		return newError("message carries no server id, decision can not be submitted")
	}

	dec := gateway.DecisionSubmission{MessageId: msg.Id}
	if Approve == decision {
		otp, err := self.token.GenerateOTP(ctx, factor, msg.Challenge)
		if nil != err {
			self.oob.CancelMessage()
			if errors.Is(err, token.ErrFactorCancelled) {
				self.log.Info("decision cancelled by user", "msgId", msg.Id)
				return nil
			}
			return err
		}
		defer otp.Wipe()

		digits, err := otp.Bytes()
		if nil != err {
			self.oob.CancelMessage()
			return wrapError(err, "generated OTP unreadable")
		}
		dec.Approved = true
		dec.Otp = append([]byte(nil), digits...)
	}

	err := self.oob.SubmitDecision(ctx, dec)
	if nil != err {
		self.oob.CancelMessage()
		return wrapError(err, "failed decision submission")
	}

	self.oob.ConsumeMessage()
	self.log.Info("resolved message", "msgId", msg.Id, "approved", dec.Approved)

	return nil
}

// TOTPWithMostComfortable generates an OTP for an ad-hoc request, selecting the proving
// factor through the fixed precedence policy.
func (self *Orchestrator) TOTPWithMostComfortable(ctx context.Context, challenge *secrets.Handle) (*secrets.Handle, error) {
	if err := self.guard(); nil != err {
		return nil, err
	}

	return self.token.GenerateOTP(ctx, factors.FactorAuto, challenge)
}

func (self *Orchestrator) guard() error {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.closed {
		return wrapError(ErrClosed, "orchestrator was shut down")
	}

	return nil
}
