package token

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"code.aegisid.org/golang/internal/observability"
	"code.aegisid.org/golang/pkg/factors"
	"code.aegisid.org/golang/pkg/gateway"
	"code.aegisid.org/golang/pkg/secrets"
	"code.aegisid.org/golang/pkg/storage"
)

// secure store key holding the cbor encoded Token record
const tokenRecordKey = "token.record"

const minRegCodeLen = 6

// lifecycle states of the Manager
const (
	StateUnenrolled = iota
	StateProvisioning
	StateEnrolled
	StateDeleting
)

// Config parametrizes NewManager.
type Config struct {
	Gateway     gateway.Client
	SecureStore storage.Store
	Factors     *factors.Set

	// RequireServerContact makes Delete fail with ErrUnreachable before any local
	// mutation when the gateway can not be contacted. The default policy proceeds with
	// local cleanup and reports ErrPartialCleanup.
	RequireServerContact bool

	Log *slog.Logger
}

// Manager owns the installation Token lifecycle.
//
// Operations are serialized per instance: a second Provision, Delete or GenerateOTP call
// while one is in flight fails with ErrOperationInProgress rather than being queued.
type Manager struct {
	gw      gateway.Client
	store   storage.Store
	factors *factors.Set
	strict  bool
	log     *slog.Logger

	mut     sync.Mutex
	state   int
	otpBusy bool
	token   Token // meaningful only in StateEnrolled
}

// NewManager instantiates a Manager, reloading a previously persisted Token if any.
func NewManager(cfg Config) (*Manager, error) {
	if nil == cfg.Gateway || nil == cfg.SecureStore || nil == cfg.Factors {
		return nil, newError("Gateway, SecureStore and Factors are all required")
	}
	log := cfg.Log
	if nil == log {
		log = observability.NoopLogger()
	}

	self := &Manager{
		gw:      cfg.Gateway,
		store:   cfg.SecureStore,
		factors: cfg.Factors,
		strict:  cfg.RequireServerContact,
		log:     observability.ComponentLogger(log, "token"),
	}

	srztok, found := cfg.SecureStore.GetString(tokenRecordKey)
	if found {
		buf, err := hex.DecodeString(srztok)
		if nil == err {
			err = cbor.Unmarshal(buf, &self.token)
		}
		if nil == err {
			err = self.token.Check()
		}
		if nil != err {
			return nil, wrapError(err, "failed reloading persisted token")
		}
		self.state = StateEnrolled
	}

	return self, nil
}

// State returns the current lifecycle state.
func (self *Manager) State() int {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.state
}

// Enrolled reports whether a Token exists.
func (self *Manager) Enrolled() bool {
	return StateEnrolled == self.State()
}

// Current returns a copy of the enrolled Token.
// The bool flag is false when the installation is unenrolled.
func (self *Manager) Current() (Token, bool) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if StateEnrolled != self.state {
		return Token{}, false
	}

	return self.token, true
}

// Provision exchanges regCode for a device bound Token and persists it.
//
// It fails with ErrAlreadyEnrolled if a Token exists, ErrOperationInProgress if another
// lifecycle operation is in flight, ErrInvalidCode on a malformed code and
// ErrNetworkRejected/ErrUnreachable/ErrTimedOut on gateway failures. OOB registration is
// expected to have been performed first, see the orchestrator package.
func (self *Manager) Provision(ctx context.Context, userId string, regCode *secrets.Handle) (Token, error) {
	if "" == userId {
		return Token{}, wrapError(ErrInvalidCode, "empty userId")
	}
	code, err := regCode.Bytes()
	if nil != err || len(code) < minRegCodeLen {
		return Token{}, wrapError(ErrInvalidCode, "registration code unreadable or too short")
	}

	self.mut.Lock()
	switch self.state {
	case StateProvisioning, StateDeleting:
		self.mut.Unlock()
		return Token{}, wrapError(ErrOperationInProgress, "lifecycle operation in flight")
	case StateEnrolled:
		self.mut.Unlock()
		return Token{}, wrapError(ErrAlreadyEnrolled, "a token already exists")
	}
	self.state = StateProvisioning
	self.mut.Unlock()

	tok, err := self.provision(ctx, userId, code)

	self.mut.Lock()
	if nil != err {
		self.state = StateUnenrolled
	} else {
		self.state = StateEnrolled
		self.token = tok
	}
	self.mut.Unlock()

	if nil != err {
		return Token{}, err
	}
	self.log.Info("provisioned token", "userId", userId)

	return tok, nil
}

// provision runs the gateway exchange and local persistence, outside the Manager lock.
func (self *Manager) provision(ctx context.Context, userId string, code []byte) (Token, error) {
	grant, err := self.gw.CreateToken(ctx, gateway.TokenRequest{UserId: userId, RegistrationCode: code})
	if nil != err {
		return Token{}, mapGatewayError(err, "failed token creation")
	}
	err = grant.Check()
	if nil != err {
		return Token{}, wrapError(ErrNetworkRejected, "invalid token grant, Check returned %v", err)
	}

	tok := Token{
		DeviceId:    grant.DeviceId,
		UserId:      userId,
		Secret:      grant.Secret,
		CreatedAt:   time.Now().Unix(),
		MaxLifespan: grant.MaxLifespan,
		Factors:     self.factors.Enabled(),
	}
	srztok, err := cbor.Marshal(tok)
	if nil != err {
		return Token{}, wrapError(err, "failed token encoding")
	}
	if !self.store.SetString(tokenRecordKey, hex.EncodeToString(srztok)) {
		return Token{}, newError("failed persisting token record")
	}

	return tok, nil
}

// Delete destroys the enrolled Token.
//
// Remote destruction is attempted first; when the gateway can not be contacted the
// default policy still clears local state and reports ErrPartialCleanup, the
// RequireServerContact policy fails with ErrUnreachable before any local mutation.
func (self *Manager) Delete(ctx context.Context) error {
	self.mut.Lock()
	switch self.state {
	case StateProvisioning, StateDeleting:
		self.mut.Unlock()
		return wrapError(ErrOperationInProgress, "lifecycle operation in flight")
	case StateUnenrolled:
		self.mut.Unlock()
		return wrapError(ErrNotEnrolled, "no token to delete")
	}
	deviceId := self.token.DeviceId
	self.state = StateDeleting
	self.mut.Unlock()

	var partial error
	err := self.gw.DestroyToken(ctx, deviceId)
	if nil != err {
		offline := errors.Is(err, gateway.ErrUnreachable) || errors.Is(err, gateway.ErrTimedOut)
		if self.strict && offline {
			self.mut.Lock()
			self.state = StateEnrolled
			self.mut.Unlock()
			return mapGatewayError(err, "confirmed server contact required")
		}
		partial = wrapError(ErrPartialCleanup, "remote destruction failed with %v", err)
	}

	self.store.Remove(tokenRecordKey)
	self.mut.Lock()
	self.token = Token{}
	self.state = StateUnenrolled
	self.mut.Unlock()
	self.log.Info("deleted token", "partialCleanup", nil != partial)

	return partial
}

// GenerateOTP produces a fresh OTP, optionally bound to a server challenge.
//
// Pass factors.FactorAuto to select the proving factor through the precedence policy.
// The returned Handle is owned by the caller; OTP values are recomputed on every call,
// never cached.
func (self *Manager) GenerateOTP(ctx context.Context, factor factors.Factor, challenge *secrets.Handle) (*secrets.Handle, error) {
	self.mut.Lock()
	switch self.state {
	case StateProvisioning, StateDeleting:
		self.mut.Unlock()
		return nil, wrapError(ErrOperationInProgress, "lifecycle operation in flight")
	case StateUnenrolled:
		self.mut.Unlock()
		return nil, wrapError(ErrNotEnrolled, "no token")
	}
	if self.otpBusy {
		self.mut.Unlock()
		return nil, wrapError(ErrOperationInProgress, "OTP generation in flight")
	}
	self.otpBusy = true
	tok := self.token
	self.mut.Unlock()

	defer func() {
		self.mut.Lock()
		self.otpBusy = false
		self.mut.Unlock()
	}()

	now := time.Now()
	if tok.Expired(now) {
		return nil, wrapError(ErrLifespanExceeded, "token expired, re-provisioning required")
	}

	provider, err := self.selectProvider(factor, tok)
	if nil != err {
		return nil, err
	}

	proof, err := provider.ProduceProof(ctx)
	switch {
	case nil == err:
		// presence proven, the proof material itself is consumed here
		proof.Wipe()
	case errors.Is(err, factors.ErrCancelled):
		return nil, wrapError(ErrFactorCancelled, "user cancelled %s proof", provider.Kind())
	case errors.Is(err, factors.ErrTimedOut):
		return nil, wrapError(ErrTimedOut, "%s proof timed out", provider.Kind())
	case errors.Is(err, factors.ErrUnavailable):
		return nil, wrapError(ErrFactorUnavailable, "%s factor unavailable", provider.Kind())
	default:
		return nil, wrapError(err, "failed %s proof", provider.Kind())
	}

	var salt []byte
	if !challenge.Wiped() {
		salt, _ = challenge.Bytes()
	}

	return deriveOTP(tok.Secret, tok.DeviceId, salt, now)
}

// selectProvider resolves the proving factor, honoring the precedence policy for
// FactorAuto and the Token enabled factor set otherwise.
func (self *Manager) selectProvider(factor factors.Factor, tok Token) (factors.Provider, error) {
	if factors.FactorAuto == factor {
		provider, err := self.factors.MostComfortable()
		if nil != err {
			return nil, wrapError(ErrFactorUnavailable, "no available factor")
		}
		return provider, nil
	}

	if err := factor.Check(); nil != err {
		return nil, wrapError(ErrFactorUnavailable, "invalid factor %d", int(factor))
	}
	if !tok.FactorEnabled(factor) {
		return nil, wrapError(ErrFactorUnavailable, "%s factor not enabled on token", factor)
	}
	provider, found := self.factors.Get(factor)
	if !found || !provider.Available() {
		return nil, wrapError(ErrFactorUnavailable, "%s factor unavailable", factor)
	}

	return provider, nil
}

// mapGatewayError translates gateway error kinds into the package taxonomy.
func mapGatewayError(err error, msg string) error {
	switch {
	case errors.Is(err, gateway.ErrRejected):
		return wrapError(ErrNetworkRejected, "%s, got %v", msg, err)
	case errors.Is(err, gateway.ErrUnreachable):
		return wrapError(ErrUnreachable, "%s, got %v", msg, err)
	case errors.Is(err, gateway.ErrTimedOut):
		return wrapError(ErrTimedOut, "%s, got %v", msg, err)
	}

	return wrapError(err, "%s, got unclassified error", msg)
}
