// Package oob owns the out-of-band channel state of the authenticator: push token
// registration, client id binding against the gateway, and the queue of incoming
// authentication requests.
package oob

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"code.aegisid.org/golang/internal/fsm"
	"code.aegisid.org/golang/internal/observability"
	"code.aegisid.org/golang/pkg/gateway"
	"code.aegisid.org/golang/pkg/secrets"
	"code.aegisid.org/golang/pkg/storage"
)

// registration machine states
const (
	StateUnregistered = iota
	StateTokenPending
	StateClientBound
	StateRegistered
)

// fast store keys
const (
	keyPushToken  = "oob.pushToken"
	keyClientId   = "oob.clientId"
	keyRegistered = "oob.registered"
)

// event tags of the registration machine
const (
	evtSubmitToken    = "submitPushToken"
	evtRegisterClient = "registerClientId"
	evtRegisterOOB    = "registerOOB"
)

// Config parametrizes NewManager.
type Config struct {
	Gateway   gateway.Client
	FastStore storage.Store // non sensitive flags tier
	Log       *slog.Logger
}

// Manager drives the OOB registration machine and the incoming message queue.
//
// Registration operations are serialized per instance; a second network operation while
// one is in flight fails with ErrOperationInProgress. No automatic retry is performed,
// retrying is the caller's responsibility.
type Manager struct {
	gw    gateway.Client
	store storage.Store
	log   *slog.Logger
	queue *messageQueue

	mut       sync.Mutex
	busy      bool
	state     int
	pushToken string
	clientId  string
}

// NewManager instantiates a Manager, restoring persisted registration state.
func NewManager(cfg Config) (*Manager, error) {
	if nil == cfg.Gateway || nil == cfg.FastStore {
		return nil, newError("Gateway and FastStore are both required")
	}
	log := cfg.Log
	if nil == log {
		log = observability.NoopLogger()
	}

	self := &Manager{
		gw:    cfg.Gateway,
		store: cfg.FastStore,
		log:   observability.ComponentLogger(log, "oob"),
		queue: newMessageQueue(),
	}
	self.pushToken, _ = cfg.FastStore.GetString(keyPushToken)
	self.clientId, _ = cfg.FastStore.GetString(keyClientId)
	registered, _ := cfg.FastStore.GetInt(keyRegistered)

	switch {
	case "" != self.clientId && 1 == registered:
		self.state = StateRegistered
	case "" != self.clientId:
		self.state = StateClientBound
	case "" != self.pushToken:
		self.state = StateTokenPending
	default:
		self.state = StateUnregistered
	}

	return self, nil
}

// State returns the current registration machine state.
func (self *Manager) State() int {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.state
}

// Registered reports whether the current push token is bound to the gateway.
func (self *Manager) Registered() bool {
	return StateRegistered == self.State()
}

// CurrentPushToken returns the last submitted platform push token, "" if none.
func (self *Manager) CurrentPushToken() string {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.pushToken
}

// ClientID returns the gateway assigned OOB client id, "" before registration.
func (self *Manager) ClientID() string {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.clientId
}

// SubmitPushToken records the platform push token locally; it never contacts the server.
//
// Submitting the unchanged token while Registered is a no-op success; a changed token
// invalidates the server binding and downgrades the machine to TokenPending so the
// caller re-registers.
func (self *Manager) SubmitPushToken(token string) error {
	if "" == token {
		return wrapError(ErrMalformed, "empty push token")
	}

	return self.dispatch(fsm.Event{Tag: evtSubmitToken, Data: token})
}

// RegisterClientID binds the current push token to clientId on the gateway.
// On network failure the machine stays in its prior state.
func (self *Manager) RegisterClientID(ctx context.Context, clientId string) error {
	if "" == clientId {
		return newError("empty clientId")
	}

	return self.dispatch(fsm.Event{Tag: evtRegisterClient, Data: registerClientArgs{ctx: ctx, clientId: clientId}})
}

// RegisterOOB enrolls userId on the OOB channel, binding the current push token when
// one was submitted. On success the gateway assigned client id is persisted.
func (self *Manager) RegisterOOB(ctx context.Context, userId string, regCode *secrets.Handle) (gateway.OobRegistrationResponse, error) {
	code, err := regCode.Bytes()
	if nil != err {
		return gateway.OobRegistrationResponse{}, wrapError(ErrMalformed, "registration code unreadable")
	}

	args := registerOOBArgs{ctx: ctx, userId: userId, code: code, resp: &gateway.OobRegistrationResponse{}}
	err = self.dispatch(fsm.Event{Tag: evtRegisterOOB, Data: args})
	if nil != err {
		return gateway.OobRegistrationResponse{}, err
	}

	return *args.resp, nil
}

// UnregisterOOB performs best-effort remote unregistration and always clears the local
// registration state. A remote failure is reported as ErrPartialCleanup.
func (self *Manager) UnregisterOOB(ctx context.Context) error {
	self.mut.Lock()
	if self.busy {
		self.mut.Unlock()
		return wrapError(ErrOperationInProgress, "registration operation in flight")
	}
	self.busy = true
	clientId := self.clientId
	self.mut.Unlock()
	defer self.release()

	var partial error
	if "" != clientId {
		err := self.gw.UnregisterOOB(ctx, clientId)
		if nil != err {
			partial = wrapError(ErrPartialCleanup, "remote unregistration failed with %v", err)
		}
	}

	self.store.Remove(keyClientId)
	self.store.Remove(keyRegistered)
	self.mut.Lock()
	self.clientId = ""
	if "" != self.pushToken {
		self.state = StateTokenPending
	} else {
		self.state = StateUnregistered
	}
	self.mut.Unlock()
	self.log.Info("unregistered OOB channel", "partialCleanup", nil != partial)

	return partial
}

// SubmitDecision forwards an approve/deny decision to the gateway.
func (self *Manager) SubmitDecision(ctx context.Context, dec gateway.DecisionSubmission) error {
	err := dec.Check()
	if nil != err {
		return wrapError(ErrMalformed, "invalid decision, Check returned %v", err)
	}
	err = self.gw.SubmitDecision(ctx, dec)
	if nil != err {
		return mapGatewayError(err, "failed decision submission")
	}

	return nil
}

// ProcessIncomingPush parses a raw notification payload and enqueues the resulting
// message. Unknown payload fields are ignored; duplicates of already seen messages are
// dropped silently.
func (self *Manager) ProcessIncomingPush(payload []byte) error {
	msg, err := parsePushPayload(payload)
	if nil != err {
		return err
	}
	if !self.queue.push(msg) {
		self.log.Debug("dropped duplicate push message", "msgId", msg.Id)
	}

	return nil
}

// FetchQueuedMessages polls the gateway for messages missed while offline and merges
// them into the local queue, de-duplicating against already delivered pushes.
// It returns the messages that were actually new.
func (self *Manager) FetchQueuedMessages(ctx context.Context) ([]IncomingMessage, error) {
	clientId := self.ClientID()
	if "" == clientId {
		return nil, wrapError(ErrNotRegistered, "no client id, register first")
	}

	fetched, err := self.gw.FetchMessages(ctx, clientId)
	if nil != err {
		return nil, mapGatewayError(err, "failed message fetch")
	}

	var merged []IncomingMessage
	for _, qm := range fetched {
		msg := fromQueuedMessage(qm)
		if self.queue.push(msg) {
			merged = append(merged, msg)
		}
	}

	return merged, nil
}

// HasQueuedMessage reports whether at least one message is pending.
func (self *Manager) HasQueuedMessage() bool {
	return self.queue.size() > 0
}

// QueuedMessageCount returns the number of pending messages.
func (self *Manager) QueuedMessageCount() int {
	return self.queue.size()
}

// NextMessage activates and returns the oldest pending message.
// It returns false while another message is active or the queue is empty.
func (self *Manager) NextMessage() (IncomingMessage, bool) {
	return self.queue.next()
}

// CancelMessage returns the active message to the queue head, un-consumed, so the user
// can decide later. Cancelling with no active message is a no-op.
func (self *Manager) CancelMessage() {
	self.queue.cancel()
}

// ConsumeMessage removes the active message once its decision handler completed.
func (self *Manager) ConsumeMessage() {
	self.queue.consume()
}

// dispatch runs evt through the registration machine under the single in-flight guard.
func (self *Manager) dispatch(evt fsm.Event) error {
	self.mut.Lock()
	if self.busy {
		self.mut.Unlock()
		return wrapError(ErrOperationInProgress, "registration operation in flight")
	}
	self.busy = true
	self.mut.Unlock()
	defer self.release()

	return fsm.Update(machine{m: self}, transitions, evt)
}

func (self *Manager) release() {
	self.mut.Lock()
	self.busy = false
	self.mut.Unlock()
}

// machine adapts Manager to the fsm.StateM contract without exposing SetState.
// The busy guard serializes transitions; the Manager mutex only covers field access so
// concurrent readers stay race free while a handler runs.
type machine struct {
	m *Manager
}

func (self machine) State() int {
	self.m.mut.Lock()
	defer self.m.mut.Unlock()

	return self.m.state
}

func (self machine) SetState(s int) {
	self.m.mut.Lock()
	defer self.m.mut.Unlock()

	self.m.state = s
}

// transitions is the registration machine table, indexed by state.
var transitions = []fsm.Transition[int, machine]{
	StateUnregistered: {
		Allow: []string{evtSubmitToken, evtRegisterOOB},
		Call:  machine.handleEvent,
		Exit:  []int{StateTokenPending, StateClientBound, StateRegistered},
	},
	StateTokenPending: {
		Allow: []string{evtSubmitToken, evtRegisterClient, evtRegisterOOB},
		Call:  machine.handleEvent,
		Exit:  []int{StateTokenPending, StateRegistered},
	},
	StateClientBound: {
		Allow: []string{evtSubmitToken, evtRegisterClient, evtRegisterOOB},
		Call:  machine.handleEvent,
		Exit:  []int{StateClientBound, StateRegistered},
	},
	StateRegistered: {
		Allow: []string{evtSubmitToken, evtRegisterClient, evtRegisterOOB},
		Call:  machine.handleEvent,
		Exit:  []int{StateTokenPending, StateRegistered},
	},
}

type registerClientArgs struct {
	ctx      context.Context
	clientId string
}

type registerOOBArgs struct {
	ctx    context.Context
	userId string
	code   []byte
	resp   *gateway.OobRegistrationResponse
}

// handleEvent performs the work attached to a registration transition.
func (self machine) handleEvent(evt fsm.Event) (int, error) {
	switch evt.Tag {
	case evtSubmitToken:
		return self.submitToken(evt.Data.(string))
	case evtRegisterClient:
		args := evt.Data.(registerClientArgs)
		return self.registerClient(args.ctx, args.clientId)
	case evtRegisterOOB:
		args := evt.Data.(registerOOBArgs)
		return self.registerOOB(args.ctx, args.userId, args.code, args.resp)
	}

	return 0, newError("unsupported event %s", evt.Tag)
}

func (self machine) submitToken(token string) (int, error) {
	m := self.m
	m.mut.Lock()
	unchanged := token == m.pushToken
	state := m.state
	m.mut.Unlock()

	if unchanged && StateRegistered == state {
		// unchanged and already bound, nothing to do
		return StateRegistered, nil
	}

	if !m.store.SetString(keyPushToken, token) {
		return 0, newError("failed persisting push token")
	}
	m.mut.Lock()
	m.pushToken = token
	m.mut.Unlock()

	switch state {
	case StateClientBound:
		return StateClientBound, nil
	case StateRegistered:
		// the server binding now references a stale token
		m.store.SetInt(keyRegistered, 0)
		m.log.Info("push token changed, registration downgraded")
		return StateTokenPending, nil
	default:
		return StateTokenPending, nil
	}
}

func (self machine) registerClient(ctx context.Context, clientId string) (int, error) {
	m := self.m
	m.mut.Lock()
	pushToken := m.pushToken
	m.mut.Unlock()
	if "" == pushToken {
		return 0, newError("no push token submitted")
	}

	err := m.gw.RegisterClient(ctx, gateway.ClientRegistration{ClientId: clientId, PushToken: pushToken})
	if nil != err {
		return 0, mapGatewayError(err, "failed client binding")
	}

	if !m.store.SetString(keyClientId, clientId) || !m.store.SetInt(keyRegistered, 1) {
		return 0, newError("failed persisting registration state")
	}
	m.mut.Lock()
	m.clientId = clientId
	m.mut.Unlock()
	m.log.Info("bound push token to client", "clientId", clientId)

	return StateRegistered, nil
}

func (self machine) registerOOB(ctx context.Context, userId string, code []byte, dst *gateway.OobRegistrationResponse) (int, error) {
	m := self.m
	m.mut.Lock()
	pushToken := m.pushToken
	m.mut.Unlock()

	reg := gateway.OobRegistration{UserId: userId, RegistrationCode: code, PushToken: pushToken}
	err := reg.Check()
	if nil != err {
		return 0, wrapError(ErrMalformed, "invalid registration, Check returned %v", err)
	}

	resp, err := m.gw.RegisterOOB(ctx, reg)
	if nil != err {
		return 0, mapGatewayError(err, "failed OOB registration")
	}
	err = resp.Check()
	if nil != err {
		return 0, wrapError(ErrRejected, "invalid registration response, Check returned %v", err)
	}

	if !m.store.SetString(keyClientId, resp.ClientId) {
		return 0, newError("failed persisting client id")
	}
	m.mut.Lock()
	m.clientId = resp.ClientId
	m.mut.Unlock()
	*dst = resp

	if "" != pushToken {
		// the registration carried the push token, the binding is complete
		m.store.SetInt(keyRegistered, 1)
		m.log.Info("registered OOB channel", "clientId", resp.ClientId)
		return StateRegistered, nil
	}
	m.log.Info("registered OOB channel, push token pending", "clientId", resp.ClientId)

	return StateClientBound, nil
}

// mapGatewayError translates gateway error kinds into the package taxonomy.
func mapGatewayError(err error, msg string) error {
	switch {
	case errors.Is(err, gateway.ErrRejected):
		return wrapError(ErrRejected, "%s, got %v", msg, err)
	case errors.Is(err, gateway.ErrUnreachable):
		return wrapError(ErrUnreachable, "%s, got %v", msg, err)
	case errors.Is(err, gateway.ErrTimedOut):
		return wrapError(ErrTimedOut, "%s, got %v", msg, err)
	}

	return wrapError(err, "%s, got unclassified error", msg)
}
