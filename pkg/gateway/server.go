package gateway

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"code.aegisid.org/golang/internal/observability"
)

const defaultTokenLifespan = 90 * 24 * time.Hour

// userRecord tracks one authorized user on the reference gateway.
type userRecord struct {
	RegCode   []byte
	ClientId  string // empty until RegisterOOB succeeded
	PushToken string
}

// tokenRecord tracks one provisioned token.
type tokenRecord struct {
	UserId string
	Secret []byte
}

// Server is a reference OOB gateway implementation.
//
// It keeps registrations and tokens in memory and pending messages in a MessageStore;
// it exists so the enrollment and approval flows can be exercised end to end against a
// loopback deployment. Decision OTPs are checked for presence only, OTP validation
// belongs to the authentication server behind the gateway.
type Server struct {
	store       MessageStore
	log         *slog.Logger
	maxLifespan int64

	mut     sync.Mutex
	users   map[string]*userRecord   // userId -> record
	clients map[string]string        // clientId -> userId
	tokens  map[string]tokenRecord   // hex deviceId -> record
	issued  map[string]QueuedMessage // messageId -> pending decision
}

// ServerConfig parametrizes NewServer.
type ServerConfig struct {
	Store         MessageStore
	Log           *slog.Logger  // defaults to a disabled logger
	TokenLifespan time.Duration // 0 selects defaultTokenLifespan
}

// NewServer instantiates a reference gateway Server.
// It errors if cfg carries no MessageStore.
func NewServer(cfg ServerConfig) (*Server, error) {
	if nil == cfg.Store {
		return nil, newError("nil MessageStore")
	}
	log := cfg.Log
	if nil == log {
		log = observability.NoopLogger()
	}
	lifespan := cfg.TokenLifespan
	if lifespan <= 0 {
		lifespan = defaultTokenLifespan
	}

	return &Server{
		store:       cfg.Store,
		log:         observability.ComponentLogger(log, "gateway"),
		maxLifespan: int64(lifespan / time.Second),
		users:       make(map[string]*userRecord),
		clients:     make(map[string]string),
		tokens:      make(map[string]tokenRecord),
		issued:      make(map[string]QueuedMessage),
	}, nil
}

// AddAuthorization authorizes userId to register with regCode.
// It mirrors the out of band step where a relying application hands a registration code
// to its user.
func (self *Server) AddAuthorization(userId string, regCode []byte) error {
	if "" == userId || len(regCode) < minRegCodeLen {
		return newError("invalid authorization parameters")
	}

	self.mut.Lock()
	defer self.mut.Unlock()
	self.users[userId] = &userRecord{RegCode: regCode}

	return nil
}

// IssueChallenge queues an authentication request for clientId and returns the issued
// message. The message stays pending until a decision is submitted for it.
func (self *Server) IssueChallenge(clientId string, text string, challenge []byte) (QueuedMessage, error) {
	msg := QueuedMessage{
		Id:        uuid.New().String(),
		Text:      text,
		Challenge: challenge,
		SentAt:    time.Now().Unix(),
	}

	self.mut.Lock()
	_, known := self.clients[clientId]
	if known {
		self.issued[msg.Id] = msg
	}
	self.mut.Unlock()
	if !known {
		return QueuedMessage{}, newError("unknown client %s", clientId)
	}

	err := self.store.Append(context.Background(), clientId, msg)
	if nil != err {
		return QueuedMessage{}, wrapError(err, "failed queueing message")
	}

	return msg, nil
}

// Handler returns the gateway http.Handler with request observability applied.
func (self *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oob/registrations", self.handleRegisterOOB)
	mux.HandleFunc("POST /oob/registrations/unregister", self.handleUnregisterOOB)
	mux.HandleFunc("POST /oob/clients", self.handleRegisterClient)
	mux.HandleFunc("POST /oob/clients/unregister", self.handleUnregisterClient)
	mux.HandleFunc("POST /tokens", self.handleCreateToken)
	mux.HandleFunc("POST /tokens/destroy", self.handleDestroyToken)
	mux.HandleFunc("POST /decisions", self.handleSubmitDecision)
	mux.HandleFunc("POST /messages/fetch", self.handleFetchMessages)

	mw := observability.Middleware{TraceIdHeader: "X-Trace-Id"}

	return mw.Wrap(mux)
}

func (self *Server) handleRegisterOOB(w http.ResponseWriter, r *http.Request) {
	reg := OobRegistration{}
	if !readMsg(w, r, &reg) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	user, found := self.users[reg.UserId]
	if !found || 1 != subtle.ConstantTimeCompare(user.RegCode, reg.RegistrationCode) {
		http.Error(w, "unknown user or invalid registration code", http.StatusForbidden)
		return
	}
	if "" == user.ClientId {
		user.ClientId = uuid.New().String()
		self.clients[user.ClientId] = reg.UserId
	}
	if "" != reg.PushToken {
		user.PushToken = reg.PushToken
	}
	self.log.Info("registered OOB client", "userId", reg.UserId, "clientId", user.ClientId)

	writeMsg(w, OobRegistrationResponse{ClientId: user.ClientId})
}

func (self *Server) handleUnregisterOOB(w http.ResponseWriter, r *http.Request) {
	ref := clientRef{}
	if !readMsg(w, r, &ref) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	userId, found := self.clients[ref.ClientId]
	if found {
		delete(self.clients, ref.ClientId)
		if user, ok := self.users[userId]; ok {
			user.ClientId = ""
			user.PushToken = ""
		}
		self.log.Info("unregistered OOB client", "clientId", ref.ClientId)
	}

	// unregistration is idempotent
	writeMsg(w, struct{}{})
}

func (self *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	reg := ClientRegistration{}
	if !readMsg(w, r, &reg) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	userId, found := self.clients[reg.ClientId]
	if !found {
		http.Error(w, "unknown client id", http.StatusForbidden)
		return
	}
	self.users[userId].PushToken = reg.PushToken
	self.log.Info("bound push token", "clientId", reg.ClientId)

	writeMsg(w, struct{}{})
}

func (self *Server) handleUnregisterClient(w http.ResponseWriter, r *http.Request) {
	ref := clientRef{}
	if !readMsg(w, r, &ref) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	if userId, found := self.clients[ref.ClientId]; found {
		self.users[userId].PushToken = ""
	}

	writeMsg(w, struct{}{})
}

func (self *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	req := TokenRequest{}
	if !readMsg(w, r, &req) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	user, found := self.users[req.UserId]
	if !found || 1 != subtle.ConstantTimeCompare(user.RegCode, req.RegistrationCode) {
		http.Error(w, "unknown user or invalid registration code", http.StatusForbidden)
		return
	}
	if "" == user.ClientId {
		// the OOB identity must exist before a token is granted
		http.Error(w, "OOB registration required before provisioning", http.StatusConflict)
		return
	}

	deviceUid := uuid.New()
	secret := make([]byte, minSecretLen)
	_, err := rand.Read(secret)
	if nil != err {
		http.Error(w, "entropy failure", http.StatusInternalServerError)
		return
	}
	grant := TokenGrant{DeviceId: deviceUid[:], Secret: secret, MaxLifespan: self.maxLifespan}
	self.tokens[hex.EncodeToString(grant.DeviceId)] = tokenRecord{UserId: req.UserId, Secret: secret}
	self.log.Info("issued token grant", "userId", req.UserId)

	writeMsg(w, grant)
}

func (self *Server) handleDestroyToken(w http.ResponseWriter, r *http.Request) {
	ref := deviceRef{}
	if !readMsg(w, r, &ref) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	key := hex.EncodeToString(ref.DeviceId)
	if _, found := self.tokens[key]; found {
		delete(self.tokens, key)
		self.log.Info("destroyed token", "deviceId", key)
	}

	// destruction is idempotent
	writeMsg(w, struct{}{})
}

func (self *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	dec := DecisionSubmission{}
	if !readMsg(w, r, &dec) {
		return
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	if _, found := self.issued[dec.MessageId]; !found {
		http.Error(w, "unknown or already decided message", http.StatusNotFound)
		return
	}
	delete(self.issued, dec.MessageId)
	self.log.Info("recorded decision", "msgId", dec.MessageId, "approved", dec.Approved)

	writeMsg(w, struct{}{})
}

func (self *Server) handleFetchMessages(w http.ResponseWriter, r *http.Request) {
	ref := clientRef{}
	if !readMsg(w, r, &ref) {
		return
	}

	msgs, err := self.store.Drain(r.Context(), ref.ClientId)
	if nil != err {
		http.Error(w, "message store failure", http.StatusInternalServerError)
		return
	}

	writeMsg(w, messageBatch{Messages: msgs})
}

// readMsg decodes the request body into msg, replying 400 on any decode or validation
// failure. It returns true when the handler may proceed.
func readMsg(w http.ResponseWriter, r *http.Request, msg any) bool {
	body, err := io.ReadAll(r.Body)
	if nil != err {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return false
	}
	err = cborSrz.Unmarshal(body, msg)
	if nil != err {
		http.Error(w, "malformed message", http.StatusBadRequest)
		return false
	}

	return true
}

// writeMsg replies msg cbor encoded.
func writeMsg(w http.ResponseWriter, msg any) {
	srzmsg, err := cborSrz.Marshal(msg)
	if nil != err {
		http.Error(w, "serialization failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.Write(srzmsg)
}
