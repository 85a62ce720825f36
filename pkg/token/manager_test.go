package token

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"code.aegisid.org/golang/pkg/factors"
	"code.aegisid.org/golang/pkg/gateway"
	"code.aegisid.org/golang/pkg/secrets"
	"code.aegisid.org/golang/pkg/storage"
)

// fakeGateway implements gateway.Client with overridable create/destroy behavior.
type fakeGateway struct {
	createToken  func(ctx context.Context, req gateway.TokenRequest) (gateway.TokenGrant, error)
	destroyToken func(ctx context.Context, deviceId []byte) error
}

func (self *fakeGateway) RegisterClient(ctx context.Context, reg gateway.ClientRegistration) error {
	return nil
}
func (self *fakeGateway) UnregisterClient(ctx context.Context, clientId string) error {
	return nil
}
func (self *fakeGateway) RegisterOOB(ctx context.Context, reg gateway.OobRegistration) (gateway.OobRegistrationResponse, error) {
	return gateway.OobRegistrationResponse{}, nil
}
func (self *fakeGateway) UnregisterOOB(ctx context.Context, clientId string) error {
	return nil
}
func (self *fakeGateway) CreateToken(ctx context.Context, req gateway.TokenRequest) (gateway.TokenGrant, error) {
	if nil != self.createToken {
		return self.createToken(ctx, req)
	}
	return newGrant(0x01), nil
}
func (self *fakeGateway) DestroyToken(ctx context.Context, deviceId []byte) error {
	if nil != self.destroyToken {
		return self.destroyToken(ctx, deviceId)
	}
	return nil
}
func (self *fakeGateway) SubmitDecision(ctx context.Context, dec gateway.DecisionSubmission) error {
	return nil
}
func (self *fakeGateway) FetchMessages(ctx context.Context, clientId string) ([]gateway.QueuedMessage, error) {
	return nil, nil
}

// stubPad returns a fixed PIN, or the configured error.
type stubPad struct {
	err error
}

func (self stubPad) RequestPin(ctx context.Context) (*secrets.Handle, error) {
	if nil != self.err {
		return nil, self.err
	}
	return secrets.NewFromString("1234"), nil
}

func newGrant(fill byte) gateway.TokenGrant {
	deviceId := bytes.Repeat([]byte{fill}, 16)
	secret := bytes.Repeat([]byte{fill ^ 0xFF}, 32)
	return gateway.TokenGrant{DeviceId: deviceId, Secret: secret, MaxLifespan: 3600}
}

func newTestManager(t *testing.T, gw gateway.Client, store storage.Store) *Manager {
	t.Helper()

	set, err := factors.NewSet(factors.PinProvider{Pad: stubPad{}})
	if nil != err {
		t.Fatalf("failed factor Set construction, got error %v", err)
	}
	mgr, err := NewManager(Config{Gateway: gw, SecureStore: store, Factors: set})
	if nil != err {
		t.Fatalf("failed Manager construction, got error %v", err)
	}

	return mgr
}

func TestProvisionAndReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	gw := &fakeGateway{}
	mgr := newTestManager(t, gw, store)

	if mgr.Enrolled() {
		t.Fatal("expected fresh Manager to be unenrolled")
	}

	code := secrets.NewFromString("123456")
	tok, err := mgr.Provision(ctx, "alice", code)
	if nil != err {
		t.Fatalf("failed Provision, got error %v", err)
	}
	if err = tok.Check(); nil != err {
		t.Fatalf("Provision returned invalid Token, Check error %v", err)
	}
	if !mgr.Enrolled() {
		t.Error("expected Manager to be enrolled after Provision")
	}

	// a second Provision is rejected
	_, err = mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if !errors.Is(err, ErrAlreadyEnrolled) {
		t.Errorf("expected ErrAlreadyEnrolled, got %v", err)
	}

	// a Manager over the same store reloads the Token
	reloaded := newTestManager(t, gw, store)
	rtok, found := reloaded.Current()
	if !found || !bytes.Equal(rtok.DeviceId, tok.DeviceId) {
		t.Errorf("expected reloaded Manager to expose the persisted Token")
	}
}

func TestProvisionInvalidCode(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &fakeGateway{}, storage.NewMemStore())

	testcases := []*secrets.Handle{
		nil,
		secrets.NewFromString("123"), // too short
		func() *secrets.Handle { h := secrets.NewFromString("123456"); h.Wipe(); return h }(),
	}
	for pos, code := range testcases {
		_, err := mgr.Provision(ctx, "alice", code)
		if !errors.Is(err, ErrInvalidCode) {
			t.Errorf("[%d] expected ErrInvalidCode, got %v", pos, err)
		}
	}

	_, err := mgr.Provision(ctx, "", secrets.NewFromString("123456"))
	if !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expected ErrInvalidCode for empty userId, got %v", err)
	}
}

func TestProvisionConcurrent(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		createToken: func(ctx context.Context, req gateway.TokenRequest) (gateway.TokenGrant, error) {
			close(entered)
			<-release
			return newGrant(0x01), nil
		},
	}
	mgr := newTestManager(t, gw, storage.NewMemStore())

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
		done <- err
	}()

	<-entered
	_, err := mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("expected ErrOperationInProgress while provisioning in flight, got %v", err)
	}

	close(release)
	err = <-done
	if nil != err {
		t.Errorf("failed in flight Provision, got error %v", err)
	}
	if !mgr.Enrolled() {
		t.Error("expected exactly one Token after concurrent Provision attempts")
	}
}

func TestProvisionRejected(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		createToken: func(ctx context.Context, req gateway.TokenRequest) (gateway.TokenGrant, error) {
			return gateway.TokenGrant{}, gateway.ErrRejected
		},
	}
	mgr := newTestManager(t, gw, storage.NewMemStore())

	_, err := mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if !errors.Is(err, ErrNetworkRejected) {
		t.Errorf("expected ErrNetworkRejected, got %v", err)
	}
	if mgr.Enrolled() {
		t.Error("expected Manager to stay unenrolled after rejection")
	}

	// a later Provision against a healthy gateway succeeds
	gw.createToken = nil
	_, err = mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if nil != err {
		t.Errorf("failed Provision retry, got error %v", err)
	}
}

func TestDeletePartialCleanup(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	fill := byte(0x01)
	gw := &fakeGateway{
		createToken: func(ctx context.Context, req gateway.TokenRequest) (gateway.TokenGrant, error) {
			fill++
			return newGrant(fill), nil
		},
		destroyToken: func(ctx context.Context, deviceId []byte) error {
			return gateway.ErrUnreachable
		},
	}
	mgr := newTestManager(t, gw, store)

	tok, err := mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if nil != err {
		t.Fatalf("failed Provision, got error %v", err)
	}

	// remote destruction fails, local cleanup proceeds
	err = mgr.Delete(ctx)
	if !errors.Is(err, ErrPartialCleanup) {
		t.Fatalf("expected ErrPartialCleanup, got %v", err)
	}
	if mgr.Enrolled() {
		t.Error("expected Manager to be unenrolled after partial Delete")
	}
	if _, found := store.GetString("token.record"); found {
		t.Error("expected persisted token record to be removed")
	}

	// re-provisioning yields a fresh binding identifier
	fresh, err := mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if nil != err {
		t.Fatalf("failed re-Provision, got error %v", err)
	}
	if bytes.Equal(fresh.DeviceId, tok.DeviceId) {
		t.Error("expected a fresh DeviceId after delete + re-provision")
	}
}

func TestDeleteRequireServerContact(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	gw := &fakeGateway{
		destroyToken: func(ctx context.Context, deviceId []byte) error {
			return gateway.ErrUnreachable
		},
	}
	set, err := factors.NewSet(factors.PinProvider{Pad: stubPad{}})
	if nil != err {
		t.Fatalf("failed factor Set construction, got error %v", err)
	}
	mgr, err := NewManager(Config{Gateway: gw, SecureStore: store, Factors: set, RequireServerContact: true})
	if nil != err {
		t.Fatalf("failed Manager construction, got error %v", err)
	}

	_, err = mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if nil != err {
		t.Fatalf("failed Provision, got error %v", err)
	}

	// strict policy: no local mutation when the gateway is unreachable
	err = mgr.Delete(ctx)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if !mgr.Enrolled() {
		t.Error("expected Manager to stay enrolled under strict policy")
	}
}

func TestGenerateOTP(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &fakeGateway{}, storage.NewMemStore())

	// unenrolled
	_, err := mgr.GenerateOTP(ctx, factors.FactorAuto, nil)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}

	_, err = mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if nil != err {
		t.Fatalf("failed Provision, got error %v", err)
	}

	// auto selection falls back to PIN, OTP is decimal
	otp, err := mgr.GenerateOTP(ctx, factors.FactorAuto, nil)
	if nil != err {
		t.Fatalf("failed GenerateOTP, got error %v", err)
	}
	digits, err := otp.Bytes()
	if nil != err || 8 != len(digits) {
		t.Fatalf("expected an 8 digit OTP, got %q, error %v", digits, err)
	}
	for pos, c := range digits {
		if c < '0' || c > '9' {
			t.Errorf("OTP byte [%d] is not a decimal digit: %q", pos, c)
		}
	}

	// a challenge binds the OTP to a transaction
	bound, err := mgr.GenerateOTP(ctx, factors.FactorAuto, secrets.NewFromString("challenge-001"))
	if nil != err {
		t.Fatalf("failed challenge bound GenerateOTP, got error %v", err)
	}
	if otp.Equal(bound) {
		t.Error("expected challenge bound OTP to differ from the plain one")
	}

	// requesting a factor the token does not carry
	_, err = mgr.GenerateOTP(ctx, factors.FactorSystemBiometric, nil)
	if !errors.Is(err, ErrFactorUnavailable) {
		t.Errorf("expected ErrFactorUnavailable, got %v", err)
	}
}

func TestGenerateOTPCancelled(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	set, err := factors.NewSet(factors.PinProvider{Pad: stubPad{err: factors.ErrCancelled}})
	if nil != err {
		t.Fatalf("failed factor Set construction, got error %v", err)
	}
	mgr, err := NewManager(Config{Gateway: &fakeGateway{}, SecureStore: store, Factors: set})
	if nil != err {
		t.Fatalf("failed Manager construction, got error %v", err)
	}

	_, err = mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
	if nil != err {
		t.Fatalf("failed Provision, got error %v", err)
	}

	_, err = mgr.GenerateOTP(ctx, factors.FactorAuto, nil)
	if !errors.Is(err, ErrFactorCancelled) {
		t.Errorf("expected ErrFactorCancelled, got %v", err)
	}
}

func TestGenerateOTPLifespan(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		mgr := newTestManager(t, &fakeGateway{}, storage.NewMemStore())

		_, err := mgr.Provision(ctx, "alice", secrets.NewFromString("123456"))
		if nil != err {
			t.Fatalf("failed Provision, got error %v", err)
		}

		// grant lifespan is 3600s, cross it
		time.Sleep(3601 * time.Second)
		_, err = mgr.GenerateOTP(ctx, factors.FactorAuto, nil)
		if !errors.Is(err, ErrLifespanExceeded) {
			t.Errorf("expected ErrLifespanExceeded, got %v", err)
		}
	})
}
