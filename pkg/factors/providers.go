package factors

import (
	"context"
	"errors"
	"time"

	"code.aegisid.org/golang/pkg/secrets"
)

const defaultProofTimeout = 60 * time.Second

// PinPad is the UI collaborator presenting PIN entry.
//
// Implementations return the entered PIN, an error wrapping ErrCancelled when the user
// dismissed the entry, or any other error on failure.
type PinPad interface {
	RequestPin(ctx context.Context) (*secrets.Handle, error)
}

// BiometricSensor is the device collaborator driving a biometric prompt.
//
// Implementations return opaque proof material on a successful match, an error wrapping
// ErrCancelled when the user dismissed the prompt, or any other error on mismatch.
type BiometricSensor interface {
	Scan(ctx context.Context) (*secrets.Handle, error)
}

// PinProvider proves user presence through PIN entry.
// PIN is the universally available fallback factor; it has no enrollment precondition.
type PinProvider struct {
	Pad     PinPad
	Timeout time.Duration // 0 selects defaultProofTimeout
}

// Kind implements Provider.
func (self PinProvider) Kind() Factor {
	return FactorPin
}

// Available implements Provider.
func (self PinProvider) Available() bool {
	return nil != self.Pad
}

// ProduceProof requests PIN entry from the Pad collaborator.
func (self PinProvider) ProduceProof(ctx context.Context) (*secrets.Handle, error) {
	if !self.Available() {
		return nil, wrapError(ErrUnavailable, "no PinPad collaborator")
	}

	return produceProof(ctx, self.Timeout, self.Pad.RequestPin)
}

var _ Provider = PinProvider{}

// BiometricProvider proves user presence through a biometric sensor.
// The same type serves the system biometric and the vendor biometric SDK; only the
// availability rule differs: the vendor factor additionally requires template enrollment.
type BiometricProvider struct {
	Factor           Factor // FactorSystemBiometric or FactorVendorBiometric
	Sensor           BiometricSensor
	Supported        bool // device support
	UserEnabled      bool
	TemplateEnrolled bool // only meaningful for FactorVendorBiometric
	Timeout          time.Duration
}

// Kind implements Provider.
func (self BiometricProvider) Kind() Factor {
	return self.Factor
}

// Available implements Provider.
func (self BiometricProvider) Available() bool {
	if nil == self.Sensor || !self.Supported || !self.UserEnabled {
		return false
	}
	if FactorVendorBiometric == self.Factor && !self.TemplateEnrolled {
		return false
	}

	return true
}

// ProduceProof runs the biometric prompt through the Sensor collaborator.
func (self BiometricProvider) ProduceProof(ctx context.Context) (*secrets.Handle, error) {
	if !self.Available() {
		return nil, wrapError(ErrUnavailable, "%s factor not available", self.Factor)
	}

	return produceProof(ctx, self.Timeout, self.Sensor.Scan)
}

var _ Provider = BiometricProvider{}

// produceProof runs collect under a deadline and normalizes its outcome into the package
// error taxonomy. Cancellation is preserved as ErrCancelled, never downgraded to
// ErrFailed, so callers can treat it as a deliberate no-op.
func produceProof(ctx context.Context, timeout time.Duration, collect func(context.Context) (*secrets.Handle, error)) (*secrets.Handle, error) {
	if timeout <= 0 {
		timeout = defaultProofTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proof, err := collect(tctx)
	switch {
	case nil == err:
		// fallthrough to proof validation
	case errors.Is(err, ErrCancelled):
		return nil, wrapError(err, "user cancelled proof collection")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, wrapError(ErrTimedOut, "proof collection exceeded %s", timeout)
	case errors.Is(err, context.Canceled):
		return nil, wrapError(ErrCancelled, "proof collection context cancelled")
	default:
		return nil, wrapError(ErrFailed, "proof collection failed, got error %v", err)
	}

	if proof.Wiped() {
		return nil, wrapError(ErrFailed, "collaborator returned empty proof")
	}

	return proof, nil
}
