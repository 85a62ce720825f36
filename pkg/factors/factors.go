// Package factors models the authentication factors a user can prove presence with:
// PIN entry, the device biometric, or a vendor biometric SDK.
//
// Each factor is exposed as a Provider; the Set groups the providers installed on a
// device and implements the fixed "most comfortable" selection policy: system biometric
// first, vendor biometric next, PIN as the universally available fallback.
package factors

import (
	"context"

	"code.aegisid.org/golang/internal/utils"
	"code.aegisid.org/golang/pkg/secrets"
)

// Factor enumerates the supported authentication factor kinds.
type Factor int

const (
	FactorPin Factor = iota
	FactorSystemBiometric
	FactorVendorBiometric
	countFactor
)

// FactorAuto is not a concrete factor; callers pass it to request selection through the
// precedence policy. Check rejects it.
const FactorAuto Factor = -1

// String implements fmt.Stringer.
func (self Factor) String() string {
	switch self {
	case FactorPin:
		return "Pin"
	case FactorSystemBiometric:
		return "SystemBiometric"
	case FactorVendorBiometric:
		return "VendorBiometric"
	case FactorAuto:
		return "Auto"
	default:
		return "Unknown"
	}
}

// Check returns an error if the Factor is not one of the enumerated kinds.
func (self Factor) Check() error {
	if self < 0 || self >= countFactor {
		return newError("invalid Factor %d", int(self))
	}

	return nil
}

// Provider represents one usable authentication factor.
type Provider interface {

	// Kind returns the Factor this Provider proves.
	Kind() Factor

	// Available is a pure query reflecting device support AND user enablement
	// (and, for the vendor biometric, template enrollment).
	Available() bool

	// ProduceProof produces proof-of-authentication material, possibly suspending
	// pending user interaction or a sensor callback.
	//
	// On user cancellation it returns an error wrapping ErrCancelled; callers must
	// treat cancellation as a deliberate no-op, never as a retryable failure.
	ProduceProof(ctx context.Context) (*secrets.Handle, error)
}

// comfortOrder is the fixed precedence of the "most comfortable" selection policy.
var comfortOrder = [...]Factor{FactorSystemBiometric, FactorVendorBiometric, FactorPin}

// Set groups the Providers installed on a device, at most one per Factor.
type Set struct {
	reg *utils.Registry[Factor, Provider]
}

// NewSet returns a Set holding providers.
// It errors on invalid kinds or duplicate registrations.
func NewSet(providers ...Provider) (*Set, error) {
	set := &Set{reg: utils.NewRegistry[Factor, Provider]()}
	for pos, p := range providers {
		err := set.Add(p)
		if nil != err {
			return nil, wrapError(err, "providers[%d] rejected", pos)
		}
	}

	return set, nil
}

// Add registers p in the Set. It errors if the Factor kind is already registered.
func (self *Set) Add(p Provider) error {
	if nil == p {
		return newError("nil Provider")
	}
	err := p.Kind().Check()
	if nil != err {
		return wrapError(err, "invalid Provider kind")
	}

	return utils.RegistrySet(self.reg, p.Kind(), p)
}

// Get returns the Provider registered for f.
func (self *Set) Get(f Factor) (Provider, bool) {
	return utils.RegistryGet(self.reg, f)
}

// MostComfortable returns the available Provider with the highest precedence:
// SystemBiometric > VendorBiometric > Pin.
// It errors with ErrUnavailable if no registered Provider is available.
func (self *Set) MostComfortable() (Provider, error) {
	for _, f := range comfortOrder {
		p, found := utils.RegistryGet(self.reg, f)
		if found && p.Available() {
			return p, nil
		}
	}

	return nil, wrapError(ErrUnavailable, "no available factor")
}

// Enabled returns the kinds of the currently available Providers, most comfortable first.
func (self *Set) Enabled() []Factor {
	rv := make([]Factor, 0, countFactor)
	for _, f := range comfortOrder {
		p, found := utils.RegistryGet(self.reg, f)
		if found && p.Available() {
			rv = append(rv, f)
		}
	}

	return rv
}
