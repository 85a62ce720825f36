// Package token owns the single enrolled OTP credential of an installation: its
// provisioning against the gateway, its deletion, and challenge bound OTP generation
// through a policy selected authentication factor.
package token

import (
	"time"

	"code.aegisid.org/golang/pkg/factors"
)

const (
	minDeviceIdLen = 16
	minSecretLen   = 32
)

// Token is the device bound OTP credential record.
// It is persisted cbor encoded in the secure store tier; at most one Token exists per
// installation, its absence means the installation is unenrolled.
type Token struct {
	DeviceId    []byte           `cbor:"1,keyasint"`
	UserId      string           `cbor:"2,keyasint"`
	Secret      []byte           `cbor:"3,keyasint"`
	CreatedAt   int64            `cbor:"4,keyasint"` // unix seconds
	MaxLifespan int64            `cbor:"5,keyasint"` // seconds
	Factors     []factors.Factor `cbor:"6,keyasint,omitempty"`
}

// Check returns an error if the Token is invalid.
func (self Token) Check() error {
	if len(self.DeviceId) < minDeviceIdLen {
		return newError("DeviceId too short")
	}
	if "" == self.UserId {
		return newError("empty UserId")
	}
	if len(self.Secret) < minSecretLen {
		return newError("Secret too short")
	}
	if self.CreatedAt <= 0 || self.MaxLifespan <= 0 {
		return newError("invalid CreatedAt/MaxLifespan")
	}
	for pos, f := range self.Factors {
		if err := f.Check(); nil != err {
			return wrapError(err, "Factors[%d] invalid", pos)
		}
	}

	return nil
}

// Expired reports whether the Token MaxLifespan has elapsed at now.
// An expired Token can no longer generate OTP values and forces re-provisioning.
func (self Token) Expired(now time.Time) bool {
	return now.Unix() >= self.CreatedAt+self.MaxLifespan
}

// FactorEnabled reports whether f was enabled when the Token was provisioned.
func (self Token) FactorEnabled(f factors.Factor) bool {
	for _, enabled := range self.Factors {
		if f == enabled {
			return true
		}
	}

	return false
}
