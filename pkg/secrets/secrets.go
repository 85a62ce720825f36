// Package secrets provides Handle, a zero-on-wipe container for secret material such as
// PINs, OTP values, server challenges and registration codes.
//
// A Handle never leaks its content through fmt, json, cbor or slog; copies are always
// explicit via Clone.
package secrets

import (
	"crypto/subtle"
	"log/slog"
)

// Handle wraps a secret byte sequence.
//
// The zero Handle is valid and behaves as an already wiped secret.
type Handle struct {
	buf   []byte
	wiped bool
}

// New returns a Handle owning buf.
// Callers must not retain buf after the call.
func New(buf []byte) *Handle {
	return &Handle{buf: buf, wiped: nil == buf}
}

// NewFromString returns a Handle holding a copy of s.
//
// The s argument itself is immutable and can not be wiped; prefer the []byte based New
// whenever the secret origin allows it.
func NewFromString(s string) *Handle {
	return New([]byte(s))
}

// Bytes exposes the secret content.
// The returned slice aliases the inner buffer and becomes invalid after Wipe.
func (self *Handle) Bytes() ([]byte, error) {
	if nil == self || self.wiped {
		return nil, wrapError(ErrWiped, "secret no longer readable")
	}

	return self.buf, nil
}

// Len returns the secret length, 0 if the Handle was wiped.
func (self *Handle) Len() int {
	if nil == self || self.wiped {
		return 0
	}

	return len(self.buf)
}

// Wiped reports whether the secret content has been destroyed.
func (self *Handle) Wiped() bool {
	return nil == self || self.wiped
}

// Clone returns an independent copy of the Handle.
// Cloning a wiped Handle returns a wiped Handle.
func (self *Handle) Clone() *Handle {
	if nil == self || self.wiped {
		return &Handle{wiped: true}
	}

	buf := make([]byte, len(self.buf))
	copy(buf, self.buf)

	return &Handle{buf: buf}
}

// Wipe overwrites the secret content with zeros and marks the Handle unreadable.
// Wipe is idempotent.
func (self *Handle) Wipe() {
	if nil == self || self.wiped {
		return
	}

	for pos := range self.buf {
		self.buf[pos] = 0
	}
	self.buf = nil
	self.wiped = true
}

// Equal compares the Handle content with other in constant time.
// A wiped Handle is equal to nothing, not even another wiped Handle.
func (self *Handle) Equal(other *Handle) bool {
	if self.Wiped() || other.Wiped() {
		return false
	}

	return 1 == subtle.ConstantTimeCompare(self.buf, other.buf)
}

// String implements fmt.Stringer without disclosing the secret.
func (self *Handle) String() string {
	return "secrets.Handle(REDACTED)"
}

// LogValue implements slog.LogValuer without disclosing the secret.
func (self *Handle) LogValue() slog.Value {
	return slog.StringValue(self.String())
}

// MarshalJSON refuses serialization of secret material.
func (self *Handle) MarshalJSON() ([]byte, error) {
	return nil, wrapError(ErrSealed, "refusing json serialization")
}

// MarshalCBOR refuses serialization of secret material.
func (self *Handle) MarshalCBOR() ([]byte, error) {
	return nil, wrapError(ErrSealed, "refusing cbor serialization")
}

var _ slog.LogValuer = &Handle{}
