// Package provision decodes enrollment QR payloads into a (userId, registrationCode)
// pair.
//
// A payload is an "AIDC" tagged container: magic, format version, then a cbor envelope
// carrying an AEAD nonce, the ciphertext and the issuance timestamp. Parsing classifies
// failures into three kinds so the caller can show distinct remediations: ErrMalformed
// (not a valid container), ErrDecryptionFailed (valid container, wrong key or corrupted
// ciphertext) and ErrExpired (issued outside the policy window).
package provision

import (
	"bytes"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"code.aegisid.org/golang/pkg/secrets"
)

var containerMagic = []byte("AIDC")

const containerVersion = 0x01

const minRegCodeLen = 6

// Code is the outcome of a successful parse.
type Code struct {
	UserId           string
	RegistrationCode *secrets.Handle
}

// Decrypter is the SDK boundary opening the payload ciphertext.
//
// Implementations return the plaintext, or any error on authentication failure; the
// Parser reports every Decrypter error as ErrDecryptionFailed.
type Decrypter interface {
	Decrypt(nonce, ciphertext, aad []byte) ([]byte, error)
}

// envelope is the cbor encoded container body.
type envelope struct {
	Nonce      []byte `cbor:"1,keyasint"`
	Ciphertext []byte `cbor:"2,keyasint"`
	IssuedAt   int64  `cbor:"3,keyasint"` // unix seconds
}

// Check returns an error if the envelope is invalid.
func (self envelope) Check() error {
	if chacha20poly1305.NonceSize != len(self.Nonce) {
		return newError("invalid Nonce length %d", len(self.Nonce))
	}
	if 0 == len(self.Ciphertext) {
		return newError("empty Ciphertext")
	}
	if self.IssuedAt <= 0 {
		return newError("invalid IssuedAt %d", self.IssuedAt)
	}

	return nil
}

// codePayload is the cbor encoded envelope plaintext.
type codePayload struct {
	UserId  string `cbor:"1,keyasint"`
	RegCode []byte `cbor:"2,keyasint"`
}

// Parser validates and opens enrollment QR payloads.
type Parser struct {
	dec    Decrypter
	maxAge time.Duration
}

// NewParser instantiates a Parser delegating decryption to dec.
// A zero maxAge disables the expiry policy.
func NewParser(dec Decrypter, maxAge time.Duration) (*Parser, error) {
	if nil == dec {
		return nil, newError("nil Decrypter")
	}
	if maxAge < 0 {
		return nil, newError("negative maxAge")
	}

	return &Parser{dec: dec, maxAge: maxAge}, nil
}

// Parse decodes qrPayload into a Code.
//
// Structural validation runs before any decryption attempt; an invalid or
// undecryptable payload never yields a Code.
func (self *Parser) Parse(qrPayload []byte) (Code, error) {
	header := len(containerMagic) + 1
	if len(qrPayload) <= header {
		return Code{}, wrapError(ErrMalformed, "payload too short")
	}
	if !bytes.Equal(containerMagic, qrPayload[:len(containerMagic)]) {
		return Code{}, wrapError(ErrMalformed, "bad container magic")
	}
	if containerVersion != qrPayload[len(containerMagic)] {
		return Code{}, wrapError(ErrMalformed, "unsupported container version %d", qrPayload[len(containerMagic)])
	}

	env := envelope{}
	err := cbor.Unmarshal(qrPayload[header:], &env)
	if nil == err {
		err = env.Check()
	}
	if nil != err {
		return Code{}, wrapError(ErrMalformed, "invalid container envelope, got %v", err)
	}

	if self.maxAge > 0 {
		issued := time.Unix(env.IssuedAt, 0)
		if time.Since(issued) > self.maxAge {
			return Code{}, wrapError(ErrExpired, "payload issued %s ago", time.Since(issued).Round(time.Second))
		}
	}

	plaintext, err := self.dec.Decrypt(env.Nonce, env.Ciphertext, qrPayload[:header])
	if nil != err {
		return Code{}, wrapError(ErrDecryptionFailed, "failed opening ciphertext, got %v", err)
	}

	payload := codePayload{}
	err = cbor.Unmarshal(plaintext, &payload)
	if nil != err {
		return Code{}, wrapError(ErrMalformed, "invalid inner payload")
	}
	if "" == payload.UserId || len(payload.RegCode) < minRegCodeLen {
		return Code{}, wrapError(ErrMalformed, "incomplete inner payload")
	}

	return Code{UserId: payload.UserId, RegistrationCode: secrets.New(payload.RegCode)}, nil
}
