package provision

import (
	"crypto/rand"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ChaChaDecrypter opens payloads sealed with chacha20poly1305, the container AEAD used
// by the reference enrollment server.
type ChaChaDecrypter struct {
	key []byte
}

// NewChaChaDecrypter instantiates a ChaChaDecrypter.
// key must be chacha20poly1305.KeySize bytes.
func NewChaChaDecrypter(key []byte) (*ChaChaDecrypter, error) {
	if chacha20poly1305.KeySize != len(key) {
		return nil, newError("invalid key length %d", len(key))
	}
	cp := make([]byte, len(key))
	copy(cp, key)

	return &ChaChaDecrypter{key: cp}, nil
}

// Decrypt implements Decrypter.
func (self *ChaChaDecrypter) Decrypt(nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(self.key)
	if nil != err {
		return nil, wrapError(err, "failed AEAD construction")
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if nil != err {
		return nil, wrapError(err, "failed AEAD open")
	}

	return plaintext, nil
}

var _ Decrypter = &ChaChaDecrypter{}

// Seal produces an enrollment QR payload for userId and regCode, issued at issuedAt.
// It is the encoder counterpart of Parser.Parse, used by the reference enrollment
// tooling and by tests.
func Seal(key []byte, userId string, regCode []byte, issuedAt time.Time) ([]byte, error) {
	if chacha20poly1305.KeySize != len(key) {
		return nil, newError("invalid key length %d", len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if nil != err {
		return nil, wrapError(err, "failed AEAD construction")
	}

	plaintext, err := cbor.Marshal(codePayload{UserId: userId, RegCode: regCode})
	if nil != err {
		return nil, wrapError(err, "failed payload encoding")
	}

	header := make([]byte, 0, len(containerMagic)+1)
	header = append(header, containerMagic...)
	header = append(header, containerVersion)

	nonce := make([]byte, chacha20poly1305.NonceSize)
	_, err = rand.Read(nonce)
	if nil != err {
		return nil, wrapError(err, "failed nonce generation")
	}

	env := envelope{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, header),
		IssuedAt:   issuedAt.Unix(),
	}
	srzenv, err := cbor.Marshal(env)
	if nil != err {
		return nil, wrapError(err, "failed envelope encoding")
	}

	return append(header, srzenv...), nil
}
