package provision

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

var testKey = bytes.Repeat([]byte{0x42}, chacha20poly1305.KeySize)

func newTestParser(t *testing.T, maxAge time.Duration) *Parser {
	t.Helper()

	dec, err := NewChaChaDecrypter(testKey)
	if nil != err {
		t.Fatalf("failed ChaChaDecrypter construction, got error %v", err)
	}
	parser, err := NewParser(dec, maxAge)
	if nil != err {
		t.Fatalf("failed Parser construction, got error %v", err)
	}

	return parser
}

func TestParseRoundTrip(t *testing.T) {
	parser := newTestParser(t, time.Hour)

	payload, err := Seal(testKey, "alice", []byte("123456"), time.Now())
	if nil != err {
		t.Fatalf("failed Seal, got error %v", err)
	}

	code, err := parser.Parse(payload)
	if nil != err {
		t.Fatalf("failed Parse, got error %v", err)
	}
	if "alice" != code.UserId {
		t.Errorf("expected UserId alice, got %s", code.UserId)
	}
	regCode, err := code.RegistrationCode.Bytes()
	if nil != err || !bytes.Equal([]byte("123456"), regCode) {
		t.Errorf("expected registration code 123456, got %q, error %v", regCode, err)
	}
}

func TestParseMalformed(t *testing.T) {
	parser := newTestParser(t, 0)

	valid, err := Seal(testKey, "alice", []byte("123456"), time.Now())
	if nil != err {
		t.Fatalf("failed Seal, got error %v", err)
	}

	testcases := [][]byte{
		nil,
		[]byte("AID"),                    // truncated before version
		[]byte("XXXX\x01garbage"),        // wrong magic
		append([]byte("AIDC\x02"), valid[5:]...), // unsupported version
		[]byte("AIDC\x01not-cbor"),       // undecodable envelope
	}
	for pos, payload := range testcases {
		_, err := parser.Parse(payload)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("[%d] expected ErrMalformed, got %v", pos, err)
		}
	}
}

func TestParseCorruptCiphertext(t *testing.T) {
	parser := newTestParser(t, 0)

	payload, err := Seal(testKey, "alice", []byte("123456"), time.Now())
	if nil != err {
		t.Fatalf("failed Seal, got error %v", err)
	}

	// valid structural header, corrupted ciphertext byte
	payload[len(payload)-1] ^= 0xFF
	_, err = parser.Parse(payload)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Error("corrupted ciphertext must not be classified as ErrMalformed")
	}
}

func TestParseWrongKey(t *testing.T) {
	parser := newTestParser(t, 0)

	otherKey := bytes.Repeat([]byte{0x24}, chacha20poly1305.KeySize)
	payload, err := Seal(otherKey, "alice", []byte("123456"), time.Now())
	if nil != err {
		t.Fatalf("failed Seal, got error %v", err)
	}

	_, err = parser.Parse(payload)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestParseExpired(t *testing.T) {
	parser := newTestParser(t, time.Hour)

	payload, err := Seal(testKey, "alice", []byte("123456"), time.Now().Add(-2*time.Hour))
	if nil != err {
		t.Fatalf("failed Seal, got error %v", err)
	}

	_, err = parser.Parse(payload)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	// the same payload parses with the expiry policy disabled
	relaxed := newTestParser(t, 0)
	_, err = relaxed.Parse(payload)
	if nil != err {
		t.Errorf("failed Parse with disabled expiry policy, got error %v", err)
	}
}

func TestParseIncompleteInnerPayload(t *testing.T) {
	parser := newTestParser(t, 0)

	payload, err := Seal(testKey, "alice", []byte("123"), time.Now()) // code too short
	if nil != err {
		t.Fatalf("failed Seal, got error %v", err)
	}

	_, err = parser.Parse(payload)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for incomplete inner payload, got %v", err)
	}
}
