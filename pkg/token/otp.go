package token

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"code.aegisid.org/golang/pkg/secrets"
)

const (
	otpNumDigit = 8
	otpTimeStep = 30 * time.Second
)

var otpInfoPrefix = []byte("aegisid/otp/v1")

// deriveOTP computes a decimal OTP binding secret, deviceId, the optional server
// challenge and the current time step. Values are recomputed on every call, nothing is
// cached.
func deriveOTP(secret, deviceId, challenge []byte, now time.Time) (*secrets.Handle, error) {
	step := now.Unix() / int64(otpTimeStep/time.Second)
	info := make([]byte, 0, len(otpInfoPrefix)+len(deviceId)+8)
	info = append(info, otpInfoPrefix...)
	info = append(info, deviceId...)
	info = binary.BigEndian.AppendUint64(info, uint64(step))

	kdf := hkdf.New(sha256.New, secret, challenge, info)
	buf := make([]byte, otpNumDigit)
	_, err := io.ReadFull(kdf, buf)
	if nil != err {
		return nil, wrapError(err, "failed hkdf expansion")
	}
	for pos, b := range buf {
		buf[pos] = '0' + b%10
	}

	return secrets.New(buf), nil
}
