// Package totp derives one-time second-factor codes from a shared secret.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the length of one code window.
	Period = 30 * time.Second

	// minSecretBytes rejects secrets too short to be a real shared secret.
	minSecretBytes = 10

	steamAlphabet   = "23456789BCDFGHJKMNPQRTVWXY"
	steamCodeLength = 5
)

// ErrInvalidSecret is returned when the secret cannot be decoded.
var ErrInvalidSecret = errors.New("invalid shared secret")

// Format selects how a code is rendered.
type Format string

const (
	// FormatDigits renders the standard six decimal digits.
	FormatDigits Format = "digits"
	// FormatSteam renders five characters from the Steam authenticator alphabet.
	FormatSteam Format = "steam"
)

// ParseFormat maps a config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatSteam:
		return FormatSteam, nil
	case FormatDigits:
		return FormatDigits, nil
	default:
		return "", fmt.Errorf("unknown code format %q (want %q or %q)", s, FormatDigits, FormatSteam)
	}
}

// Generator produces codes in a fixed format.
type Generator struct {
	Format Format
}

// Code returns the code for the window containing t.
func (g Generator) Code(secret string, t time.Time) (string, error) {
	if g.Format == FormatDigits {
		return GenerateCode(secret, t)
	}
	return GenerateSteamCode(secret, t)
}

// GenerateCode returns the six digit RFC 6238 code for the window containing t.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(base32.StdEncoding.EncodeToString(key), t, totp.ValidateOpts{
		Period:    uint(Period / time.Second),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return code, nil
}

// GenerateSteamCode returns the five character Steam Guard code for the
// window containing t.
func GenerateSteamCode(secret string, t time.Time) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(t.Unix())/uint64(Period/time.Second))

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	full := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := make([]byte, steamCodeLength)
	for i := range code {
		code[i] = steamAlphabet[full%uint32(len(steamAlphabet))]
		full /= uint32(len(steamAlphabet))
	}
	return string(code), nil
}

// TimeRemaining returns how long the code for t stays valid.
func TimeRemaining(t time.Time) time.Duration {
	elapsed := time.Duration(t.Unix()%int64(Period/time.Second)) * time.Second
	return Period - elapsed
}

// DecodeSecret accepts a base64 secret (as exported by the Steam mobile
// authenticator) or a base32 secret (as shown by most TOTP enrolment pages).
// A value made only of upper-case base32 characters, padded or not, is read
// as base32.
func DecodeSecret(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}

	var key []byte
	var err error
	if looksBase32(s) {
		key, err = base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(s, "="))
	} else {
		key, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if len(key) < minSecretBytes {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidSecret, len(key), minSecretBytes)
	}
	return key, nil
}

func looksBase32(s string) bool {
	s = strings.TrimRight(s, "=")
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '2' && r <= '7') {
			return false
		}
	}
	return true
}
