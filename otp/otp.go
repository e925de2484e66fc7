// Package otp generates and verifies the one-time codes and reset capability
// tokens used by the login and password-reset flows.
//
// Codes are short numeric secrets delivered out of band; their primary
// brute-force defense is the attempt counter enforced by the flows, with the
// slow argon2id hash as a second layer. Reset tokens are 32-byte random
// capabilities, not claims carriers.
package otp

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const resetTokenRawSize = 32

// Generator produces one-time codes. In test mode every code is the fixed
// configured value so staging environments can complete flows without a
// delivery channel.
type Generator struct {
	digits   int
	testMode bool
	testCode string
}

// NewGenerator describes the newgenerator operation and its observable behavior.
//
// NewGenerator may return an error when input validation, dependency calls, or security checks fail.
// NewGenerator does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewGenerator(digits int, testMode bool, testCode string) (*Generator, error) {
	if digits < 6 || digits > 10 {
		return nil, errors.New("invalid otp digits")
	}
	if testMode {
		if len(testCode) != digits || !IsNumeric(testCode) {
			return nil, errors.New("invalid test code")
		}
	}
	return &Generator{digits: digits, testMode: testMode, testCode: testCode}, nil
}

// Code returns a new one-time code. Each digit is drawn independently from
// crypto/rand so the distribution is uniform over the digit space and no
// state about previously generated codes leaks into the next draw.
func (g *Generator) Code() (string, error) {
	if g.testMode {
		return g.testCode, nil
	}

	var b strings.Builder
	b.Grow(g.digits)

	max := big.NewInt(10)
	for i := 0; i < g.digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != g.digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return code, nil
}

// Digits reports the configured code width.
func (g *Generator) Digits() int {
	return g.digits
}

// ExpiryAt computes the challenge deadline for a code issued at now.
func ExpiryAt(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl)
}

// NewResetToken returns a high-entropy opaque bearer string (256 bits of
// randomness, base64url without padding). It carries no claims; possession
// is the whole credential.
func NewResetToken() (string, error) {
	var raw [resetTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// IsNumeric reports whether v consists only of ASCII digits.
func IsNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
