// Package phone normalizes subscriber numbers before they are used as
// challenge keys or directory lookups.
package phone

import "errors"

// ErrTooShort is returned when the normalized number has fewer than ten
// digits.
var ErrTooShort = errors.New("phone number too short")

const minDigits = 10

// Normalize strips every non-digit byte and drops a single leading national
// trunk prefix 0. The same normalization must be applied on request and on
// verify so both sides address the same challenge key.
func Normalize(raw string) (string, error) {
	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	if len(digits) > 0 && digits[0] == '0' {
		digits = digits[1:]
	}
	if len(digits) < minDigits {
		return "", ErrTooShort
	}
	return string(digits), nil
}
