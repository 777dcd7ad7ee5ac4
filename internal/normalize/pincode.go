package normalize

import (
	"strings"
	"unicode"
)

// PincodeLength is the width of an Indian postal code
const PincodeLength = 6

// Pincode keeps the digits of s and returns a six digit postal code.
// Longer runs keep their last six digits and shorter ones are left-padded
// with zeros. The second value is false when s holds no digits.
func Pincode(s string) (string, bool) {
	b := strings.Builder{}
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", false
	}
	if len(digits) > PincodeLength {
		digits = digits[len(digits)-PincodeLength:]
	}
	return strings.Repeat("0", PincodeLength-len(digits)) + digits, true
}

// ValidPincode reports whether s is already a six digit code.
func ValidPincode(s string) bool {
	if len(s) != PincodeLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
