package crypto

import "crypto/subtle"

// ConstantTimeEqual reports whether a and b are equal, in time independent
// of their contents. Used for token MAC checks and any other
// password-derived verification, so a timing side channel never leaks how
// many leading bytes matched.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
