package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// RandomBytes returns n cryptographically secure random bytes.
//
// CRITICAL: nonces and salts MUST be drawn from here, never derived from a
// counter or a record's position in the blob.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: rand.Read: %w", err)
	}

	allZero := true
	for _, v := range b {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero && n > 0 {
		return nil, errors.New("crypto: rand.Read produced all-zero bytes")
	}

	return b, nil
}
