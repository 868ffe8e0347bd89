// Package crypto provides the cryptographic primitives used by the blob
// format and volume engine. This is AUDIT-CRITICAL code - changes here
// directly affect whether existing blobs remain decryptable.
package crypto

import (
	"bytes"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Fixed by the blob format; changing any of these
// values makes existing blobs undecryptable.
const (
	Argon2Memory      = 64 * 1024 // 64 MiB, in KiB as required by argon2.IDKey
	Argon2Iterations  = 3
	Argon2Parallelism = 1
	Argon2KeySize     = 32

	// SaltSize is the size of a volume's KDF salt, and of a blob salt slot.
	SaltSize = 32
)

// DeriveKey derives a 32-byte symmetric key from a password and a volume's
// salt using Argon2id with the blob format's fixed parameters.
//
// CRITICAL: these parameters MUST NOT change, or existing volumes become
// permanently undecryptable.
func DeriveKey(password, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, errors.New("crypto: salt must be exactly SaltSize bytes")
	}

	key := argon2.IDKey(password, salt, Argon2Iterations, Argon2Memory, Argon2Parallelism, Argon2KeySize)

	// Sanity check: key should not be all zeros.
	if bytes.Equal(key, make([]byte, Argon2KeySize)) {
		return nil, errors.New("crypto: argon2 produced an all-zero key")
	}

	return key, nil
}
