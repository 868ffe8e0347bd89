package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the XChaCha20-Poly1305 nonce width in bytes (192 bits).
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the Poly1305 authentication tag width in bytes.
const TagSize = chacha20poly1305.Overhead

// AADChunk is the associated data sealed with every chunk record. A fixed
// single byte distinct from any metadata AAD, so a chunk from one volume
// can never be replayed and accepted as a metadata record of another.
var AADChunk = []byte{0x00}

// AADMetadata returns the associated data for a metadata record belonging
// to the given volume slot (0 = standard, 1 = hidden): the 4-byte
// little-endian volume index.
func AADMetadata(volumeIndex uint32) []byte {
	return []byte{
		byte(volumeIndex),
		byte(volumeIndex >> 8),
		byte(volumeIndex >> 16),
		byte(volumeIndex >> 24),
	}
}

// Seal encrypts and authenticates plaintext under key with the given nonce
// and associated data, appending the result to dst. nonce must be exactly
// NonceSize bytes and MUST NOT be reused with the same key.
func Seal(dst, key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(dst, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext (which includes the trailing
// Poly1305 tag) under key with the given nonce and associated data. It
// returns an error if authentication fails.
func Open(dst, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(dst, nonce, ciphertext, aad)
}
