// Package blobfmt implements the on-disk blob layout: the fixed salt-slot
// prefix, the append-only record framing, and the metadata snapshot
// serialization. It knows nothing about passwords or volume semantics —
// that lives one layer up, in internal/volume.
package blobfmt

import "kurpod/internal/crypto"

// Salt slot layout. Exactly two slots: slot 0 for the standard volume,
// slot 1 for the hidden volume. A slot holding random padding (no
// metadata record opens under it) means that volume is absent.
const (
	SaltSlotSize  = crypto.SaltSize // 32
	NumSaltSlots  = 2
	StandardSlot  = 0
	HiddenSlot    = 1
	HeaderSize    = int64(SaltSlotSize * NumSaltSlots) // 64
)

// Record framing. Every record in the append region is:
//
//	nonce[24] || len_le_u64[8] || ciphertext[len] || len_le_u64[8] (trailer)
//
// len is the ciphertext length including the 16-byte Poly1305 tag. The
// trailer duplicates len so the blob can be scanned backward without a
// forward index.
const (
	NonceSize  = crypto.NonceSize // 24
	LenFieldSize = 8

	// RecordOverhead is the framing cost around a ciphertext payload.
	RecordOverhead = NonceSize + LenFieldSize + LenFieldSize
)

// ChunkPlaintextSize is the fixed plaintext chunk size used when
// streaming a file into the blob. Every chunk is this size except
// possibly the last chunk of a file.
const ChunkPlaintextSize = 64 * 1024
