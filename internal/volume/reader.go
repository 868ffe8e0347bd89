package volume

import (
	"io"

	"kurpod/internal/blobfmt"
	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
)

// chunkRangeReader lazily decrypts one chunk at a time, bounding peak
// memory to a single chunk regardless of file size or requested range.
type chunkRangeReader struct {
	engine *Engine
	key    []byte // own copy of the volume key, wiped by Close
	chunks []blobfmt.ChunkRef

	lo, hi int64 // remaining absolute plaintext range to serve
	cursor int64 // absolute plaintext offset of the next byte chunks[idx] will produce
	idx    int

	current []byte // decrypted current chunk, not yet fully consumed
}

// Open resolves path to its chunk list and returns a lazy reader over
// the plaintext bytes in rng. A nil rng reads the whole file.
func (v *UnlockedVolume) Open(path string, rng *ByteRange) (io.ReadCloser, error) {
	entry := v.snapshot.Find(path)
	if entry == nil {
		return nil, kerrors.ErrNotFound
	}

	lo, hi := int64(0), entry.Size
	if rng != nil {
		lo, hi = rng.Low, rng.High
	}
	if lo < 0 || hi > entry.Size || lo > hi {
		return nil, kerrors.ErrRangeNotSatisfiable
	}

	r := &chunkRangeReader{
		engine: v.engine,
		key:    append([]byte(nil), v.key.Bytes()...),
		chunks: entry.Chunks,
		lo:     lo,
		hi:     hi,
		cursor: 0,
	}

	// Skip whole chunks entirely before lo.
	for r.idx < len(r.chunks) {
		plen := int64(r.chunks[r.idx].Length) - crypto.TagSize
		if r.cursor+plen > lo {
			break
		}
		r.cursor += plen
		r.idx++
	}

	return r, nil
}

func (r *chunkRangeReader) Read(p []byte) (int, error) {
	if r.cursor >= r.hi && len(r.current) == 0 {
		return 0, io.EOF
	}

	if len(r.current) == 0 {
		if r.idx >= len(r.chunks) {
			return 0, io.EOF
		}
		ref := r.chunks[r.idx]

		nonce, ciphertext, err := blobfmt.ReadCiphertextAt(r.engine.blob, ref.Offset, ref.Length)
		if err != nil {
			return 0, err
		}
		plaintext, err := crypto.Open(nil, r.key, nonce, crypto.AADChunk, ciphertext)
		if err != nil {
			return 0, kerrors.NewCryptoError("aead-open", err)
		}

		chunkStart := r.cursor
		chunkEnd := chunkStart + int64(len(plaintext))
		r.idx++

		skip := int64(0)
		if chunkStart < r.lo {
			skip = r.lo - chunkStart
		}
		end := int64(len(plaintext))
		if chunkEnd > r.hi {
			end = int64(len(plaintext)) - (chunkEnd - r.hi)
		}
		if skip > end {
			skip = end
		}

		r.current = plaintext[skip:end]
		r.cursor = chunkStart + int64(len(plaintext))
	}

	n := copy(p, r.current)
	r.current = r.current[n:]
	return n, nil
}

func (r *chunkRangeReader) Close() error {
	crypto.SecureZero(r.key)
	return nil
}
