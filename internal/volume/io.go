package volume

import (
	"io"
	"time"

	"kurpod/internal/blobfmt"
	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
	"kurpod/internal/util"
)

// chunkBufPool reuses plaintext chunk buffers across Write calls,
// instead of letting each upload allocate and garbage-collect its own.
var chunkBufPool = util.NewBufferPool(blobfmt.ChunkPlaintextSize)

// List returns every live file entry in the volume's current snapshot,
// in arbitrary order; callers sort if they need a stable order.
func (v *UnlockedVolume) List() []FileInfo {
	entries := v.snapshot.Files
	out := make([]FileInfo, len(entries))
	for i, e := range entries {
		out[i] = FileInfo{Path: e.Path, Size: e.Size, Mime: e.Mime, Created: e.Created, Modified: e.Modified}
	}
	return out
}

// WriteRequest describes one file write: its virtual path, an optional
// MIME type hint, the plaintext byte stream, an optional size hint used
// to compute upload progress, and an optional progress reporter for
// large uploads.
type WriteRequest struct {
	Path     string
	Mime     string
	Reader   io.Reader
	SizeHint int64
	Reporter ProgressReporter
}

// WriteRequestBuilder provides a fluent interface for assembling a
// WriteRequest field by field as an HTTP handler decodes an upload,
// before it is handed to Write.
type WriteRequestBuilder struct {
	req WriteRequest
}

// NewWriteRequestBuilder creates a new builder for WriteRequest.
func NewWriteRequestBuilder(path string, r io.Reader) *WriteRequestBuilder {
	return &WriteRequestBuilder{req: WriteRequest{Path: path, Reader: r}}
}

// WithMime sets the file's MIME type hint.
func (b *WriteRequestBuilder) WithMime(mime string) *WriteRequestBuilder {
	b.req.Mime = mime
	return b
}

// WithSizeHint sets the expected total size of the stream, used to
// compute upload progress. Leave unset (or zero) when the size isn't
// known in advance; progress then reports 0 until the write completes.
func (b *WriteRequestBuilder) WithSizeHint(size int64) *WriteRequestBuilder {
	b.req.SizeHint = size
	return b
}

// WithReporter sets the progress reporter.
func (b *WriteRequestBuilder) WithReporter(reporter ProgressReporter) *WriteRequestBuilder {
	b.req.Reporter = reporter
	return b
}

// Build returns the WriteRequest.
func (b *WriteRequestBuilder) Build() WriteRequest {
	return b.req
}

// Write streams req.Reader into the volume in fixed-size plaintext
// chunks, each sealed with a fresh random nonce and appended to the
// blob. Only after every chunk is appended and fsynced is a new
// metadata snapshot sealed, appended, and fsynced; the in-memory
// snapshot is swapped in only once that record is durable. If any step
// fails, the chunks already appended become garbage and the caller's
// in-memory snapshot is untouched — the write simply never happened as
// far as any reader can tell.
func (v *UnlockedVolume) Write(req WriteRequest) error {
	if err := validatePath(req.Path); err != nil {
		return err
	}
	reporter := req.Reporter
	if reporter == nil {
		reporter = NoopReporter
	}

	v.engine.appendMu.Lock()
	defer v.engine.appendMu.Unlock()

	start := time.Now()
	var chunks []blobfmt.ChunkRef
	var total int64
	buf := chunkBufPool.Get()
	defer chunkBufPool.Put(buf)

	for {
		if reporter.IsCancelled() {
			return kerrors.Wrap(kerrors.ErrIo, "upload cancelled")
		}

		n, readErr := io.ReadFull(req.Reader, buf)
		if n > 0 {
			ref, err := v.sealChunk(buf[:n])
			if err != nil {
				return err
			}
			chunks = append(chunks, ref)
			total += int64(n)
			progress, _, _ := util.Statify(total, req.SizeHint, start)
			reporter.SetProgress(float64(progress), "uploading")
		}
		if readErr == io.EOF {
			break
		}
		if readErr == io.ErrUnexpectedEOF {
			break // final short chunk already consumed above
		}
		if readErr != nil {
			return kerrors.NewFileError("read", req.Path, readErr)
		}
	}

	// An empty stream still produces a valid zero-chunk file entry.
	if err := v.engine.blob.Sync(); err != nil {
		return err
	}

	nextOffset, err := v.engine.blob.Size()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	created := now
	if existing := v.snapshot.Find(req.Path); existing != nil {
		created = existing.Created
	}

	next := v.snapshot.Clone()
	next.NextChunkOffset = uint64(nextOffset)
	next.Upsert(blobfmt.FileEntry{
		Path:     req.Path,
		Size:     total,
		Created:  created,
		Modified: now,
		Chunks:   chunks,
		Mime:     req.Mime,
	})

	if err := v.commit(next); err != nil {
		return err
	}

	reporter.SetStatus("done")
	return nil
}

// sealChunk encrypts one plaintext chunk and appends it, returning a
// reference suitable for a FileEntry's chunk list.
func (v *UnlockedVolume) sealChunk(plaintext []byte) (blobfmt.ChunkRef, error) {
	nonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		return blobfmt.ChunkRef{}, err
	}
	ciphertext, err := crypto.Seal(nil, v.key.Bytes(), nonce, crypto.AADChunk, plaintext)
	if err != nil {
		return blobfmt.ChunkRef{}, kerrors.NewCryptoError("aead-seal", err)
	}
	offset, err := blobfmt.AppendRecord(v.engine.blob, nonce, ciphertext)
	if err != nil {
		return blobfmt.ChunkRef{}, err
	}
	return blobfmt.ChunkRef{Offset: offset, Length: uint64(len(ciphertext))}, nil
}

// commit seals and appends a new metadata snapshot record for this
// volume, fsyncs it, and only then swaps it in as the volume's current
// snapshot.
func (v *UnlockedVolume) commit(next *blobfmt.Snapshot) error {
	plaintext, err := next.Encode()
	if err != nil {
		return err
	}
	nonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		return err
	}
	ciphertext, err := crypto.Seal(nil, v.key.Bytes(), nonce, crypto.AADMetadata(uint32(v.slot)), plaintext)
	if err != nil {
		return kerrors.NewCryptoError("aead-seal", err)
	}
	if _, err := blobfmt.AppendRecord(v.engine.blob, nonce, ciphertext); err != nil {
		return err
	}
	if err := v.engine.blob.Sync(); err != nil {
		return err
	}

	v.snapshot = next
	return nil
}

// Remove deletes the entry for path from the snapshot and writes a new
// metadata record. The chunks it referenced remain in the blob until
// compaction.
func (v *UnlockedVolume) Remove(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}

	v.engine.appendMu.Lock()
	defer v.engine.appendMu.Unlock()

	if v.snapshot.Find(path) == nil {
		return kerrors.ErrNotFound
	}

	next := v.snapshot.Clone()
	next.Remove(path)
	return v.commit(next)
}

// Rename moves the entry at oldPath to newPath within the snapshot. No
// chunk data is rewritten; both created and modified timestamps are
// preserved, and only a new snapshot is appended.
func (v *UnlockedVolume) Rename(oldPath, newPath string) error {
	if err := validatePath(oldPath); err != nil {
		return err
	}
	if err := validatePath(newPath); err != nil {
		return err
	}

	v.engine.appendMu.Lock()
	defer v.engine.appendMu.Unlock()

	entry := v.snapshot.Find(oldPath)
	if entry == nil {
		return kerrors.ErrNotFound
	}
	if v.snapshot.Find(newPath) != nil {
		return kerrors.ErrAlreadyExists
	}

	renamed := *entry
	renamed.Path = newPath

	next := v.snapshot.Clone()
	next.Remove(oldPath)
	next.Upsert(renamed)
	return v.commit(next)
}
