package blobfmt

import (
	"io"
	"os"

	kerrors "kurpod/internal/errors"
)

// Blob is a thin wrapper around the open blob file. It knows the byte
// layout (salt slots + append region) but nothing about passwords, keys,
// or volumes.
type Blob struct {
	f    *os.File
	path string
}

// Create creates a brand-new blob file. It fails if the file already
// exists, per the Init contract ("Fails if the file already exists").
func Create(path string) (*Blob, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, kerrors.ErrAlreadyExists
		}
		return nil, kerrors.NewFileError("create", path, err)
	}
	return &Blob{f: f, path: path}, nil
}

// Open opens an existing blob file for reading and writing.
func Open(path string) (*Blob, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.ErrNotFound
		}
		return nil, kerrors.NewFileError("open", path, err)
	}
	return &Blob{f: f, path: path}, nil
}

// File returns the underlying *os.File for record I/O.
func (b *Blob) File() *os.File { return b.f }

// Path returns the blob's filesystem path.
func (b *Blob) Path() string { return b.path }

// Size returns the current size of the blob file in bytes.
func (b *Blob) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, kerrors.NewFileError("stat", b.path, err)
	}
	return fi.Size(), nil
}

// WriteSaltSlot writes a 32-byte salt (or indistinguishable random
// padding) into the given slot index (0 or 1). Only valid on a
// freshly-created blob, before any records are appended.
func (b *Blob) WriteSaltSlot(slot int, salt []byte) error {
	if len(salt) != SaltSlotSize {
		return kerrors.NewValidationError("salt", "must be exactly SaltSlotSize bytes")
	}
	off := int64(slot) * SaltSlotSize
	if _, err := b.f.WriteAt(salt, off); err != nil {
		return kerrors.NewFileError("write", b.path, err)
	}
	return nil
}

// ReadSaltSlots reads both 32-byte salt slots from the header prefix.
func (b *Blob) ReadSaltSlots() ([NumSaltSlots][]byte, error) {
	var slots [NumSaltSlots][]byte
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(b.f, 0, HeaderSize), buf); err != nil {
		return slots, kerrors.NewFileError("read", b.path, err)
	}
	for i := 0; i < NumSaltSlots; i++ {
		slots[i] = buf[i*SaltSlotSize : (i+1)*SaltSlotSize]
	}
	return slots, nil
}

// Sync flushes the blob file to stable storage. The caller is
// responsible for calling this after appending chunk records and again
// after appending a metadata record, per the blob format's durability
// rule: a metadata record is only considered durable once fsynced, and
// it must never reference a chunk that was not itself already fsynced.
func (b *Blob) Sync() error {
	if err := b.f.Sync(); err != nil {
		return kerrors.NewFileError("fsync", b.path, err)
	}
	return nil
}

// Close closes the underlying file handle. It does not wipe any key
// material — that is the volume engine's responsibility.
func (b *Blob) Close() error {
	return b.f.Close()
}
