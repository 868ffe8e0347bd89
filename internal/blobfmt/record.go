package blobfmt

import (
	"encoding/binary"
	"io"

	kerrors "kurpod/internal/errors"
)

// AppendRecord appends one self-delimited record — nonce, length-prefixed
// ciphertext, length trailer — to the end of the blob and returns the
// file offset at which the ciphertext itself begins. Callers address
// chunks later by that ciphertext offset, not by the record's start, so
// a read never has to re-parse framing.
//
// The caller is responsible for calling blob.Sync() at the appropriate
// point; AppendRecord itself does not fsync, so a caller appending many
// chunk records can batch the fsync until the last one.
func AppendRecord(b *Blob, nonce, ciphertext []byte) (ciphertextOffset int64, err error) {
	if len(nonce) != NonceSize {
		return 0, kerrors.NewValidationError("nonce", "must be exactly NonceSize bytes")
	}

	end, err := b.Size()
	if err != nil {
		return 0, err
	}

	lenField := make([]byte, LenFieldSize)
	binary.LittleEndian.PutUint64(lenField, uint64(len(ciphertext)))

	record := make([]byte, 0, RecordOverhead+len(ciphertext))
	record = append(record, nonce...)
	record = append(record, lenField...)
	record = append(record, ciphertext...)
	record = append(record, lenField...)

	if _, err := b.File().WriteAt(record, end); err != nil {
		return 0, kerrors.NewFileError("write", b.Path(), err)
	}

	return end + NonceSize + LenFieldSize, nil
}

// ReadCiphertextAt reads back a ciphertext previously written by
// AppendRecord, given the ciphertext offset and length recorded in a
// metadata snapshot's chunk reference. It also reads the nonce that
// immediately precedes the ciphertext.
func ReadCiphertextAt(b *Blob, ciphertextOffset int64, length uint64) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := b.File().ReadAt(nonce, ciphertextOffset-NonceSize-LenFieldSize); err != nil {
		return nil, nil, kerrors.NewRecordError("nonce", err)
	}

	ciphertext = make([]byte, length)
	if _, err := b.File().ReadAt(ciphertext, ciphertextOffset); err != nil {
		return nil, nil, kerrors.NewRecordError("ciphertext", err)
	}

	return nonce, ciphertext, nil
}

// FoundRecord is what WalkBackward hands to its callback: the decoded
// framing of one record plus the file offset its ciphertext starts at
// (the same offset a Snapshot chunk reference would store).
type FoundRecord struct {
	Nonce            []byte
	Ciphertext       []byte
	CiphertextOffset int64
	RecordStart      int64
}

// WalkBackward scans the append region of the blob from its current end
// toward headerEnd, yielding each well-formed record to visit in
// last-appended-first order. Where the bytes before the current end do
// not form a record (the length reaches back past headerEnd, or the
// leading and trailing length fields disagree), they are treated as
// garbage from an interrupted write and the walk steps back one byte at
// a time until it reaches a record boundary again — this is what gives
// the blob format its crash resilience: a half-written record at the
// tail never hides records written before it.
//
// visit returns false to stop the walk early (e.g. once the caller has
// found the newest metadata record it's looking for).
func WalkBackward(b *Blob, headerEnd int64, visit func(FoundRecord) (keepGoing bool, err error)) error {
	end, err := b.Size()
	if err != nil {
		return err
	}

	f := b.File()
	trailer := make([]byte, LenFieldSize)

	for end > headerEnd {
		if end-LenFieldSize < headerEnd {
			break
		}
		if _, rerr := f.ReadAt(trailer, end-LenFieldSize); rerr != nil {
			if rerr == io.EOF {
				break
			}
			break
		}
		length := binary.LittleEndian.Uint64(trailer)

		recordStart := end - (int64(NonceSize) + int64(LenFieldSize) + int64(length) + int64(LenFieldSize))
		if recordStart < headerEnd || recordStart < 0 {
			// Not a record boundary: step back one byte and try again.
			end--
			continue
		}

		header := make([]byte, NonceSize+LenFieldSize)
		if _, rerr := f.ReadAt(header, recordStart); rerr != nil {
			break
		}
		nonce := header[:NonceSize]
		leadingLen := binary.LittleEndian.Uint64(header[NonceSize:])
		if leadingLen != length {
			// Leading and trailing length fields disagree: this is not a
			// genuine record boundary, just bytes that happen to look
			// like a trailer. Step back one byte and try again.
			end--
			continue
		}

		ciphertextOffset := recordStart + int64(NonceSize) + int64(LenFieldSize)
		ciphertext := make([]byte, length)
		if _, rerr := f.ReadAt(ciphertext, ciphertextOffset); rerr != nil {
			break
		}

		keepGoing, verr := visit(FoundRecord{
			Nonce:            nonce,
			Ciphertext:       ciphertext,
			CiphertextOffset: ciphertextOffset,
			RecordStart:      recordStart,
		})
		if verr != nil {
			return verr
		}
		if !keepGoing {
			return nil
		}

		end = recordStart
	}

	return nil
}
