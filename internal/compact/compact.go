// Package compact implements the offline blob rewrite (C4) that drops
// chunks no longer referenced by either volume's effective metadata.
// It requires every volume password the blob actually has, because
// dropping a chunk the compactor doesn't know is still live would
// silently destroy data — and, for a hidden volume, break the
// plausible-deniability guarantee that a blob with no hidden password
// looks identical to one whose hidden volume was simply never given.
package compact

import (
	"io"
	"os"

	"kurpod/internal/blobfmt"
	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
	"kurpod/internal/log"
	"kurpod/internal/util"
	"kurpod/internal/volume"
)

// rewriteBufPool reuses plaintext chunk buffers across rewriteFile
// calls during a single compaction run.
var rewriteBufPool = util.NewBufferPool(blobfmt.ChunkPlaintextSize)

// Request describes one compaction run.
type Request struct {
	BlobPath         string
	PasswordStandard string
	PasswordHidden   *string // nil if the blob has no hidden volume
	Reporter         volume.ProgressReporter
}

// Run rewrites the blob at req.BlobPath to a fresh temporary file
// containing only the chunks referenced by the live snapshots of every
// volume whose password was supplied, then atomically renames the
// temporary file over the original. The rename is the sole commit
// point: any failure before it leaves the original blob untouched.
func Run(req Request) error {
	reporter := req.Reporter
	if reporter == nil {
		reporter = volume.NoopReporter
	}
	reporter.SetStatus("opening blob")

	engine, err := volume.Open(req.BlobPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	vStd, err := engine.Unlock(req.PasswordStandard)
	if err != nil {
		return err
	}
	defer vStd.Lock()
	if vStd.ID() != volume.StandardVolume {
		return kerrors.NewValidationError("password_s", "does not unlock the standard volume")
	}

	var vHid *volume.UnlockedVolume
	if req.PasswordHidden != nil {
		vHid, err = engine.Unlock(*req.PasswordHidden)
		if err != nil {
			return err
		}
		defer vHid.Lock()
		if vHid.ID() != volume.HiddenVolume {
			return kerrors.NewValidationError("password_h", "does not unlock the hidden volume")
		}
	}

	tmpPath := req.BlobPath + ".compact.incomplete"
	_ = os.Remove(tmpPath) // best-effort: clear any stale leftover from a prior failed run

	newBlob, err := blobfmt.Create(tmpPath)
	if err != nil {
		return err
	}
	defer newBlob.Close()
	defer os.Remove(tmpPath) // no-op once the rename below has succeeded

	saltStd, err := crypto.RandomBytes(blobfmt.SaltSlotSize)
	if err != nil {
		return err
	}
	saltHid, err := crypto.RandomBytes(blobfmt.SaltSlotSize)
	if err != nil {
		return err
	}
	if err := newBlob.WriteSaltSlot(blobfmt.StandardSlot, saltStd); err != nil {
		return err
	}
	if err := newBlob.WriteSaltSlot(blobfmt.HiddenSlot, saltHid); err != nil {
		return err
	}

	keyStd, err := crypto.DeriveKey([]byte(req.PasswordStandard), saltStd)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(keyStd)

	reporter.SetStatus("rewriting standard volume")
	if err := rewriteVolume(newBlob, vStd, keyStd, blobfmt.StandardSlot, reporter); err != nil {
		return err
	}

	if vHid != nil {
		keyHid, err := crypto.DeriveKey([]byte(*req.PasswordHidden), saltHid)
		if err != nil {
			return err
		}
		defer crypto.SecureZero(keyHid)

		reporter.SetStatus("rewriting hidden volume")
		if err := rewriteVolume(newBlob, vHid, keyHid, blobfmt.HiddenSlot, reporter); err != nil {
			return err
		}
	} else {
		decoyKey, err := crypto.RandomBytes(crypto.Argon2KeySize)
		if err != nil {
			return err
		}
		defer crypto.SecureZero(decoyKey)

		emptySnapshot, err := blobfmt.NewSnapshot().Encode()
		if err != nil {
			return err
		}
		if err := sealAndAppend(newBlob, decoyKey, blobfmt.HiddenSlot, emptySnapshot); err != nil {
			return err
		}
	}

	if err := newBlob.Sync(); err != nil {
		return err
	}
	if err := newBlob.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, req.BlobPath); err != nil {
		return kerrors.NewFileError("rename", req.BlobPath, err)
	}

	reporter.SetStatus("done")
	if fi, err := os.Stat(req.BlobPath); err == nil {
		log.Info("blob compacted", log.String("path", req.BlobPath), log.String("size", util.Sizeify(fi.Size())))
	} else {
		log.Info("blob compacted", log.String("path", req.BlobPath))
	}
	return nil
}

// rewriteVolume streams every live file of v through the reader the
// volume engine already uses for downloads, re-seals each chunk under
// key with a fresh nonce into newBlob, and appends a final metadata
// record once every file has been rewritten.
func rewriteVolume(newBlob *blobfmt.Blob, v *volume.UnlockedVolume, key []byte, slot int, reporter volume.ProgressReporter) error {
	snapshot := blobfmt.NewSnapshot()

	files := v.List()
	for i, info := range files {
		r, err := v.Open(info.Path, nil)
		if err != nil {
			return err
		}

		chunks, err := rewriteFile(newBlob, key, r)
		r.Close()
		if err != nil {
			return err
		}

		snapshot.Upsert(blobfmt.FileEntry{
			Path:     info.Path,
			Size:     info.Size,
			Created:  info.Created,
			Modified: info.Modified,
			Chunks:   chunks,
			Mime:     info.Mime,
		})
		reporter.SetProgress(float64(i+1)/float64(len(files)), "rewrote "+info.Path)
	}

	plaintext, err := snapshot.Encode()
	if err != nil {
		return err
	}
	return sealAndAppend(newBlob, key, slot, plaintext)
}

// rewriteFile re-chunks and re-seals one file's plaintext into newBlob,
// returning the new chunk references.
func rewriteFile(newBlob *blobfmt.Blob, key []byte, r io.Reader) ([]blobfmt.ChunkRef, error) {
	var chunks []blobfmt.ChunkRef
	buf := rewriteBufPool.Get()
	defer rewriteBufPool.Put(buf)

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			nonce, err := crypto.RandomBytes(crypto.NonceSize)
			if err != nil {
				return nil, err
			}
			ciphertext, err := crypto.Seal(nil, key, nonce, crypto.AADChunk, buf[:n])
			if err != nil {
				return nil, kerrors.NewCryptoError("aead-seal", err)
			}
			offset, err := blobfmt.AppendRecord(newBlob, nonce, ciphertext)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, blobfmt.ChunkRef{Offset: offset, Length: uint64(len(ciphertext))})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, kerrors.NewFileError("read", "", readErr)
		}
	}

	return chunks, nil
}

func sealAndAppend(b *blobfmt.Blob, key []byte, slot int, plaintext []byte) error {
	nonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		return err
	}
	ciphertext, err := crypto.Seal(nil, key, nonce, crypto.AADMetadata(uint32(slot)), plaintext)
	if err != nil {
		return kerrors.NewCryptoError("aead-seal", err)
	}
	_, err = blobfmt.AppendRecord(b, nonce, ciphertext)
	return err
}
