package volume

import (
	"sync"

	"kurpod/internal/blobfmt"
	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
	"kurpod/internal/log"
)

// Engine owns one open blob file. Two volumes share this single file,
// so all appends to it — chunk records, metadata records, for either
// volume — are serialized through appendMu. This mirrors the "at most
// one writer per blob" rule; the blob registry enforces the same rule
// at the session level, but the engine does not trust callers above it
// to always hold that lock correctly, so it guards its own I/O too.
type Engine struct {
	blob *blobfmt.Blob
	path string

	appendMu sync.Mutex
}

// Init creates a brand-new blob at path. It always writes two salt
// slots; slot 1 is random whether or not a hidden password is
// provided. If passwordHidden is nil, a decoy metadata record is
// appended in its place — sealed under an ephemeral key that is
// immediately discarded — so the blob's size and record shape do not
// reveal whether a hidden volume exists.
func Init(path string, passwordStandard string, passwordHidden *string) error {
	b, err := blobfmt.Create(path)
	if err != nil {
		return err
	}
	defer b.Close()

	saltStd, err := crypto.RandomBytes(blobfmt.SaltSlotSize)
	if err != nil {
		return err
	}
	saltHid, err := crypto.RandomBytes(blobfmt.SaltSlotSize)
	if err != nil {
		return err
	}
	if err := b.WriteSaltSlot(blobfmt.StandardSlot, saltStd); err != nil {
		return err
	}
	if err := b.WriteSaltSlot(blobfmt.HiddenSlot, saltHid); err != nil {
		return err
	}

	emptySnapshot, err := blobfmt.NewSnapshot().Encode()
	if err != nil {
		return err
	}

	keyStd, err := crypto.DeriveKey([]byte(passwordStandard), saltStd)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(keyStd)

	if err := sealAndAppend(b, keyStd, blobfmt.StandardSlot, emptySnapshot); err != nil {
		return err
	}

	if passwordHidden != nil {
		keyHid, err := crypto.DeriveKey([]byte(*passwordHidden), saltHid)
		if err != nil {
			return err
		}
		defer crypto.SecureZero(keyHid)

		if err := sealAndAppend(b, keyHid, blobfmt.HiddenSlot, emptySnapshot); err != nil {
			return err
		}
	} else {
		decoyKey, err := crypto.RandomBytes(crypto.Argon2KeySize)
		if err != nil {
			return err
		}
		defer crypto.SecureZero(decoyKey)

		if err := sealAndAppend(b, decoyKey, blobfmt.HiddenSlot, emptySnapshot); err != nil {
			return err
		}
	}

	if err := b.Sync(); err != nil {
		return err
	}

	log.Info("blob initialized", log.String("path", path), log.Bool("hidden", passwordHidden != nil))
	return nil
}

// sealAndAppend seals plaintext under key with the metadata AAD for
// slot, using a fresh random nonce, and appends it as a record.
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

// Open opens an existing blob file, ready for Unlock calls. It does not
// itself attempt any key derivation.
func Open(path string) (*Engine, error) {
	b, err := blobfmt.Open(path)
	if err != nil {
		return nil, err
	}
	return &Engine{blob: b, path: path}, nil
}

// Path returns the blob's filesystem path.
func (e *Engine) Path() string { return e.path }

// Close closes the underlying blob file. Any still-unlocked volumes
// obtained from this engine become unusable; callers should Lock them
// first.
func (e *Engine) Close() error {
	return e.blob.Close()
}
