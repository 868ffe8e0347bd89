package volume

import (
	"kurpod/internal/blobfmt"
	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
)

// UnlockedVolume is a session's view onto one volume of an open blob:
// its derived key, its current snapshot, and the engine it shares the
// underlying file with. Sealed -> Unlocked -> Sealed is the only state
// machine it has; Lock() drives the second transition and wipes the
// key.
type UnlockedVolume struct {
	engine *Engine
	id     VolumeID
	slot   int

	key      *crypto.KeyMaterial
	snapshot *blobfmt.Snapshot
}

// Unlock tries the password against both salt slots and returns the
// volume whose latest metadata record opens under the derived key. Both
// slots' keys are always derived, and both are always scanned if the
// first does not match, so that a password's derivation cost does not
// itself betray which volume (if any) it unlocks.
func (e *Engine) Unlock(password string) (*UnlockedVolume, error) {
	slots, err := e.blob.ReadSaltSlots()
	if err != nil {
		return nil, err
	}

	keyStd, err := crypto.DeriveKey([]byte(password), slots[blobfmt.StandardSlot])
	if err != nil {
		return nil, err
	}
	keyHid, err := crypto.DeriveKey([]byte(password), slots[blobfmt.HiddenSlot])
	if err != nil {
		crypto.SecureZero(keyStd)
		return nil, err
	}

	snapStd, foundStd := e.scanForSnapshot(keyStd, blobfmt.StandardSlot)
	snapHid, foundHid := e.scanForSnapshot(keyHid, blobfmt.HiddenSlot)

	switch {
	case foundStd:
		crypto.SecureZero(keyHid)
		return &UnlockedVolume{
			engine:   e,
			id:       StandardVolume,
			slot:     blobfmt.StandardSlot,
			key:      crypto.NewKeyMaterial(keyStd),
			snapshot: snapStd,
		}, nil
	case foundHid:
		crypto.SecureZero(keyStd)
		return &UnlockedVolume{
			engine:   e,
			id:       HiddenVolume,
			slot:     blobfmt.HiddenSlot,
			key:      crypto.NewKeyMaterial(keyHid),
			snapshot: snapHid,
		}, nil
	default:
		crypto.SecureZero(keyStd)
		crypto.SecureZero(keyHid)
		return nil, kerrors.ErrBadPassword
	}
}

// scanForSnapshot walks the append region backward looking for the
// newest record that opens under key with the metadata AAD for slot.
func (e *Engine) scanForSnapshot(key []byte, slot int) (*blobfmt.Snapshot, bool) {
	aad := crypto.AADMetadata(uint32(slot))

	var found *blobfmt.Snapshot
	_ = blobfmt.WalkBackward(e.blob, blobfmt.HeaderSize, func(r blobfmt.FoundRecord) (bool, error) {
		plaintext, err := crypto.Open(nil, key, r.Nonce, aad, r.Ciphertext)
		if err != nil {
			return true, nil // not this record; keep scanning
		}
		snap, err := blobfmt.DecodeSnapshot(plaintext)
		if err != nil {
			return true, nil // opened but not a valid snapshot payload; keep scanning
		}
		found = snap
		return false, nil // newest match; stop
	})

	return found, found != nil
}

// UnlockWithKey rebuilds an UnlockedVolume from an already-derived key,
// without repeating the Argon2id derivation or the password-guessing
// scan across both slots. This is what a session-authenticated request
// uses: the session manager reconstructs K from its split halves, and
// the volume id (which slot) was recorded at the original Unlock, so
// only the single matching slot needs to be rescanned for its current
// snapshot.
func (e *Engine) UnlockWithKey(id VolumeID, key []byte) (*UnlockedVolume, error) {
	slot := int(id)
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	snap, found := e.scanForSnapshot(keyCopy, slot)
	if !found {
		crypto.SecureZero(keyCopy)
		return nil, kerrors.ErrBadPassword
	}

	return &UnlockedVolume{
		engine:   e,
		id:       id,
		slot:     slot,
		key:      crypto.NewKeyMaterial(keyCopy),
		snapshot: snap,
	}, nil
}

// ID returns which volume this handle unlocked.
func (v *UnlockedVolume) ID() VolumeID { return v.id }

// Key exposes the volume's derived key for exactly as long as v stays
// unlocked. Callers that need to retain it past v.Lock() must copy it
// immediately — the returned slice is wiped in place when v.Lock() runs.
func (v *UnlockedVolume) Key() []byte { return v.key.Bytes() }

// Lock wipes the volume's key material. The handle must not be used
// afterward.
func (v *UnlockedVolume) Lock() {
	if v.key != nil {
		v.key.Close()
	}
}
