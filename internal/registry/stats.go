package registry

import (
	kerrors "kurpod/internal/errors"
	"kurpod/internal/volume"
)

// BlobStatsBoth reports whole-blob space usage, including garbage_bytes,
// given both of a blob's volume passwords. It takes the blob's shared
// read lock rather than the exclusive writer lock CompactBlob uses,
// since it only reads both volumes' snapshots and never mutates the
// file; passwordHidden may be nil if the blob has no hidden volume.
func (r *Registry) BlobStatsBoth(blobName, passwordStandard string, passwordHidden *string) (volume.Stats, error) {
	h, err := r.handleFor(blobName)
	if err != nil {
		return volume.Stats{}, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	vStd, err := h.engine.Unlock(passwordStandard)
	if err != nil {
		return volume.Stats{}, err
	}
	defer vStd.Lock()
	if vStd.ID() != volume.StandardVolume {
		return volume.Stats{}, kerrors.NewValidationError("password_s", "does not unlock the standard volume")
	}

	var vHid *volume.UnlockedVolume
	if passwordHidden != nil {
		vHid, err = h.engine.Unlock(*passwordHidden)
		if err != nil {
			return volume.Stats{}, err
		}
		defer vHid.Lock()
		if vHid.ID() != volume.HiddenVolume {
			return volume.Stats{}, kerrors.NewValidationError("password_h", "does not unlock the hidden volume")
		}
	}

	return volume.EngineStats(h.engine, vStd, vHid)
}
