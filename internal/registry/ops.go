package registry

import (
	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
	"kurpod/internal/session"
	"kurpod/internal/volume"
)

// validateAndResolve checks token against clientIP/userAgent and
// confirms it was issued for blobName, without touching the handle's
// engine yet — that only happens once the caller holds h.mu, so a
// concurrent compaction swapping out h.engine can never race an
// in-flight UnlockWithKey.
func (r *Registry) validateAndResolve(blobName, token, clientIP, userAgent string) (*Handle, []byte, volume.VolumeID, error) {
	auth, err := r.sessions.Validate(token, clientIP, userAgent)
	if err != nil {
		return nil, nil, 0, err
	}
	if auth.Ref.BlobName != blobName {
		crypto.SecureZero(auth.Key)
		return nil, nil, 0, kerrors.ErrInvalidToken
	}

	h, err := r.handleFor(blobName)
	if err != nil {
		crypto.SecureZero(auth.Key)
		return nil, nil, 0, err
	}
	return h, auth.Key, volume.VolumeID(auth.Ref.VolumeID), nil
}

// WithRead runs fn against blobName's current snapshot under a shared
// read lock: any number of readers may run concurrently, but never
// alongside a writer.
func WithRead[T any](r *Registry, blobName, token, clientIP, userAgent string, fn func(*volume.UnlockedVolume) (T, error)) (T, error) {
	var zero T

	h, key, volumeID, err := r.validateAndResolve(blobName, token, clientIP, userAgent)
	if err != nil {
		return zero, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	v, err := h.engine.UnlockWithKey(volumeID, key)
	crypto.SecureZero(key)
	if err != nil {
		return zero, err
	}
	defer v.Lock()

	return fn(v)
}

// WithWrite runs fn against blobName under an exclusive lock, guaranteeing
// fn is the only mutator of this blob while it runs. fn is expected to
// append chunks and the new metadata record before returning, per the
// write discipline that a writer must never release the lock between
// those two steps. If another writer already holds the lock — a long
// upload in progress — WithWrite does not queue behind it; it fails
// immediately with ErrConflict so the caller can retry.
func WithWrite[T any](r *Registry, blobName, token, clientIP, userAgent string, fn func(*volume.UnlockedVolume) (T, error)) (T, error) {
	var zero T

	h, key, volumeID, err := r.validateAndResolve(blobName, token, clientIP, userAgent)
	if err != nil {
		return zero, err
	}

	if !h.mu.TryLock() {
		crypto.SecureZero(key)
		return zero, kerrors.ErrConflict
	}
	defer h.mu.Unlock()

	v, err := h.engine.UnlockWithKey(volumeID, key)
	crypto.SecureZero(key)
	if err != nil {
		return zero, err
	}
	defer v.Lock()

	return fn(v)
}

// Logout forgets the session carried by token. Re-exported here so
// callers above the registry never need to reach into
// internal/session directly.
func (r *Registry) Logout(token string) error {
	return r.sessions.Logout(token)
}

// ValidateSession re-authenticates a token without performing any
// volume operation, for status-only endpoints that only need to know
// whether the caller is still logged in.
func (r *Registry) ValidateSession(token, clientIP, userAgent string) (session.VolumeRef, error) {
	auth, err := r.sessions.Validate(token, clientIP, userAgent)
	if err != nil {
		return session.VolumeRef{}, err
	}
	crypto.SecureZero(auth.Key)
	return auth.Ref, nil
}
