// Package session implements split-key session authentication (C5): a
// short-lived, IP/User-Agent-bound bearer token scheme under which the
// file-encryption key is never reconstructable from any single
// persisted or easily-extractable artifact. The server holds one half
// of the key (XORed with a random value held by the client); only
// combining both halves, per request, yields the real key.
package session

import (
	"sync"
	"time"

	"kurpod/internal/crypto"
	kerrors "kurpod/internal/errors"
	"kurpod/internal/log"
)

const (
	// DefaultIdleTimeout is reset on every authorized request.
	DefaultIdleTimeout = 15 * time.Minute
	// DefaultAbsoluteTimeout is not resettable; it bounds a session's
	// total lifetime from unlock regardless of activity.
	DefaultAbsoluteTimeout = 2 * time.Hour

	sessionIDSize = 16
	clientHalfSize = 32
)

// VolumeRef identifies the blob and volume a session was unlocked
// against, opaque to everything outside the registry that issued it.
type VolumeRef struct {
	BlobName string
	VolumeID int
}

// entry is the server-side half of one session. kServer is the volume
// key XORed with the client-held random half; neither half alone
// reveals the key.
type entry struct {
	kServer []byte
	ref     VolumeRef

	clientIP  string
	userAgent string

	createdAt  time.Time
	lastActive time.Time
}

func (e *entry) expired(now time.Time, idle, absolute time.Duration) bool {
	if now.Sub(e.lastActive) > idle {
		return true
	}
	if now.Sub(e.createdAt) > absolute {
		return true
	}
	return false
}

// Manager holds every live session for the process. It is the only
// place the split-key halves ever exist simultaneously outside of a
// single request's stack.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	secret []byte // long-lived server secret, MACs every issued token

	idleTimeout     time.Duration
	absoluteTimeout time.Duration

	stop   chan struct{}
	closed bool
}

// NewManager creates a session manager with its own random long-lived
// MAC secret and starts its background expiry sweep.
func NewManager(idleTimeout, absoluteTimeout time.Duration) (*Manager, error) {
	secret, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sessions:        make(map[string]*entry),
		secret:          secret,
		idleTimeout:     idleTimeout,
		absoluteTimeout: absoluteTimeout,
		stop:            make(chan struct{}),
	}
	go m.sweepLoop()
	return m, nil
}

// Issue mints a new session for an unlocked volume key. key is
// consumed here only to compute the split halves — the caller remains
// responsible for wiping its own copy. The returned token is what the
// client must present as a bearer credential on every subsequent
// request.
func (m *Manager) Issue(key []byte, ref VolumeRef, clientIP, userAgent string) (token string, err error) {
	sessionID, err := crypto.RandomBytes(sessionIDSize)
	if err != nil {
		return "", err
	}
	clientHalf, err := crypto.RandomBytes(clientHalfSize)
	if err != nil {
		return "", err
	}

	kServer := xorBytes(key, clientHalf)

	m.mu.Lock()
	m.sessions[string(sessionID)] = &entry{
		kServer:    kServer,
		ref:        ref,
		clientIP:   clientIP,
		userAgent:  userAgent,
		createdAt:  time.Now(),
		lastActive: time.Now(),
	}
	m.mu.Unlock()

	token, err = encodeToken(sessionID, clientHalf, m.secret)
	crypto.SecureZero(clientHalf)
	if err != nil {
		return "", err
	}

	log.Info("session issued", log.String("blob", ref.BlobName), log.Int("volume", ref.VolumeID))
	return token, nil
}

// Authenticated is the result of a successful Validate call. Key is the
// reconstructed volume key, valid only for the duration of the current
// request — the caller MUST wipe it before returning.
type Authenticated struct {
	Key       []byte
	Ref       VolumeRef
	sessionID string
}

// Validate checks a bearer token's MAC, looks up its session, enforces
// the IP/User-Agent binding and both timeouts, and reconstructs the
// volume key for this one request. The idle timeout is reset as a side
// effect of a successful validation.
func (m *Manager) Validate(token, clientIP, userAgent string) (*Authenticated, error) {
	sessionID, clientHalf, err := decodeToken(token, m.secret)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	e, ok := m.sessions[string(sessionID)]
	if !ok {
		m.mu.Unlock()
		return nil, kerrors.ErrInvalidToken
	}

	now := time.Now()
	if e.expired(now, m.idleTimeout, m.absoluteTimeout) {
		m.deleteLocked(string(sessionID))
		m.mu.Unlock()
		return nil, kerrors.ErrExpired
	}

	if !crypto.ConstantTimeEqual([]byte(e.clientIP), []byte(clientIP)) ||
		!crypto.ConstantTimeEqual([]byte(e.userAgent), []byte(userAgent)) {
		m.mu.Unlock()
		return nil, kerrors.ErrBindingMismatch
	}

	e.lastActive = now
	kServer := make([]byte, len(e.kServer))
	copy(kServer, e.kServer)
	ref := e.ref
	m.mu.Unlock()

	key := xorBytes(kServer, clientHalf)
	crypto.SecureZero(kServer)

	return &Authenticated{Key: key, Ref: ref, sessionID: string(sessionID)}, nil
}

// Logout immediately zeroizes and forgets the session carried by token.
// It does not fail if the session has already expired or been logged
// out; a malformed or forged token returns the decoding error.
func (m *Manager) Logout(token string) error {
	sessionID, _, err := decodeToken(token, m.secret)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.deleteLocked(string(sessionID))
	m.mu.Unlock()
	return nil
}

// deleteLocked wipes and removes a session entry. Caller must hold mu.
func (m *Manager) deleteLocked(sessionID string) {
	if e, ok := m.sessions[sessionID]; ok {
		crypto.SecureZero(e.kServer)
		delete(m.sessions, sessionID)
	}
}

// Close stops the background sweep and wipes every remaining session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stop)
	for id := range m.sessions {
		m.deleteLocked(id)
	}
	m.mu.Unlock()
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
