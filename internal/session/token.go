package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	kerrors "kurpod/internal/errors"
)

// macSize is the length of a SHA-256 HMAC tag.
const macSize = sha256.Size

// tokenSize is the fixed wire length a valid token decodes to:
// session id, client half, and its MAC.
const tokenSize = sessionIDSize + clientHalfSize + macSize

// encodeToken builds the bearer token a client must present on every
// request: its session id and client-held key half, MACed with the
// server's long-lived secret so a tampered or forged half is caught
// before ever reaching the XOR reconstruction. The MAC intentionally
// does not cover clientIP/userAgent — those are checked against the
// binding recorded server-side at Issue time, not against anything the
// client could restate in the token itself.
func encodeToken(sessionID, clientHalf, secret []byte) (string, error) {
	mac := computeMAC(sessionID, clientHalf, secret)

	buf := make([]byte, 0, tokenSize)
	buf = append(buf, sessionID...)
	buf = append(buf, clientHalf...)
	buf = append(buf, mac...)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// decodeToken parses and authenticates a bearer token, returning its
// session id and client key half. It never trusts the wire value of
// either without a matching MAC.
func decodeToken(token string, secret []byte) (sessionID, clientHalf []byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenSize {
		return nil, nil, kerrors.ErrInvalidToken
	}

	sessionID = raw[:sessionIDSize]
	clientHalf = raw[sessionIDSize : sessionIDSize+clientHalfSize]
	gotMAC := raw[sessionIDSize+clientHalfSize:]

	wantMAC := computeMAC(sessionID, clientHalf, secret)
	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, nil, kerrors.ErrInvalidToken
	}

	return sessionID, clientHalf, nil
}

func computeMAC(sessionID, clientHalf, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(sessionID)
	h.Write(clientHalf)
	return h.Sum(nil)
}
