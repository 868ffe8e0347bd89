package api

import (
	"github.com/gin-gonic/gin"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/registry"
	"kurpod/internal/volume"
)

type compactRequest struct {
	PasswordS string  `json:"password_s" binding:"required"`
	PasswordH *string `json:"password_h"`
}

// handleCompact requires both volume passwords directly in the request
// body — it is not satisfied by the caller's existing session, since a
// single session only ever holds one volume's key, and the compactor
// must know whether a hidden volume exists at all before it can
// rewrite the blob without destroying or revealing it.
func handleCompact(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, blobName, _, _ := sessionContext(c)

		var req compactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, kerrors.NewValidationError("body", err.Error()))
			return
		}

		if err := reg.CompactBlob(blobName, req.PasswordS, req.PasswordH, volume.NoopReporter); err != nil {
			fail(c, err)
			return
		}
		ok(c, nil)
	}
}

// handleStorageStats reports per-volume space usage for the caller's
// own session, with garbage_bytes left null since a single-volume
// session cannot distinguish its own garbage from the other volume's
// live set.
func handleStorageStats(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, blobName, clientIP, userAgent := sessionContext(c)

		stats, err := registry.WithRead(reg, blobName, token, clientIP, userAgent, func(v *volume.UnlockedVolume) (volume.Stats, error) {
			return v.Stats()
		})
		if err != nil {
			fail(c, err)
			return
		}

		ok(c, statsResponse(stats))
	}
}

// handleStorageStatsBoth reports whole-blob space usage including
// garbage_bytes, given both volume passwords directly in the request
// body. Its request shape mirrors handleCompact's, for the same
// reason: a session only ever holds one volume's key, so accounting
// for the other volume's garbage needs both passwords up front.
func handleStorageStatsBoth(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, blobName, _, _ := sessionContext(c)

		var req compactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, kerrors.NewValidationError("body", err.Error()))
			return
		}

		stats, err := reg.BlobStatsBoth(blobName, req.PasswordS, req.PasswordH)
		if err != nil {
			fail(c, err)
			return
		}

		ok(c, statsResponse(stats))
	}
}

func statsResponse(stats volume.Stats) gin.H {
	return gin.H{
		"file_count":    stats.FileCount,
		"live_bytes":    stats.LiveBytes,
		"blob_size":     stats.BlobSize,
		"garbage_bytes": stats.GarbageBytes,
	}
}
