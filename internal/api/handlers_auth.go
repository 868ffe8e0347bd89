package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/registry"
)

type initRequest struct {
	BlobName   string  `json:"blob_name" binding:"required"`
	PasswordS  string  `json:"password_s" binding:"required"`
	PasswordH  *string `json:"password_h"`
}

func handleInit(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, kerrors.NewValidationError("body", err.Error()))
			return
		}

		if err := reg.InitBlob(req.BlobName, req.PasswordS, req.PasswordH); err != nil {
			fail(c, err)
			return
		}
		okStatus(c, http.StatusCreated, gin.H{"blob_name": req.BlobName})
	}
}

type unlockRequest struct {
	BlobName string `json:"blob_name"`
	Password string `json:"password" binding:"required"`
}

type unlockResponse struct {
	Token  string `json:"token"`
	Volume string `json:"volume"`
}

// handleUnlock begins a session. blob_name is optional in single-file
// mode, required in directory mode; the registry's default resolves
// the omitted case.
func handleUnlock(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req unlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, kerrors.NewValidationError("body", err.Error()))
			return
		}

		blobName := req.BlobName
		if blobName == "" {
			blobName = reg.DefaultBlobName()
		}
		if blobName == "" {
			fail(c, kerrors.NewValidationError("blob_name", "required"))
			return
		}

		token, volumeName, err := reg.OpenForSessionNamed(blobName, req.Password, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, unlockResponse{Token: token, Volume: volumeName})
	}
}

func handleLogout(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _, _, _ := sessionContext(c)
		if err := reg.Logout(token); err != nil {
			fail(c, err)
			return
		}
		ok(c, nil)
	}
}

func handleSessionInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, blobName, _, _ := sessionContext(c)
		ok(c, gin.H{"blob_name": blobName, "authenticated": true})
	}
}
