// Package api is the thin HTTP adapter (C7): it converts requests into
// registry/session operations and streams back the result. It performs
// no cryptography of its own beyond the token MAC check that
// RequireSession delegates to internal/session.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kurpod/internal/registry"
)

// Options configures the router beyond the registry it serves.
type Options struct {
	AllowedOrigins []string
	ReleaseMode    bool
}

// NewRouter builds the gin engine serving every endpoint: a bare
// gin.Engine with an explicit middleware chain (recovery, then CORS), a
// global OPTIONS handler for preflight requests, and every route
// grouped under /api.
func NewRouter(reg *registry.Registry, opts Options) *gin.Engine {
	if opts.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	r.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", handleStatus(reg))
		apiGroup.POST("/init", handleInit(reg))
		apiGroup.POST("/unlock", handleUnlock(reg))

		authed := apiGroup.Group("")
		authed.Use(RequireSession(reg))
		{
			authed.POST("/logout", handleLogout(reg))
			authed.GET("/session", handleSessionInfo())

			authed.GET("/files", handleListFiles(reg))
			authed.POST("/files", handleUploadFiles(reg))
			authed.POST("/batch-upload", handleBatchUpload(reg))
			authed.GET("/files/*path", handleDownloadFile(reg))
			authed.DELETE("/files/*path", handleDeleteFile(reg))

			authed.POST("/storage/compact", handleCompact(reg))
			authed.GET("/storage/stats", handleStorageStats(reg))
			authed.POST("/storage/stats", handleStorageStatsBoth(reg))
		}
	}

	return r
}
