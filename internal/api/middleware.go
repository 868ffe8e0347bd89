package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/registry"
)

var errUnauthenticated = kerrors.ErrInvalidToken

const (
	ctxToken     = "kurpod.token"
	ctxBlobName  = "kurpod.blob_name"
	ctxClientIP  = "kurpod.client_ip"
	ctxUserAgent = "kurpod.user_agent"
)

// RequireSession gates a route on a valid split-key session. On success
// it stashes the bearer token, the session's blob name, and the
// request's IP/User-Agent in the gin context for the handler to use
// against the registry.
func RequireSession(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			fail(c, errUnauthenticated)
			c.Abort()
			return
		}

		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()

		ref, err := reg.ValidateSession(token, clientIP, userAgent)
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}

		c.Set(ctxToken, token)
		c.Set(ctxBlobName, ref.BlobName)
		c.Set(ctxClientIP, clientIP)
		c.Set(ctxUserAgent, userAgent)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func sessionContext(c *gin.Context) (token, blobName, clientIP, userAgent string) {
	return c.GetString(ctxToken), c.GetString(ctxBlobName), c.GetString(ctxClientIP), c.GetString(ctxUserAgent)
}

// corsConfig builds the gin-contrib/cors configuration: credentialed
// cross-origin requests so a browser-based client can carry the bearer
// token and IP/UA binding across its own origin.
func corsConfig(allowedOrigins []string) cors.Config {
	return cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Range"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
	}
}
