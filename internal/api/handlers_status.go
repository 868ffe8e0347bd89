package api

import (
	"github.com/gin-gonic/gin"

	"kurpod/internal/registry"
)

type statusResponse struct {
	Mode   string   `json:"mode"`
	Blobs  []string `json:"blobs"`
}

// handleStatus reports the server's mode and the blobs it can serve.
// Unauthenticated: this is the capability discovery step a client uses
// before it has any session at all.
func handleStatus(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		blobs, err := reg.ListBlobs()
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, statusResponse{Mode: reg.ModeName(), Blobs: blobs})
	}
}
