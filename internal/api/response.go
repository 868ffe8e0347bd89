package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/log"
)

// envelope is the JSON shape every non-streaming response uses, per
// the external interface's `{ success, data?, message? }` contract.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func okStatus(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// fail maps err to its HTTP status via kerrors.HTTPStatus and writes a
// generic, non-leaking message: authentication failures never tell the
// client which of BadPassword/InvalidToken/Expired/BindingMismatch
// occurred, only that the request was rejected.
func fail(c *gin.Context, err error) {
	status := kerrors.HTTPStatus(err)
	message := publicMessage(status)

	if status >= http.StatusInternalServerError {
		log.Error("request failed", log.Err(err), log.Int("status", status))
	}

	c.JSON(status, envelope{Success: false, Message: message})
}

func publicMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "writer busy, retry"
	case http.StatusRequestedRangeNotSatisfiable:
		return "range not satisfiable"
	case http.StatusUnprocessableEntity:
		return "corrupt record"
	case http.StatusBadRequest:
		return "invalid request"
	default:
		return "internal error"
	}
}
