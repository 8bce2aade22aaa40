package projector

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ridechat/internal/chat"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// respondEngineError maps engine sentinel errors to HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		respondError(c, http.StatusUnprocessableEntity, "empty_message", err)
	case errors.Is(err, chat.ErrMessageTooLong):
		respondError(c, http.StatusUnprocessableEntity, "message_too_long", err)
	case errors.Is(err, chat.ErrNotReady):
		respondError(c, http.StatusConflict, "not_ready", err)
	case errors.Is(err, chat.ErrNotConnected):
		respondError(c, http.StatusConflict, "not_connected", err)
	case errors.Is(err, chat.ErrSendPending):
		respondError(c, http.StatusConflict, "send_pending", err)
	case errors.Is(err, chat.ErrEngineStopped):
		respondError(c, http.StatusServiceUnavailable, "engine_stopped", err)
	default:
		respondError(c, http.StatusInternalServerError, "internal", err)
	}
}
