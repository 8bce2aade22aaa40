package projector

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ridechat/internal/logger"
)

type textRequest struct {
	Text string `json:"text"`
}

// registerRoutes sets up all projector routes on the Gin router.
func registerRoutes(router *gin.Engine, src Source, heartbeat time.Duration, lg *logger.Logger) {
	api := router.Group("/api/chat")
	api.GET("", handleView(src))
	api.POST("/input", handleInput(src))
	api.POST("/messages", handleSubmit(src, lg))
	api.POST("/reload", handleReload(src))
	api.GET("/events", handleSSE(src, heartbeat))
}

func handleView(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	}
}

func handleInput(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req textRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		if err := src.SetInput(req.Text); err != nil {
			respondEngineError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleSubmit answers 202 once the send is pending; the outcome arrives
// through the view.
func handleSubmit(src Source, lg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req textRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		if err := src.Submit(req.Text); err != nil {
			lg.Debug("projector_submit_refused", "error", err)
			respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, src.Snapshot())
	}
}

func handleReload(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := src.Reload(); err != nil {
			respondEngineError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}
