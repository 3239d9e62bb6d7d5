package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"recording-ingest/service"
)

type StatusHandler struct {
	svc service.RecordingService
}

func NewStatusHandler(svc service.RecordingService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

func (h *StatusHandler) Register(r gin.IRouter) {
	r.GET("/recordings/:roomId/status", h.Status)
}

func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	status, err := h.svc.Status(ctx, c.Param("roomId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, status)
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(ctx).Error().Err(err).Str("room_id", c.Param("roomId")).Msg("failed to load recording status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
