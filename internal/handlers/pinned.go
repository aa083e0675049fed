package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-router/internal/repositories"
)

// PinnedHandler serves the pinned public messages.
type PinnedHandler struct {
	messages repositories.MessageRepository
	logger   *zap.Logger
}

// NewPinnedHandler builds a PinnedHandler. messages may be nil when
// persistence is disabled.
func NewPinnedHandler(messages repositories.MessageRepository, logger *zap.Logger) *PinnedHandler {
	return &PinnedHandler{messages: messages, logger: logger}
}

// ListPinned returns pinned messages, newest first.
func (h *PinnedHandler) ListPinned(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	msgs, err := h.messages.ListPinned(c.Request.Context())
	if err != nil {
		h.logger.Error("list pinned failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pinned messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
