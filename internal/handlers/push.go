package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-router/internal/models"
	"chat-router/internal/notify"
	"chat-router/internal/repositories"
	"chat-router/internal/telemetry"
)

// PushHandler manages browser push subscriptions and admin test pushes.
type PushHandler struct {
	subs      repositories.SubscriptionRepository
	pusher    notify.Pusher
	publicKey string
	audit     *telemetry.AuditEmitter
	logger    *zap.Logger
}

// NewPushHandler builds a PushHandler. subs and pusher may be nil when the
// corresponding backend is not configured.
func NewPushHandler(subs repositories.SubscriptionRepository, pusher notify.Pusher, publicKey string, audit *telemetry.AuditEmitter, logger *zap.Logger) *PushHandler {
	return &PushHandler{subs: subs, pusher: pusher, publicKey: publicKey, audit: audit, logger: logger}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

type testPushRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// VAPIDPublicKey returns the application server key browsers subscribe with.
func (h *PushHandler) VAPIDPublicKey(c *gin.Context) {
	if h.publicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "web push not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.publicKey})
}

// Subscribe stores a push subscription for the caller.
func (h *PushHandler) Subscribe(c *gin.Context) {
	if h.subs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil || !strings.HasPrefix(req.Endpoint, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription"})
		return
	}

	userID := c.GetInt("userID")
	err := h.subs.SaveSubscription(c.Request.Context(), models.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		h.logger.Error("save subscription failed", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save subscription"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

// Unsubscribe removes one of the caller's subscriptions.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if h.subs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	userID := c.GetInt("userID")
	if err := h.subs.DeleteSubscription(c.Request.Context(), userID, req.Endpoint); err != nil {
		h.logger.Error("delete subscription failed", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}
	c.Status(http.StatusNoContent)
}

// TestPush sends a notification straight to a user's devices, bypassing
// presence and debounce.
func (h *PushHandler) TestPush(c *gin.Context) {
	if h.pusher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push not configured"})
		return
	}
	target, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || target <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req testPushRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	if req.Title == "" {
		req.Title = "Test notification"
	}
	if req.Body == "" {
		req.Body = "Push notifications are working."
	}

	n := notify.Notification{Title: req.Title, Body: req.Body, URL: req.URL}.Normalize()
	if err := h.pusher.Push(c.Request.Context(), target, n); err != nil {
		h.logger.Warn("test push failed", zap.Int("user_id", target), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "push failed"})
		return
	}

	h.audit.Emit(c.Request.Context(), requestIDFromContext(c), userIDFromContext(c), telemetry.AuditPayload{
		Action: "test_push",
		Target: fmt.Sprintf("user:%d", target),
		Text:   n.Title,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}
