package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PresenceReader is the read side of the presence tracker.
type PresenceReader interface {
	IsOnline(userID int) bool
	ListOnlineUsers() []int
	LastSeen(userID int) (time.Time, bool)
}

// PresenceHandler exposes presence state over REST.
type PresenceHandler struct {
	presence PresenceReader
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// ListOnline returns every user with at least one live connection.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	users := h.presence.ListOnlineUsers()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// GetUser returns the presence of one user.
func (h *PresenceHandler) GetUser(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	resp := gin.H{"user_id": userID, "status": "offline"}
	if h.presence.IsOnline(userID) {
		resp["status"] = "online"
	} else if seen, ok := h.presence.LastSeen(userID); ok {
		resp["last_seen"] = seen.UTC()
	}
	c.JSON(http.StatusOK, resp)
}
