package ws

import (
	"time"

	"chat-router/internal/models"
)

// ConnInfo describes one websocket session for logs, events and payloads.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Username    string
	DisplayName string
	IsAdmin     bool
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// User is the public profile attached to frames sent by this session.
func (i ConnInfo) User() models.UserInfo {
	return models.UserInfo{ID: i.UserID, Username: i.Username, DisplayName: i.DisplayName}
}
