package ws

import (
	"context"

	"chat-router/internal/notify"
)

const eventNotification = "notification"

// ConnectionLister resolves a user's live connections.
type ConnectionLister interface {
	ConnectionsFor(userID int) []string
}

// InAppPusher shows a notification on every tab the user has open, including
// tabs that are not joined to the room the message went to.
type InAppPusher struct {
	hub   *Hub
	conns ConnectionLister
}

func NewInAppPusher(hub *Hub, conns ConnectionLister) *InAppPusher {
	return &InAppPusher{hub: hub, conns: conns}
}

// Push sends a notification frame to each live connection of userID. A user
// with no connections is not an error; other pushers cover that case.
func (p *InAppPusher) Push(_ context.Context, userID int, n notify.Notification) error {
	for _, connID := range p.conns.ConnectionsFor(userID) {
		p.hub.Send(connID, Frame{Event: eventNotification, Room: n.Room, Data: n})
	}
	return nil
}
