package notify

import (
	"context"
	"errors"

	"chat-router/internal/rooms"
)

const (
	maxBodyRunes = 100
	defaultIcon  = "/static/profile_pics/default.jpg"
)

// Notification is the compact payload handed to a push collaborator.
type Notification struct {
	Title string       `json:"title"`
	Body  string       `json:"body"`
	URL   string       `json:"url"`
	Icon  string       `json:"icon,omitempty"`
	Badge string       `json:"badge,omitempty"`
	Room  rooms.RoomID `json:"room,omitempty"`
}

// Normalize fills defaults and truncates the body.
func (n Notification) Normalize() Notification {
	n.Body = Truncate(n.Body, maxBodyRunes)
	if n.URL == "" {
		n.URL = "/chat"
	}
	if n.Icon == "" {
		n.Icon = defaultIcon
	}
	if n.Badge == "" {
		n.Badge = defaultIcon
	}
	return n
}

// Truncate shortens s to at most limit runes, marking the cut with "...".
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Pusher delivers a notification to every device a user registered.
type Pusher interface {
	Push(ctx context.Context, userID int, n Notification) error
}

// ErrNoPushers is returned by an empty Pushers set.
var ErrNoPushers = errors.New("notify: no pushers configured")

// Pushers fans a notification out to several pushers and joins their errors.
type Pushers []Pusher

func (ps Pushers) Push(ctx context.Context, userID int, n Notification) error {
	if len(ps) == 0 {
		return ErrNoPushers
	}
	var errs []error
	for _, p := range ps {
		if err := p.Push(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
