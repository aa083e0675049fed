package router

import (
	"errors"
	"fmt"
	"time"

	"chat-router/internal/notify"
	"chat-router/internal/rooms"
)

// ErrInvalidEnvelope reports an envelope the router cannot act on.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Kind tags an outbound event and selects its routing rule.
type Kind string

const (
	KindBroadcast      Kind = "broadcast"
	KindWhisper        Kind = "whisper"
	KindPin            Kind = "pin"
	KindUnpin          Kind = "unpin"
	KindTypingStart    Kind = "typing-start"
	KindTypingStop     Kind = "typing-stop"
	KindPresenceChange Kind = "presence-change"
)

// Envelope is one outbound event before its recipients are resolved.
//
// TargetUser is the whisper recipient, the peer of a private typing
// indicator, or the user whose presence changed. Room is only consulted for
// typing indicators without a peer.
type Envelope struct {
	Kind       Kind
	Room       rooms.RoomID
	TargetUser int
	Origin     int
	OriginConn string
	Payload    any
	Notice     notify.Notification
	At         time.Time
}

// Delivery is what each resolved connection receives.
type Delivery struct {
	Kind    Kind
	Room    rooms.RoomID
	Origin  int
	Payload any
	At      time.Time
}

// Result summarizes one routing decision.
type Result struct {
	Room      rooms.RoomID
	Delivered int
	Notified  bool
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, fmt.Sprintf(format, args...))
}

type rule struct {
	resolve       func(Envelope) (rooms.RoomID, error)
	excludeOrigin bool
	notifyAbsent  bool
	peerRooms     bool
}

var table = map[Kind]rule{
	KindBroadcast:      {resolve: publicRoom},
	KindWhisper:        {resolve: pairRoom, notifyAbsent: true},
	KindPin:            {resolve: publicRoom},
	KindUnpin:          {resolve: publicRoom},
	KindTypingStart:    {resolve: conversationRoom, excludeOrigin: true},
	KindTypingStop:     {resolve: conversationRoom, excludeOrigin: true},
	KindPresenceChange: {resolve: presenceRoom, peerRooms: true},
}

func publicRoom(env Envelope) (rooms.RoomID, error) {
	if env.Origin == 0 {
		return "", invalid("%s without origin", env.Kind)
	}
	return rooms.Public, nil
}

func pairRoom(env Envelope) (rooms.RoomID, error) {
	switch {
	case env.Origin == 0:
		return "", invalid("%s without origin", env.Kind)
	case env.TargetUser == 0:
		return "", invalid("%s without recipient", env.Kind)
	case env.TargetUser == env.Origin:
		return "", invalid("%s to self", env.Kind)
	}
	return rooms.PrivateRoomID(env.Origin, env.TargetUser), nil
}

func conversationRoom(env Envelope) (rooms.RoomID, error) {
	if env.TargetUser != 0 {
		return pairRoom(env)
	}
	if env.Origin == 0 {
		return "", invalid("%s without origin", env.Kind)
	}
	if env.Room == "" {
		return "", invalid("%s without conversation", env.Kind)
	}
	return env.Room, nil
}

func presenceRoom(env Envelope) (rooms.RoomID, error) {
	if env.TargetUser == 0 {
		return "", invalid("%s without affected user", env.Kind)
	}
	return rooms.Public, nil
}
