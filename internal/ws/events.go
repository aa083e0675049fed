package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-router/internal/models"
	"chat-router/internal/notify"
	"chat-router/internal/observability"
	"chat-router/internal/presence"
	"chat-router/internal/repositories"
	"chat-router/internal/rooms"
	"chat-router/internal/router"
	"chat-router/internal/telemetry"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessageData struct {
	Text string `json:"text"`
}

type privateMessageData struct {
	RecipientID int    `json:"recipient_id"`
	Message     string `json:"message"`
}

type peerData struct {
	PeerID int `json:"peer_id"`
}

type typingData struct {
	ChatType    string `json:"chat_type"`
	RecipientID int    `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

type pinData struct {
	MessageID string `json:"message_id"`
}

// ChatMessage is the payload of receive_message and receive_private_message.
type ChatMessage struct {
	ID          string          `json:"id"`
	Sender      models.UserInfo `json:"sender"`
	RecipientID int             `json:"recipient_id,omitempty"`
	Text        string          `json:"text"`
	IsPrivate   bool            `json:"is_private"`
	Timestamp   time.Time       `json:"timestamp"`
}

// TypingIndicator is the payload of user_typing.
type TypingIndicator struct {
	User     models.UserInfo `json:"user"`
	ChatType string          `json:"chat_type"`
	IsTyping bool            `json:"is_typing"`
}

// PresenceUpdate is the payload of presence frames.
type PresenceUpdate struct {
	UserID      int       `json:"user_id"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
	OnlineUsers []int     `json:"online_users"`
}

var errBadPayload = errors.New("malformed event data")

func (h *Handler) handleFrame(ctx context.Context, cl *client, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		h.replyError(cl, "", "invalid frame")
		return
	}
	label := in.Event
	var err error
	switch in.Event {
	case "send_message":
		err = h.onSendMessage(ctx, cl, in.Data)
	case "private_message":
		err = h.onPrivateMessage(ctx, cl, in.Data)
	case "join_private_room":
		err = h.onPrivateRoom(cl, in.Data, true)
	case "leave_private_room":
		err = h.onPrivateRoom(cl, in.Data, false)
	case "typing":
		err = h.onTyping(ctx, cl, in.Data)
	case "pin_message":
		err = h.onPin(ctx, cl, in.Data, true)
	case "unpin_message":
		err = h.onPin(ctx, cl, in.Data, false)
	case "get_online_users":
		h.hub.Send(cl.info.ConnID, Frame{Event: "online_users", Data: map[string]any{"users": h.deps.Online.ListOnlineUsers()}})
	case "heartbeat":
		h.hub.Send(cl.info.ConnID, Frame{Event: "heartbeat_response", Data: map[string]any{"timestamp": time.Now().UTC()}})
	default:
		label = "unknown"
		err = fmt.Errorf("unknown event %q", in.Event)
	}
	observability.IncWSEvent(label)
	if err != nil {
		h.logger.Debug("event rejected", zap.String("event", in.Event), zap.String("conn_id", cl.info.ConnID), zap.Error(err))
		h.replyError(cl, in.Event, err.Error())
	}
}

func (h *Handler) replyError(cl *client, event, message string) {
	h.hub.Send(cl.info.ConnID, Frame{Event: "error", Data: map[string]any{"event": event, "message": message}})
}

func (h *Handler) replySuccess(cl *client, event, message string) {
	h.hub.Send(cl.info.ConnID, Frame{Event: "success", Data: map[string]any{"event": event, "message": message}})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadPayload
	}
	return nil
}

func (h *Handler) onSendMessage(ctx context.Context, cl *client, data json.RawMessage) error {
	var in sendMessageData
	if err := decode(data, &in); err != nil {
		return err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	msg := models.Message{ID: uuid.NewString(), SenderID: cl.info.UserID, Text: text, CreatedAt: time.Now().UTC()}
	if _, err := h.deps.Router.Route(ctx, router.Envelope{
		Kind:       router.KindBroadcast,
		Origin:     cl.info.UserID,
		OriginConn: cl.info.ConnID,
		Payload: ChatMessage{
			ID:        msg.ID,
			Sender:    cl.info.User(),
			Text:      text,
			Timestamp: msg.CreatedAt,
		},
		At: msg.CreatedAt,
	}); err != nil {
		return err
	}
	h.persist(ctx, msg)
	return nil
}

func (h *Handler) onPrivateMessage(ctx context.Context, cl *client, data json.RawMessage) error {
	var in privateMessageData
	if err := decode(data, &in); err != nil {
		return err
	}
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return nil
	}

	from := cl.info.User()
	recipient := in.RecipientID
	msg := models.Message{
		ID:          uuid.NewString(),
		SenderID:    cl.info.UserID,
		RecipientID: &recipient,
		Text:        text,
		IsPrivate:   true,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := h.deps.Router.Route(ctx, router.Envelope{
		Kind:       router.KindWhisper,
		TargetUser: recipient,
		Origin:     cl.info.UserID,
		OriginConn: cl.info.ConnID,
		Payload: ChatMessage{
			ID:          msg.ID,
			Sender:      from,
			RecipientID: recipient,
			Text:        text,
			IsPrivate:   true,
			Timestamp:   msg.CreatedAt,
		},
		Notice: notify.Notification{
			Title: "New message from " + from.Name(),
			Body:  text,
			URL:   fmt.Sprintf("/chat/%d", cl.info.UserID),
		},
		At: msg.CreatedAt,
	}); err != nil {
		return err
	}
	h.persist(ctx, msg)
	return nil
}

func (h *Handler) persist(ctx context.Context, msg models.Message) {
	if h.deps.Messages == nil {
		return
	}
	if err := h.deps.Messages.SaveMessage(ctx, msg); err != nil {
		h.logger.Error("save message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (h *Handler) onPrivateRoom(cl *client, data json.RawMessage, join bool) error {
	var in peerData
	if err := decode(data, &in); err != nil {
		return err
	}
	if in.PeerID == 0 || in.PeerID == cl.info.UserID {
		return fmt.Errorf("invalid peer %d", in.PeerID)
	}
	room := rooms.PrivateRoomID(cl.info.UserID, in.PeerID)
	if !join {
		h.deps.Rooms.Leave(cl.info.ConnID, room)
		return nil
	}
	return h.deps.Rooms.Join(cl.info.ConnID, room)
}

func (h *Handler) onTyping(ctx context.Context, cl *client, data json.RawMessage) error {
	var in typingData
	if err := decode(data, &in); err != nil {
		return err
	}
	kind := router.KindTypingStop
	if in.IsTyping {
		kind = router.KindTypingStart
	}
	env := router.Envelope{
		Kind:       kind,
		Origin:     cl.info.UserID,
		OriginConn: cl.info.ConnID,
		Payload:    TypingIndicator{User: cl.info.User(), ChatType: in.ChatType, IsTyping: in.IsTyping},
	}
	if in.ChatType == "private" {
		env.TargetUser = in.RecipientID
	} else {
		env.Room = rooms.Public
	}
	_, err := h.deps.Router.Route(ctx, env)
	return err
}

func (h *Handler) onPin(ctx context.Context, cl *client, data json.RawMessage, pinned bool) error {
	event := "unpin_message"
	kind := router.KindUnpin
	if pinned {
		event, kind = "pin_message", router.KindPin
	}
	if !cl.info.IsAdmin {
		return errors.New("admin access required")
	}
	var in pinData
	if err := decode(data, &in); err != nil {
		return err
	}
	if in.MessageID == "" {
		return errors.New("message_id is required")
	}
	if h.deps.Messages == nil {
		return errors.New("pinning is unavailable")
	}
	if err := h.deps.Messages.SetPinned(ctx, in.MessageID, pinned); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return errors.New("message not found or is private")
		}
		h.logger.Error("set pinned failed", zap.String("message_id", in.MessageID), zap.Error(err))
		return errors.New("failed to update message")
	}

	if _, err := h.deps.Router.Route(ctx, router.Envelope{
		Kind:    kind,
		Origin:  cl.info.UserID,
		Payload: models.PinEvent{MessageID: in.MessageID},
	}); err != nil {
		return err
	}
	h.deps.Audit.Emit(ctx, cl.info.RequestID, cl.info.UserID, telemetry.AuditPayload{Action: event, Target: in.MessageID})
	h.replySuccess(cl, event, "ok")
	return nil
}

// PresenceEnvelope builds the presence-change envelope for ev.
func PresenceEnvelope(ev presence.Event, online []int) router.Envelope {
	return router.Envelope{
		Kind:       router.KindPresenceChange,
		TargetUser: ev.UserID,
		Origin:     ev.UserID,
		Payload: PresenceUpdate{
			UserID:      ev.UserID,
			Status:      string(ev.Status),
			At:          ev.At,
			OnlineUsers: online,
		},
		At: ev.At,
	}
}
