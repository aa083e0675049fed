package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chat-router/internal/auth"
	"chat-router/internal/observability"
	"chat-router/internal/registry"
	"chat-router/internal/repositories"
	"chat-router/internal/rooms"
	"chat-router/internal/router"
	"chat-router/internal/telemetry"
)

// Registry is the connection registry as seen by the transport.
type Registry interface {
	Register(connID string, userID int) error
	Deregister(connID string)
	Touch(connID string)
	Idle(maxIdle time.Duration) []string
}

// Rooms is the membership view used by join/leave events.
type Rooms interface {
	Join(connID string, room rooms.RoomID) error
	Leave(connID string, room rooms.RoomID)
}

// Router routes outbound envelopes.
type Router interface {
	Route(ctx context.Context, env router.Envelope) (router.Result, error)
}

// OnlineLister answers get_online_users.
type OnlineLister interface {
	ListOnlineUsers() []int
}

// TokenValidator authenticates the handshake.
type TokenValidator interface {
	ValidateToken(token string) (auth.Identity, error)
}

// Deps are the collaborators of a Handler. Messages and Audit may be nil.
type Deps struct {
	Registry  Registry
	Rooms     Rooms
	Router    Router
	Online    OnlineLister
	Validator TokenValidator
	Messages  repositories.MessageRepository
	Audit     *telemetry.AuditEmitter
}

// Options tunes the keepalive and per-connection queue.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	SendBuffer   int
}

// Handler upgrades authenticated requests and runs one session per socket.
type Handler struct {
	hub    *Hub
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, deps Deps, opts Options, logger *zap.Logger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = 3 * opts.PingInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Handler{hub: hub, deps: deps, opts: opts, logger: logger.Named("ws")}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle serves GET /ws.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-router/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	identity, err := h.deps.Validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.Int("user.id", identity.UserID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      registry.NewConnectionID(),
		UserID:      identity.UserID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		IsAdmin:     identity.IsAdmin,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := newClient(info, conn, h.opts.SendBuffer)

	// Added before Register so the router can already deliver to it once the
	// connection joins a room.
	h.hub.add(cl)
	if err := h.deps.Registry.Register(info.ConnID, info.UserID); err != nil {
		h.hub.remove(info.ConnID)
		cl.close()
		h.logger.Error("register connection failed", zap.String("conn_id", info.ConnID), zap.Error(err))
		return
	}
	if err := h.deps.Rooms.Join(info.ConnID, rooms.Public); err != nil {
		h.logger.Warn("join public room failed", zap.String("conn_id", info.ConnID), zap.Error(err))
	}
	h.hub.Send(info.ConnID, Frame{Event: "online_users", Data: map[string]any{"users": h.deps.Online.ListOnlineUsers()}})

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishConnEvent(context.WithoutCancel(ctx), info, "ws_connect", "")
	h.logger.Info("client connected", zap.Int("user_id", info.UserID), zap.String("conn_id", info.ConnID), zap.String("ip", info.IP))

	sessCtx := context.WithoutCancel(ctx)
	go cl.writePump(h.opts.PingInterval)
	go func() {
		err := cl.readPump(h.opts.PongWait,
			func() { h.deps.Registry.Touch(info.ConnID) },
			func(data []byte) { h.handleFrame(sessCtx, cl, data) },
		)
		reason := ""
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
		}
		h.disconnect(sessCtx, cl, reason)
	}()
}

func (h *Handler) disconnect(ctx context.Context, cl *client, reason string) {
	h.hub.remove(cl.info.ConnID)
	cl.close()
	h.deps.Registry.Deregister(cl.info.ConnID)

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	h.publishConnEvent(ctx, cl.info, "ws_disconnect", reason)
	h.logger.Info("client disconnected",
		zap.Int("user_id", cl.info.UserID),
		zap.String("conn_id", cl.info.ConnID),
		zap.Duration("duration", time.Since(cl.info.ConnectedAt)),
		zap.String("reason", reason),
	)
}

func (h *Handler) publishConnEvent(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, observability.RoutingKeyConn, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Headers:   observability.BuildHeaders(info.RequestID, info.TraceID),
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}

// ReapIdle closes connections that have shown no activity for longer than
// the pong wait, until ctx is done.
func (h *Handler) ReapIdle(ctx context.Context) {
	ticker := time.NewTicker(h.opts.PongWait)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap()
		}
	}
}

func (h *Handler) reap() {
	for _, id := range h.deps.Registry.Idle(h.opts.PongWait) {
		h.logger.Info("reaping idle connection", zap.String("conn_id", id))
		h.hub.Close(id)
		h.deps.Registry.Deregister(id)
	}
}
