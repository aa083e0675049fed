package router

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-router/internal/notify"
	"chat-router/internal/observability"
	"chat-router/internal/rooms"
)

const lockStripes = 64

// Members resolves rooms to their live connections.
type Members interface {
	MembersOf(room rooms.RoomID) []string
	RoomsInvolving(userID int) []rooms.RoomID
}

// Owners maps a connection to its user.
type Owners interface {
	OwnerOf(connID string) (int, error)
}

// Presence answers whether a user has any live connection.
type Presence interface {
	IsOnline(userID int) bool
}

// Deliverer writes a delivery to each listed connection and returns how many
// accepted it. Connections that no longer exist are skipped.
type Deliverer interface {
	Deliver(connIDs []string, d Delivery) int
}

// Notifier receives notifications for recipients with no live connection.
type Notifier interface {
	Notify(userID int, n notify.Notification)
}

// Router resolves envelopes to live connections. It only reads membership
// and registry state.
type Router struct {
	members   Members
	owners    Owners
	presence  Presence
	deliverer Deliverer
	notifier  Notifier
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	stripes [lockStripes]sync.Mutex
}

// New builds a Router.
func New(members Members, owners Owners, presence Presence, deliverer Deliverer, notifier Notifier, logger *zap.Logger) *Router {
	return &Router{
		members:   members,
		owners:    owners,
		presence:  presence,
		deliverer: deliverer,
		notifier:  notifier,
		logger:    logger.Named("router"),
		tracer:    otel.Tracer("chat-router/router"),
		now:       time.Now,
	}
}

// Route fans env out to the live members of its target room. Only malformed
// envelopes produce an error.
func (r *Router) Route(ctx context.Context, env Envelope) (Result, error) {
	_, span := r.tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.String("envelope.kind", string(env.Kind)),
		attribute.Int("envelope.origin", env.Origin),
	))
	defer span.End()

	rl, ok := table[env.Kind]
	if !ok {
		err := invalid("unknown kind %q", env.Kind)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	room, err := rl.resolve(env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if env.At.IsZero() {
		env.At = r.now()
	}
	span.SetAttributes(attribute.String("room", string(room)))

	// Fan-out for one room is serialized so its members see router order.
	lock := r.lockFor(room)
	lock.Lock()
	members := r.members.MembersOf(room)
	targets := members
	if rl.peerRooms {
		targets = r.withPeerRooms(members, env.TargetUser)
	}
	if rl.excludeOrigin && env.OriginConn != "" {
		targets = without(targets, env.OriginConn)
	}
	delivered := 0
	if len(targets) > 0 {
		delivered = r.deliverer.Deliver(targets, Delivery{
			Kind:    env.Kind,
			Room:    room,
			Origin:  env.Origin,
			Payload: env.Payload,
			At:      env.At,
		})
	}
	lock.Unlock()

	res := Result{Room: room, Delivered: delivered}
	if rl.notifyAbsent && !r.hasConnectionIn(env.TargetUser, members) {
		r.notifier.Notify(env.TargetUser, r.notice(env, room))
		res.Notified = true
	}

	observability.IncRouted(string(env.Kind))
	observability.AddDelivered(string(env.Kind), delivered)
	span.SetAttributes(attribute.Int("delivered", delivered), attribute.Bool("notified", res.Notified))
	r.logger.Debug("routed",
		zap.String("kind", string(env.Kind)),
		zap.String("room", string(room)),
		zap.Int("origin", env.Origin),
		zap.Int("delivered", delivered),
		zap.Bool("notified", res.Notified),
	)
	return res, nil
}

func (r *Router) lockFor(room rooms.RoomID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(room))
	return &r.stripes[h.Sum32()%lockStripes]
}

func (r *Router) withPeerRooms(members []string, userID int) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	add := func(ids []string) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(members)
	for _, room := range r.members.RoomsInvolving(userID) {
		add(r.members.MembersOf(room))
	}
	return out
}

func (r *Router) hasConnectionIn(userID int, members []string) bool {
	if !r.presence.IsOnline(userID) {
		return false
	}
	for _, connID := range members {
		owner, err := r.owners.OwnerOf(connID)
		if err == nil && owner == userID {
			return true
		}
	}
	return false
}

func (r *Router) notice(env Envelope, room rooms.RoomID) notify.Notification {
	n := env.Notice
	if n.Title == "" {
		n.Title = "New private message"
	}
	if n.URL == "" {
		n.URL = fmt.Sprintf("/chat/%d", env.Origin)
	}
	n.Room = room
	return n
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
