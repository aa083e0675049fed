package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"chat-router/internal/models"
)

// SubscriptionStore is the persistence view the web pusher needs.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, userID int, endpoint string) error
}

// VAPID holds the application server identity used to sign pushes.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// WebPusher sends browser push messages to every stored subscription of a
// user and forgets subscriptions the push service reports as gone.
type WebPusher struct {
	store  SubscriptionStore
	vapid  VAPID
	client webpush.HTTPClient
	ttl    int
	logger *zap.Logger
}

// NewWebPusher builds a WebPusher. A nil client uses http.DefaultClient.
func NewWebPusher(store SubscriptionStore, vapid VAPID, client webpush.HTTPClient, logger *zap.Logger) *WebPusher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPusher{store: store, vapid: vapid, client: client, ttl: 60, logger: logger.Named("webpush")}
}

func (p *WebPusher) Push(ctx context.Context, userID int, n Notification) error {
	subs, err := p.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		p.logger.Debug("no push subscriptions", zap.Int("user_id", userID))
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := p.send(ctx, userID, sub, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *WebPusher) send(ctx context.Context, userID int, sub models.PushSubscription, body []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.vapid.Subject,
		VAPIDPublicKey:  p.vapid.PublicKey,
		VAPIDPrivateKey: p.vapid.PrivateKey,
		TTL:             p.ttl,
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		p.logger.Info("removing expired push subscription", zap.Int("user_id", userID), zap.String("endpoint", sub.Endpoint))
		if err := p.store.DeleteSubscription(ctx, userID, sub.Endpoint); err != nil {
			return fmt.Errorf("delete expired subscription: %w", err)
		}
		return nil
	case resp.StatusCode >= 400:
		return fmt.Errorf("push to %s: unexpected status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}

// EventPublisher publishes a JSON event under a routing key.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// PushRequest is the message QueuePusher puts on the bus.
type PushRequest struct {
	UserID       int          `json:"user_id"`
	Notification Notification `json:"notification"`
	QueuedAt     string       `json:"queued_at"`
}

// QueuePusher hands notifications to an external delivery worker over AMQP.
type QueuePusher struct {
	publisher  EventPublisher
	routingKey string
}

// NewQueuePusher builds a QueuePusher publishing under routingKey.
func NewQueuePusher(publisher EventPublisher, routingKey string) *QueuePusher {
	return &QueuePusher{publisher: publisher, routingKey: routingKey}
}

func (q *QueuePusher) Push(ctx context.Context, userID int, n Notification) error {
	return q.publisher.Publish(ctx, q.routingKey, PushRequest{
		UserID:       userID,
		Notification: n,
		QueuedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	})
}
