package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-router/internal/models"
)

// SubscriptionRepository stores browser push subscriptions.
type SubscriptionRepository interface {
	SaveSubscription(ctx context.Context, sub models.PushSubscription) error
	ListSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, userID int, endpoint string) error
}

// SubscriptionRepo is a sqlx implementation of SubscriptionRepository.
type SubscriptionRepo struct {
	db *sqlx.DB
}

// NewSubscriptionRepo constructs a SubscriptionRepo.
func NewSubscriptionRepo(db *sqlx.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// SaveSubscription inserts a subscription or refreshes its keys.
func (r *SubscriptionRepo) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth) VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth)
	return err
}

// ListSubscriptions returns every subscription of a user.
func (r *SubscriptionRepo) ListSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := r.db.SelectContext(ctx, &subs, `SELECT id, user_id, endpoint, p256dh, auth, created_at
        FROM push_subscriptions WHERE user_id=$1 ORDER BY id`, userID)
	return subs, err
}

// DeleteSubscription removes one endpoint of a user.
func (r *SubscriptionRepo) DeleteSubscription(ctx context.Context, userID int, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id=$1 AND endpoint=$2`, userID, endpoint)
	return err
}
