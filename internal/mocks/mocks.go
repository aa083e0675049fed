package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-router/internal/models"
	"chat-router/internal/notify"
	"chat-router/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) SaveMessage(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SetPinned(ctx context.Context, messageID string, pinned bool) error {
	args := m.Called(ctx, messageID, pinned)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListPinned(ctx context.Context) ([]models.Message, error) {
	args := m.Called(ctx)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type SubscriptionRepositoryMock struct {
	mock.Mock
}

func (m *SubscriptionRepositoryMock) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *SubscriptionRepositoryMock) ListSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error) {
	args := m.Called(ctx, userID)
	var subs []models.PushSubscription
	if val := args.Get(0); val != nil {
		subs = val.([]models.PushSubscription)
	}
	return subs, args.Error(1)
}

func (m *SubscriptionRepositoryMock) DeleteSubscription(ctx context.Context, userID int, endpoint string) error {
	args := m.Called(ctx, userID, endpoint)
	return args.Error(0)
}

type PusherMock struct {
	mock.Mock
}

func (m *PusherMock) Push(ctx context.Context, userID int, n notify.Notification) error {
	args := m.Called(ctx, userID, n)
	return args.Error(0)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.SubscriptionRepository = (*SubscriptionRepositoryMock)(nil)
var _ notify.Pusher = (*PusherMock)(nil)
var _ notify.SubscriptionStore = (*SubscriptionRepositoryMock)(nil)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
