package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-router/internal/models"
)

type memoryStore struct {
	mu      sync.Mutex
	subs    []models.PushSubscription
	deleted []string
}

func (s *memoryStore) ListSubscriptions(_ context.Context, userID int) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PushSubscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *memoryStore) DeleteSubscription(_ context.Context, _ int, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, endpoint)
	return nil
}

func browserKeys(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func TestWebPusherSendsAndForgetsExpired(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "vapid "))
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	p256dh, auth := browserKeys(t)
	store := &memoryStore{subs: []models.PushSubscription{
		{UserID: 2, Endpoint: srv.URL + "/live", P256dh: p256dh, Auth: auth},
		{UserID: 2, Endpoint: srv.URL + "/gone", P256dh: p256dh, Auth: auth},
		{UserID: 3, Endpoint: srv.URL + "/other", P256dh: p256dh, Auth: auth},
	}}

	pusher := NewWebPusher(store, VAPID{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@example.com"}, srv.Client(), zap.NewNop())
	err = pusher.Push(context.Background(), 2, Notification{Title: "hi", Body: "there"}.Normalize())
	require.NoError(t, err)

	assert.Equal(t, 1, hits["/live"])
	assert.Equal(t, 1, hits["/gone"])
	assert.Zero(t, hits["/other"])
	assert.Equal(t, []string{srv.URL + "/gone"}, store.deleted)
}

func TestWebPusherReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	p256dh, auth := browserKeys(t)
	store := &memoryStore{subs: []models.PushSubscription{{UserID: 1, Endpoint: srv.URL + "/x", P256dh: p256dh, Auth: auth}}}

	pusher := NewWebPusher(store, VAPID{PublicKey: pub, PrivateKey: priv, Subject: "ops@example.com"}, srv.Client(), zap.NewNop())
	err = pusher.Push(context.Background(), 1, Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Empty(t, store.deleted)

	assert.NoError(t, pusher.Push(context.Background(), 99, Notification{}), "no subscriptions is not an error")
}

type recordingPublisher struct {
	routingKey string
	event      any
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.routingKey = routingKey
	p.event = event
	return nil
}

func TestQueuePusherPublishesRequest(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewQueuePusher(pub, "notifications.push")

	require.NoError(t, q.Push(context.Background(), 4, Notification{Title: "t"}))
	assert.Equal(t, "notifications.push", pub.routingKey)
	req, ok := pub.event.(PushRequest)
	require.True(t, ok)
	assert.Equal(t, 4, req.UserID)
	assert.Equal(t, "t", req.Notification.Title)
	assert.NotEmpty(t, req.QueuedAt)
}
