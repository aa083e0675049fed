package observability

import (
	"context"
	"sync"
)

// Publisher is the event bus used for lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	defaultPublisher = publisher
}

// PublishEvent sends an event through the configured publisher. Without a
// publisher it is a no-op.
func PublishEvent(ctx context.Context, routingKey string, message any) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	err := publisher.Publish(ctx, routingKey, message)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
