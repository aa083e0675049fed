package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"chat-router/internal/mocks"
)

func TestAuditEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-router", "test", zap.NewNop())

	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.EventType == "audit_log" &&
			env.Service == "chat-router" &&
			env.RequestID == "req-1" &&
			env.UserID != nil && *env.UserID == "7" &&
			env.Payload.Action == "pin_message"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "req-1", 7, AuditPayload{Action: "pin_message", Target: "m1"})
	pub.AssertExpectations(t)
}

func TestAuditEmitAnonymousAndFailures(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-router", "test", zap.NewNop())

	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.UserID == nil
	})).Return(assert.AnError).Once()

	emitter.Emit(context.Background(), "req-2", 0, AuditPayload{Action: "audit_test"})
	pub.AssertExpectations(t)
}

func TestNilAuditEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "r", 1, AuditPayload{Action: "x"})
	})
}
