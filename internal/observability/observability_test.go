package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	keys []string
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.keys = append(p.keys, routingKey)
	return p.err
}

func TestPublishEvent(t *testing.T) {
	t.Cleanup(func() { SetPublisher(nil) })

	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingKeyConn, EventEnvelope{}))

	pub := &stubPublisher{}
	SetPublisher(pub)
	require.NoError(t, PublishEvent(context.Background(), RoutingKeyPresence, EventEnvelope{EventName: "user_online"}))
	assert.Equal(t, []string{RoutingKeyPresence}, pub.keys)

	pub.err = assert.AnError
	assert.ErrorIs(t, PublishEvent(context.Background(), RoutingKeyConn, EventEnvelope{}), assert.AnError)
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))

	ws := httptest.NewRequest(http.MethodGet, "/ws?device_id=tab-3", nil)
	assert.Equal(t, "tab-3", DeviceIDFromRequest(ws))

	req.Header.Set("X-Device-Id", "dev-1")
	req.Header.Set("X-Request-Id", "req-1")
	assert.Equal(t, "dev-1", DeviceIDFromRequest(req))
	assert.Equal(t, "req-1", RequestIDFromRequest(req))
}

func TestHTTPMetricsMiddlewarePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/presence/users/:user_id", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence/users/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("production", "debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger("development", "bogus")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
