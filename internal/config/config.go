package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings of the router service.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	ServiceName string
	JWTSecret   string

	DatabaseDSN  string
	RedisURL     string
	AMQPURL      string
	AMQPExchange string
	OTLPEndpoint string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	NotifyDebounce  time.Duration
	NotifyWorkers   int
	NotifyQueueSize int
	NotifyTimeout   time.Duration

	WSPingInterval time.Duration
	WSPongWait     time.Duration
	WSSendBuffer   int
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8083"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("SERVICE_NAME", "chat-router"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		DatabaseDSN:  getEnv("DB_DSN", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "chat.events"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@example.com"),

		NotifyDebounce:  getDuration("NOTIFY_DEBOUNCE", 5*time.Second),
		NotifyWorkers:   getInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize: getInt("NOTIFY_QUEUE_SIZE", 256),
		NotifyTimeout:   getDuration("NOTIFY_TIMEOUT", 10*time.Second),

		WSPingInterval: getDuration("WS_PING_INTERVAL", 5*time.Second),
		WSPongWait:     getDuration("WS_PONG_WAIT", 15*time.Second),
		WSSendBuffer:   getInt("WS_SEND_BUFFER", 64),
	}

	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.WSPongWait <= cfg.WSPingInterval {
		return nil, errors.New("WS_PONG_WAIT must be longer than WS_PING_INTERVAL")
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WebPushEnabled reports whether VAPID keys are configured.
func (c *Config) WebPushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
