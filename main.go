package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-router/internal/auth"
	"chat-router/internal/config"
	"chat-router/internal/db"
	"chat-router/internal/handlers"
	"chat-router/internal/middleware"
	"chat-router/internal/notify"
	"chat-router/internal/observability"
	"chat-router/internal/presence"
	"chat-router/internal/rabbitmq"
	"chat-router/internal/registry"
	"chat-router/internal/repositories"
	"chat-router/internal/rooms"
	"chat-router/internal/router"
	"chat-router/internal/telemetry"
	"chat-router/internal/ws"
)

const (
	routingKeyPush  = "notifications.push"
	routingKeyAudit = "audit.chat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracer = func(context.Context) error { return nil }
	}

	var (
		messages repositories.MessageRepository
		subs     repositories.SubscriptionRepository
	)
	if cfg.DatabaseDSN != "" {
		database, err := db.Connect(cfg.DatabaseDSN, logger)
		if err != nil {
			logger.Fatal("failed to connect to db", zap.Error(err))
		}
		defer database.Close()
		messages = repositories.NewMessageRepo(database)
		subs = repositories.NewSubscriptionRepo(database)
	} else {
		logger.Warn("DB_DSN not set, persistence disabled")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, routingKeyAudit, cfg.ServiceName, cfg.Env, logger)

	var debouncer notify.Debouncer = notify.NewMemoryDebouncer(cfg.NotifyDebounce)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, debounce stays in memory", zap.Error(err))
		} else {
			debouncer = notify.NewRedisDebouncer(rdb, cfg.NotifyDebounce)
		}
	}

	reg := registry.New()
	tracker := presence.NewTracker(reg)
	membership := rooms.NewMembership(reg)
	reg.SetObserver(tracker)
	reg.AddCleaner(membership)

	hub := ws.NewHub(logger)

	pushers := notify.Pushers{ws.NewInAppPusher(hub, reg)}
	if cfg.WebPushEnabled() && subs != nil {
		pushers = append(pushers, notify.NewWebPusher(subs, notify.VAPID{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, nil, logger))
	}
	if rabbitmq.PublisherMode(publisher) == "amqp" {
		pushers = append(pushers, notify.NewQueuePusher(publisher, routingKeyPush))
	}
	if len(pushers) == 1 {
		logger.Warn("no push backend configured, notifications only reach open tabs")
	}

	dispatcher := notify.NewDispatcher(pushers, debouncer, notify.Options{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		Timeout:   cfg.NotifyTimeout,
	}, logger)
	dispatcher.Start(ctx)

	rt := router.New(membership, reg, tracker, hub, dispatcher, logger)

	tracker.Subscribe(func(ev presence.Event) {
		online := tracker.ListOnlineUsers()
		observability.SetOnlineUsers(len(online))
		observability.IncPresenceTransition(string(ev.Status))
		if _, err := rt.Route(ctx, ws.PresenceEnvelope(ev, online)); err != nil {
			logger.Error("route presence change failed", zap.Int("user_id", ev.UserID), zap.Error(err))
		}
		_ = observability.PublishEvent(ctx, observability.RoutingKeyPresence, observability.EventEnvelope{
			EventType: "presence",
			EventName: "user_" + string(ev.Status),
			Payload:   ev,
		})
		if ev.Status == presence.StatusOnline {
			dispatcher.Reset(ctx, ev.UserID)
		}
	})

	validator := auth.NewValidator(cfg.JWTSecret)
	wsHandler := ws.NewHandler(hub, ws.Deps{
		Registry:  reg,
		Rooms:     membership,
		Router:    rt,
		Online:    tracker,
		Validator: validator,
		Messages:  messages,
		Audit:     audit,
	}, ws.Options{
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
		SendBuffer:   cfg.WSSendBuffer,
	}, logger)
	go wsHandler.ReapIdle(ctx)

	presenceHandler := handlers.NewPresenceHandler(tracker)
	pinnedHandler := handlers.NewPinnedHandler(messages, logger)
	pushHandler := handlers.NewPushHandler(subs, pushers, cfg.VAPIDPublicKey, audit, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName), observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	engine.GET("/healthz", handlers.Health(reg))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", wsHandler.Handle)

	engine.GET("/presence/online", authMiddleware, presenceHandler.ListOnline)
	engine.GET("/presence/users/:user_id", authMiddleware, presenceHandler.GetUser)
	engine.GET("/pinned", authMiddleware, pinnedHandler.ListPinned)
	engine.GET("/push/vapid-public-key", pushHandler.VAPIDPublicKey)
	engine.POST("/push/subscribe", authMiddleware, pushHandler.Subscribe)
	engine.DELETE("/push/subscribe", authMiddleware, pushHandler.Unsubscribe)
	engine.POST("/admin/notify/:user_id", authMiddleware, middleware.AdminOnly(), pushHandler.TestPush)

	handlers.RegisterDebugRoutes(engine, audit, !cfg.IsProduction())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	hub.CloseAll()
	dispatcher.Stop()
	stop()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped")
}
