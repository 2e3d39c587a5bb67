package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wschat/internal/config"
	"wschat/internal/database/db_client"
	"wschat/internal/heartbeat"
	"wschat/internal/http/http_server"
	"wschat/internal/redis/redis_client"
	"wschat/internal/redis/redis_functions"
	"wschat/internal/redis/watcher/nodewatcher"
	"wschat/internal/registry"
	"wschat/internal/services/chat"
	"wschat/internal/ws"
)

// newLogger builds the process logger for LOG_MODE: JSON at info level for
// "production", the human-readable debug config otherwise.
func newLogger(mode string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if mode == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func main() {
	// 1. Load configuration (.env included) before the logger, which
	// depends on LOG_MODE.
	cfg, err := config.LoadConfig()
	if err != nil {
		newLogger("").Fatal("Failed to load configuration", zap.Error(err))
	}

	Log := newLogger(cfg.LogMode)
	defer Log.Sync()
	zap.ReplaceGlobals(Log)
	Log.Info("Configuration loaded",
		zap.String("node", cfg.NodeID),
		zap.String("registry_backend", cfg.RegistryBackend),
	)

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis: registry store, push relay and node liveness.
	// The memory backend is single-node and runs without it.
	var redisClient *redis.Client
	if cfg.RegistryBackend != config.BackendMemory {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort), cfg.RedisPassword, cfg.RedisDb)
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
	}

	// 4. Connection registry
	var reg registry.Registry
	switch cfg.RegistryBackend {
	case config.BackendRedis:
		if err := redis_functions.LoadAll(ctx, redisClient); err != nil {
			Log.Fatal("load-redis-funcs", zap.Error(err))
		}
		reg = registry.NewRedisRegistry(redisClient)
	case config.BackendPostgres:
		var pgDb *sql.DB
		pgDb, err = db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			Log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		if err := db_client.EnsureSchema(ctx, pgDb); err != nil {
			Log.Fatal("pg-schema", zap.Error(err))
		}
		reg = registry.NewPostgresRegistry(pgDb)
	default:
		reg = registry.NewMemoryRegistry()
	}

	// 5. WebSockets hub + cross-node relay
	hub := ws.NewHub()
	transport := ws.NewTransport(cfg.NodeID, hub, redisClient)
	go transport.Run(ctx)

	// 6. Background: heartbeat + expired-node reaper
	if redisClient != nil {
		heartbeat.Run(ctx, redisClient, cfg.NodeID, cfg.NodeHeartbeat, cfg.NodeTTL)
		go nodewatcher.Run(ctx, redisClient, reg)
	}

	// 7. Chat service
	chatService := chat.NewChatService(reg, transport, chat.Options{
		Node:              cfg.NodeID,
		Push:              chat.RetryPolicy{MaxAttempts: cfg.PushMaxAttempts, InitialBackoff: cfg.PushInitialBackoff},
		Store:             chat.RetryPolicy{MaxAttempts: cfg.StoreMaxAttempts, InitialBackoff: cfg.StoreInitialBackoff},
		FanoutConcurrency: cfg.FanoutConcurrency,
	})

	// 8. Initialize the WS server
	wsSrv := ws.NewWsServer(hub, chatService, ws.Options{
		ReadLimit:      cfg.WsReadLimit,
		MessageTimeout: cfg.MessageTimeout,
	})

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, chatService, reg, transport)
	go func() {
		if err := httpServer.Start(); err != nil {
			Log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	Log.Info("shutting down", zap.Int("open_connections", hub.Len()))

	_ = httpServer.Dispose()
	hub.CloseAll()

	// Clean exit: drop our heartbeat and whatever records the readers
	// did not get to remove themselves.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if redisClient != nil {
		if err := heartbeat.Stop(cleanupCtx, redisClient, cfg.NodeID); err != nil {
			Log.Warn("heartbeat.stop", zap.Error(err))
		}
	}
	if n, err := reg.RemoveNode(cleanupCtx, cfg.NodeID); err != nil {
		Log.Warn("registry.remove_node", zap.Error(err))
	} else {
		Log.Info("registry.node_cleared", zap.Int("connections", n))
	}
}
