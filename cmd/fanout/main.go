package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/threadkit/threadkit/internal/auth"
	"github.com/threadkit/threadkit/internal/batcher"
	"github.com/threadkit/threadkit/internal/bridge"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/config"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/metrics"
	"github.com/threadkit/threadkit/internal/middleware"
	"github.com/threadkit/threadkit/internal/telemetry"
	"github.com/threadkit/threadkit/internal/users"
	"github.com/threadkit/threadkit/internal/util"
	"github.com/threadkit/threadkit/internal/websocket"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load() // .env is optional in development
	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		os.Exit(1)
	}
	defer logger.Close()

	if len(cfg.JWTSecret) == 0 {
		logger.Log.Fatal("JWT_SECRET is required")
	}

	util.RaiseFDLimit()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "threadkit-fanout", cfg.OTLPEndpoint)
	if err != nil {
		logger.Log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	rdb, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatal("redis connect failed", zap.Error(err))
	}
	defer rdb.Close()

	userStore := users.NewStore(rdb)
	authSvc := auth.NewService(rdb, userStore, cfg.JWTSecret, cfg.TokenTTL)

	batch := batcher.New(rdb, cfg.FlushInterval)
	hub := websocket.NewHub(batch)
	wsHandler := websocket.NewHandler(hub, batch, authSvc)

	// The bridge relays Redis pub/sub events into this process's hub.
	br := bridge.New(rdb, hub.HandleEvent)
	go br.Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())

	r.GET("/health", func(c *gin.Context) {
		if err := rdb.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws", wsHandler.Serve)

	srv := &http.Server{
		Addr:              cfg.BindHost + ":" + cfg.FanoutPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("fanout listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}

	// Flush queued presence departures and publishes before exit.
	batch.Close()
	logger.Log.Info("fanout exited")
}
