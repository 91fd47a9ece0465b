package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/threadkit/threadkit/internal/auth"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/config"
	"github.com/threadkit/threadkit/internal/email"
	"github.com/threadkit/threadkit/internal/events"
	"github.com/threadkit/threadkit/internal/handlers"
	"github.com/threadkit/threadkit/internal/indexes"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/pagetree"
	"github.com/threadkit/threadkit/internal/sites"
	"github.com/threadkit/threadkit/internal/storage"
	"github.com/threadkit/threadkit/internal/telemetry"
	"github.com/threadkit/threadkit/internal/turnstile"
	"github.com/threadkit/threadkit/internal/users"
	"github.com/threadkit/threadkit/internal/util"
	"github.com/threadkit/threadkit/internal/votes"
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

	shutdownTracing, err := telemetry.Setup(ctx, "threadkit-api", cfg.OTLPEndpoint)
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
	siteStore := sites.NewStore(rdb)
	pages := pagetree.NewEngine(rdb)
	voteEngine := votes.NewEngine(rdb, pages)
	keeper := indexes.NewKeeper(rdb)
	eraser := indexes.NewEraser(rdb, keeper, pages)
	publisher := events.NewPublisher(rdb)

	authSvc := auth.NewService(rdb, userStore, cfg.JWTSecret, cfg.TokenTTL)
	oauth := auth.NewOAuthProviders(cfg.OAuthBaseURL,
		auth.OAuthCredentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
		auth.OAuthCredentials{ClientID: cfg.GitHubClientID, ClientSecret: cfg.GitHubClientSecret},
		auth.OAuthCredentials{ClientID: cfg.DiscordClientID, ClientSecret: cfg.DiscordClientSecret},
	)

	h := &handlers.Handlers{
		Cfg:    &cfg,
		RDB:    rdb,
		Pages:  pages,
		Votes:  voteEngine,
		Keeper: keeper,
		Eraser: eraser,
		Users:  userStore,
		Sites:  siteStore,
		Auth:   authSvc,
		OAuth:  oauth,
		Events: publisher,
	}

	// Optional integrations stay nil when unconfigured; their routes
	// answer 503 instead of failing startup.
	if cfg.TurnstileSecret != "" {
		h.Turnstile = turnstile.NewClient(cfg.TurnstileSecret)
	}
	if mailer, err := email.NewMailer(ctx, cfg.SESRegion, cfg.SESFromAddress); err != nil {
		logger.Log.Warn("email disabled", zap.Error(err))
	} else {
		h.Mailer = mailer
	}
	if cfg.S3Bucket != "" {
		avatars, err := storage.NewAvatarStore(ctx, cfg.S3Region, cfg.S3Bucket, cfg.CDNBaseURL)
		if err != nil {
			logger.Log.Warn("avatar storage disabled", zap.Error(err))
		} else {
			h.Avatars = avatars
		}
	}

	router := h.Router()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Log.Fatal("invalid trusted proxies", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.BindHost + ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("api listening", zap.String("addr", srv.Addr))
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
	logger.Log.Info("server exited")
}
