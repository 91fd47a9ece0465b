// Package handlers exposes the HTTP API.
package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/auth"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/config"
	"github.com/threadkit/threadkit/internal/events"
	"github.com/threadkit/threadkit/internal/indexes"
	"github.com/threadkit/threadkit/internal/metrics"
	"github.com/threadkit/threadkit/internal/middleware"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/pagetree"
	"github.com/threadkit/threadkit/internal/sites"
	"github.com/threadkit/threadkit/internal/storage"
	"github.com/threadkit/threadkit/internal/turnstile"
	"github.com/threadkit/threadkit/internal/users"
	"github.com/threadkit/threadkit/internal/votes"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers bundles the API's collaborators. Optional integrations
// (mailer, avatar store, turnstile) may be nil; their routes degrade.
type Handlers struct {
	Cfg       *config.Config
	RDB       *cache.RedisClient
	Pages     *pagetree.Engine
	Votes     *votes.Engine
	Keeper    *indexes.Keeper
	Eraser    *indexes.Eraser
	Users     *users.Store
	Sites     *sites.Store
	Auth      *auth.Service
	OAuth     *auth.OAuthProviders
	Events    *events.Publisher
	Mailer    auth.OTPSender
	Turnstile *turnstile.Client
	Avatars   *storage.AvatarStore
}

// Router builds the full API surface.
func (h *Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("threadkit-api"))
	r.Use(middleware.RequestID())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Browser preflight handling; real origin policy is per site in the
	// API-key middleware.
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "projectid", "X-Turnstile-Token", "If-None-Match"},
		ExposeHeaders:    []string{"ETag", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:           12 * time.Hour,
	}))

	limiter := middleware.NewLimiter(h.RDB)
	r.Use(middleware.IPLimit(limiter, h.Cfg.RateLimitIP, h.Cfg.RateLimitWindow))

	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())
	r.GET("/openapi.json", h.OpenAPI)

	// Browser-facing OAuth entry points live at the root: providers
	// redirect back here, outside the versioned JSON API.
	r.GET("/auth/:provider", h.OAuthStart)
	r.GET("/auth/:provider/callback", h.OAuthCallback)

	v1 := r.Group("/v1")
	v1.Use(middleware.APIKey(h.Sites, h.Cfg.AllowLocalhost))
	v1.Use(middleware.SiteLimit(limiter, h.Cfg.RateLimitAPIKey, h.Cfg.RateLimitWindow))
	v1.Use(middleware.Authenticate(h.Auth, h.Keeper))

	authGroup := v1.Group("/auth")
	{
		authGroup.GET("/methods", h.AuthMethods)
		authGroup.POST("/send-otp", h.SendOTP)
		authGroup.POST("/verify-otp", h.VerifyOTP)
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", middleware.RequireAuth(), h.Refresh)
		authGroup.POST("/logout", middleware.RequireAuth(), h.Logout)
		authGroup.GET("/ethereum/nonce", h.Web3Nonce(auth.ChainEthereum))
		authGroup.POST("/ethereum/verify", h.Web3Verify(auth.ChainEthereum))
		authGroup.GET("/solana/nonce", h.Web3Nonce(auth.ChainSolana))
		authGroup.POST("/solana/verify", h.Web3Verify(auth.ChainSolana))
	}

	comments := v1.Group("/comments")
	{
		comments.GET("", h.ListComments)

		write := comments.Group("")
		write.Use(middleware.RejectBlocked())
		write.POST("", middleware.UserWriteLimit(limiter, "comments", h.Cfg.RateLimitUser, h.Cfg.RateLimitWindow), h.CreateComment)
		write.PUT("/:id", h.EditComment)
		write.DELETE("/:id", h.DeleteComment)
		write.POST("/:id/vote", middleware.RequireAuth(), middleware.UserWriteLimit(limiter, "votes", h.Cfg.RateLimitUser, h.Cfg.RateLimitWindow), h.VoteComment)
		write.POST("/:id/report", middleware.RequireAuth(), h.ReportComment)
	}

	usersGroup := v1.Group("/users")
	{
		usersGroup.GET("/me", middleware.RequireAuth(), h.Me)
		usersGroup.PUT("/me", middleware.RequireAuth(), h.UpdateMe)
		usersGroup.DELETE("/me", middleware.RequireAuth(), h.DeleteMe)
		usersGroup.POST("/me/avatar", middleware.RequireAuth(), h.UploadAvatar)
		usersGroup.GET("/me/notifications", middleware.RequireAuth(), h.Notifications)
		usersGroup.DELETE("/me/notifications", middleware.RequireAuth(), h.ClearNotifications)
		usersGroup.GET("/:id", h.GetUser)
		usersGroup.POST("/:id/block", middleware.RequireAuth(), h.BlockUser)
		usersGroup.POST("/:id/unblock", middleware.RequireAuth(), h.UnblockUser)
	}

	mod := v1.Group("/moderation", middleware.RequireRole(models.RoleModerator))
	{
		mod.GET("/queue", h.ModQueue)
		mod.GET("/reports", h.ModReports)
		mod.POST("/comments/:id/approve", h.ApproveComment)
		mod.POST("/comments/:id/reject", h.RejectComment)
		mod.POST("/users/:id/ban", h.BanUser)
		mod.POST("/users/:id/unban", h.UnbanUser)
		mod.POST("/users/:id/shadowban", h.ShadowbanUser)
		mod.POST("/users/:id/unshadowban", h.UnshadowbanUser)
		mod.POST("/pages/lock", h.LockPage)
		mod.POST("/pages/unlock", h.UnlockPage)
	}

	admin := v1.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/moderators", h.ListModerators)
		admin.POST("/moderators", h.AddModerator)
		admin.DELETE("/moderators/:id", h.RemoveModerator)
		admin.GET("/admins", h.ListAdmins)
		admin.POST("/admins", h.AddAdmin)
		admin.PUT("/settings", h.UpdateSettings)
		admin.GET("/analytics", h.Analytics)
	}

	return r
}
