package api

import (
	"catalogsync/internal/metrics"
	"catalogsync/internal/middleware"
	"catalogsync/internal/repository"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	Imports   *ImportHandler
	Stream    *StreamHandler
	Products  *ProductHandler
	Deletions *DeletionHandler
	Webhooks  *WebhookHandler
}

type RouterOptions struct {
	APIKeys      repository.APIKeyRepository
	Tokens       middleware.TokenParser
	Limiter      *middleware.RateLimiter
	AllowOrigins []string
	DevMode      bool
}

func RegisterRoutes(h Handlers, opts RouterOptions) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(opts.AllowOrigins),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := r.Group("/v1/auth")
	{
		auth.POST("/token", h.Auth.Token)
		auth.POST("/refresh", h.Auth.Refresh)
	}

	authProtected := r.Group("/v1/auth")
	authProtected.Use(middleware.JWTMiddleware(opts.Tokens, opts.DevMode))
	{
		authProtected.GET("/me", h.Auth.Me)
		authProtected.POST("/logout", h.Auth.Logout)
	}

	protected := r.Group("/v1")
	protected.Use(middleware.ClientAuth(opts.APIKeys, opts.Tokens, opts.DevMode))

	var writeLimiter gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if opts.Limiter != nil {
		writeLimiter = opts.Limiter.Middleware()
	}

	{
		protected.POST("/imports", writeLimiter, h.Imports.Upload)
		protected.GET("/imports/:id/status", h.Imports.Status)
		protected.GET("/imports/:id/result", h.Imports.Result)
		protected.GET("/imports/:id/stream", h.Stream.WatchImport)
		protected.POST("/imports/:id/cancel", h.Imports.Cancel)

		protected.GET("/products/:identifier", h.Products.Get)
		protected.PUT("/products/:identifier", writeLimiter, h.Products.Upsert)
		protected.DELETE("/products/:identifier", writeLimiter, h.Products.Delete)
		protected.DELETE("/products", writeLimiter, h.Deletions.Submit)
		protected.GET("/deletions/:id/status", h.Deletions.Status)

		protected.POST("/webhooks", h.Webhooks.Create)
		protected.GET("/webhooks/:id", h.Webhooks.Get)
		protected.POST("/webhooks/:id/test", writeLimiter, h.Webhooks.Test)
		protected.GET("/webhooks/:id/logs", h.Webhooks.Logs)
	}
	return r
}
