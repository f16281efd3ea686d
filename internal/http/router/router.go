package router

import (
	"context"
	"net/http"
	"time"

	apphttp "salesops_backend/internal/http"
	"salesops_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	healthTimeout = 2 * time.Second
	corsMaxAge    = 12 * time.Hour

	// Provider callbacks arrive in bursts after a batch of approvals.
	webhookRate  = rate.Limit(5)
	webhookBurst = 20
)

// New builds the gin engine and mounts every module of app.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(cors.New(corsConfig(app.Config)))
	if app.Metrics != nil {
		engine.Use(app.Metrics.Middleware())
		engine.GET("/metrics", gin.WrapH(app.Metrics.Handler()))
	}

	engine.GET("/api/health", func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				app.Logger.Error("health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := httpkit.AuthRequired(app.Config)

	v1 := engine.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMiddleware)
	admin := protected.Group("/admin")
	admin.Use(httpkit.RequireAnyRole(httpkit.RoleAdmin))

	routerCtx := &apphttp.RouterContext{
		Engine:             engine,
		V1:                 v1,
		Protected:          protected,
		Admin:              admin,
		Config:             app.Config,
		AuthMiddleware:     authMiddleware,
		WebhookRateLimiter: httpkit.NewIPRateLimiter(webhookRate, webhookBurst, app.Logger),
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(routerCtx)
		app.Logger.Info("registered module routes", "module", module.Name())
	}

	return engine
}

func corsConfig(cfg apphttp.RouterConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           corsMaxAge,
	}
	if cfg.GetCORSAllowAll() {
		c.AllowAllOrigins = true
		// gin-contrib/cors refuses wildcard origins with credentials.
		c.AllowCredentials = false
		return c
	}
	c.AllowOrigins = cfg.GetCORSOrigins()
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = []string{"http://localhost:3000"}
	}
	return c
}
