// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS, and
// rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/cliq"
	"github.com/avelis/go-tasker-notify/internal/config"
	"github.com/avelis/go-tasker-notify/internal/http/handlers"
	"github.com/avelis/go-tasker-notify/internal/http/middleware"
	"github.com/avelis/go-tasker-notify/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS, health and metrics endpoints, and then mounts the versioned public
// API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per caller/IP)
//  8. CORS
func RegisterRoutes(r *gin.Engine, db *gorm.DB, client *cliq.Client, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per caller/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCallerOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Caller-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Caller-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← db/client
	linkSvc := &services.LinkingService{DB: db, CodeTTL: cfg.LinkCodeTTL}
	prefSvc := &services.PreferenceService{DB: db}
	dispatcher := &services.Dispatcher{
		DB:            db,
		Prefs:         prefSvc,
		Sender:        client,
		Formatter:     &cliq.Formatter{AppBaseURL: cfg.AppBaseURL},
		Log:           log.Logger,
		MaxConcurrent: cfg.DispatchSize,
	}
	h := handlers.New(linkSvc, prefSvc, dispatcher, db)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Linking protocol
		api.POST("/link/code", h.GenerateLinkCode)
		api.POST("/link/code/:code/verify", h.VerifyLinkChallenge)
		api.GET("/link/code/:code", h.LinkCodeStatus)
		api.POST("/link", h.Link)
		api.GET("/link/:app_user_id", h.GetLink)
		api.DELETE("/link/:app_user_id", h.Unlink)

		// Preferences
		api.GET("/users/:id/preferences", h.GetPreferences)
		api.PATCH("/users/:id/preferences", h.UpdatePreferences)
		api.PUT("/users/:id/preferences/projects/:project_id", h.MuteProject)
		api.PUT("/users/:id/dnd", h.SetDND)

		// Dispatch
		api.POST("/events", h.IngestEvent)
		api.PUT("/projects/:id/channel", h.BindProjectChannel)
		api.DELETE("/projects/:id/channel", h.UnbindProjectChannel)
		api.GET("/users/:id/deliveries", h.ListDeliveries)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
