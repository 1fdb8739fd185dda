// Package ginserver serves an agent over gin.
package ginserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/health"
	"github.com/jmerrifield20/agentkit/internal/identity"
	"github.com/jmerrifield20/agentkit/internal/ledger"
	"github.com/jmerrifield20/agentkit/internal/paywall"
	"github.com/jmerrifield20/agentkit/internal/routes"
	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

// Options configure the router. Zero values disable the optional parts.
type Options struct {
	// Version is reported by GET /health.
	Version string
	// PublicURL overrides the origin derived from each request.
	PublicURL    string
	CORSOrigins  []string
	RateLimitRPS int
	// Done stops background goroutines such as the rate limiter sweeper.
	Done <-chan struct{}

	Paywall  *paywall.Engine
	Ledger   ledger.Ledger
	Endorser *identity.Endorser
	Health   *health.Checker
}

// New builds the gin router for a.
func New(a *agent.Agent, opts Options, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     httpx.CORSMethods(),
			AllowHeaders:     httpx.CORSAllowHeaders(),
			ExposeHeaders:    httpx.CORSExposeHeaders(),
			AllowCredentials: httpx.CORSCredentials(opts.CORSOrigins),
			MaxAge:           httpx.CORSMaxAge,
		}))
	}

	r.Use(func(c *gin.Context) {
		httpx.SetSecurityHeaders(c.Writer.Header())
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, httpx.MaxBodyBytes)
		c.Next()
	})
	if opts.RateLimitRPS > 0 {
		r.Use(RateLimiter(opts.RateLimitRPS, opts.RateLimitRPS*2, opts.Done))
	}
	r.Use(requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpx.HealthOf(opts.Version, opts.Health))
	})
	r.GET("/metrics", MetricsHandler())

	wk := &wellKnownHandler{agent: a, publicURL: opts.PublicURL, logger: logger}
	r.GET("/.well-known/agent.json", wk.ServeCard)
	r.GET("/.well-known/agent-card.json", wk.ServeCard)
	if opts.Endorser != nil {
		opts.Endorser.RegisterWellKnown(r)
	}

	base := r.Group(routes.NormalizeBasePath(a.Config().BasePath))
	if opts.Ledger != nil {
		NewLedgerHandler(opts.Ledger, logger).Register(base)
	}

	ep := base.Group("/entrypoints")
	if opts.Paywall != nil {
		ep.Use(opts.Paywall.Gin())
		SetPaidRoutes(opts.Paywall.Routes().Len())
	}
	NewEntrypointHandler(a, logger).Register(ep)

	return r
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
