// Package chiserver serves an agent over chi and net/http.
package chiserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
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
	Version      string
	PublicURL    string
	CORSOrigins  []string
	RateLimitRPS int
	// Done stops the rate limiter sweeper.
	Done <-chan struct{}

	Paywall  *paywall.Engine
	Ledger   ledger.Ledger
	Endorser *identity.Endorser
	Health   *health.Checker
}

// New builds the chi router for a.
func New(a *agent.Agent, opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   httpx.CORSMethods(),
			AllowedHeaders:   httpx.CORSAllowHeaders(),
			ExposedHeaders:   httpx.CORSExposeHeaders(),
			AllowCredentials: httpx.CORSCredentials(opts.CORSOrigins),
			MaxAge:           int(httpx.CORSMaxAge / time.Second),
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			httpx.SetSecurityHeaders(w.Header())
			req.Body = http.MaxBytesReader(w, req.Body, httpx.MaxBodyBytes)
			next.ServeHTTP(w, req)
		})
	})
	if opts.RateLimitRPS > 0 {
		r.Use(httpx.RateLimit(opts.RateLimitRPS, opts.RateLimitRPS*2, opts.Done))
	}
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, httpx.HealthOf(opts.Version, opts.Health))
	})

	card := func(w http.ResponseWriter, req *http.Request) {
		c, err := a.Manifest(httpx.Origin(req, opts.PublicURL))
		if err != nil {
			logger.Error("build agent card", zap.Error(err))
			httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build agent card"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, c)
	}
	r.Get("/.well-known/agent.json", card)
	r.Get("/.well-known/agent-card.json", card)
	if e := opts.Endorser; e != nil {
		r.Get(identity.JWKSPath, func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, http.StatusOK, e.JWKS())
		})
	}

	mount := func(sub chi.Router) {
		if opts.Ledger != nil {
			newLedgerHandler(opts.Ledger, logger).Register(sub)
		}
		sub.Route("/entrypoints", func(ep chi.Router) {
			if opts.Paywall != nil {
				ep.Use(opts.Paywall.HTTP)
			}
			newEntrypointHandler(a, logger).Register(ep)
		})
	}
	if base := routes.NormalizeBasePath(a.Config().BasePath); base != "" {
		r.Route(base, mount)
	} else {
		mount(r)
	}
	return r
}

// requestLogger logs each request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
