// Command agentd serves one agent's entrypoints over HTTP.
//
// Configuration comes from agent.yaml (./configs or .) or the file named by
// AGENT_CONFIG, overridden by AGENT_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/config"
	"github.com/jmerrifield20/agentkit/internal/handlers"
	"github.com/jmerrifield20/agentkit/internal/health"
	"github.com/jmerrifield20/agentkit/internal/identity"
	"github.com/jmerrifield20/agentkit/internal/ledger"
	"github.com/jmerrifield20/agentkit/internal/paywall"
	"github.com/jmerrifield20/agentkit/internal/server/chiserver"
	"github.com/jmerrifield20/agentkit/internal/server/ginserver"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("agentd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("AGENT_CONFIG"), logger)
	if err != nil {
		return err
	}
	agentCfg := cfg.AgentConfig()
	agent.SetProcessConfig(agentCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Ledger ───────────────────────────────────────────────────────────────
	var runLedger ledger.Ledger
	switch cfg.Ledger.Driver {
	case config.LedgerPostgres:
		db, err := pgxpool.New(ctx, cfg.Ledger.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := ledger.NewPostgres(db, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		logger.Info("connected to postgres")
		runLedger = pg
	case config.LedgerMemory:
		runLedger = ledger.NewMemory()
	default:
		logger.Info("run ledger disabled")
	}

	if runLedger != nil {
		if err := runLedger.Verify(ctx); err != nil {
			logger.Warn("run ledger integrity check FAILED", zap.Error(err))
		} else {
			n, _ := runLedger.Len(ctx)
			root, _ := runLedger.Root(ctx)
			logger.Info("run ledger verified", zap.Int("entries", n), zap.String("root", root))
		}
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	var endorser *identity.Endorser
	if cfg.Identity.Endorse {
		key, err := identity.LoadOrCreateKey(cfg.Identity.KeyFile)
		if err != nil {
			return fmt.Errorf("signing key setup failed: %w", err)
		}
		issuer := cfg.Identity.Issuer
		if issuer == "" {
			issuer = cfg.Server.PublicURL
		}
		if issuer == "" {
			issuer = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		endorser = identity.NewEndorser(key, issuer, cfg.Identity.TTL)
		logger.Info("card endorsement enabled",
			zap.String("kid", endorser.KeyID()),
			zap.String("issuer", issuer),
		)
	}

	// ── Agent ────────────────────────────────────────────────────────────────
	var recorder agent.Recorder
	if runLedger != nil {
		recorder = ledger.NewRecorder(runLedger)
	}
	if cfg.Server.Adapter == config.AdapterGin {
		recorder = ginserver.InstrumentRecorder(recorder)
	}
	opts := []agent.Option{agent.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, agent.WithRecorder(recorder))
	}
	if endorser != nil {
		opts = append(opts, agent.WithSigner(endorser))
	}
	a := agent.New(agentCfg, opts...)

	defs, err := handlers.Bind(cfg.Entrypoints)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := a.AddEntrypoint(def); err != nil {
			return err
		}
	}

	// Fail fast on a manifest or route table the config cannot produce.
	if _, err := a.Manifest(fmt.Sprintf("http://localhost:%d", cfg.Server.Port)); err != nil {
		return err
	}
	table, err := a.AllRoutes()
	if err != nil {
		return err
	}
	logger.Info("entrypoints registered",
		zap.Int("entrypoints", len(defs)),
		zap.Int("paid_routes", table.Len()),
		zap.Strings("routes", table.Keys()),
	)

	// ── Paywall ──────────────────────────────────────────────────────────────
	var pw *paywall.Engine
	if p := agentCfg.Payments; p != nil && table.Len() > 0 {
		pc := &paywall.PaywallConfig{
			VerifyOnly: cfg.Server.VerifyOnly,
			PublicURL:  cfg.Server.PublicURL,
		}
		if cfg.Server.Adapter == config.AdapterGin {
			pc.OnOutcome = ginserver.RecordPaymentOutcome
		}
		pw = paywall.New(p.PayTo, table, paywall.FacilitatorConfig{
			URL:           p.FacilitatorURL,
			Authorization: os.Getenv("AGENT_FACILITATOR_AUTHORIZATION"),
		}, pc, logger)
		if cfg.Server.VerifyOnly {
			logger.Warn("paywall in verify-only mode; payments are never settled")
		}
		logger.Info("paywall enabled",
			zap.String("pay_to", p.PayTo),
			zap.String("facilitator", p.FacilitatorURL),
		)
	}

	// ── Dependency health ────────────────────────────────────────────────────
	var targets []health.Target
	if pw != nil {
		targets = append(targets, health.Target{
			Name:  "facilitator",
			Probe: health.HTTPProbe(nil, strings.TrimRight(agentCfg.Payments.FacilitatorURL, "/")+"/supported"),
		})
	}
	if runLedger != nil {
		targets = append(targets, health.Target{
			Name: "ledger",
			Probe: func(ctx context.Context) error {
				_, err := runLedger.Len(ctx)
				return err
			},
		})
	}
	var checker *health.Checker
	if len(targets) > 0 {
		checker = health.New(targets, health.Config{}, logger)
		if cfg.Server.Adapter == config.AdapterGin {
			checker.SetMetricsRecord(ginserver.RecordProbe)
		}
		go checker.Start(ctx)
		logger.Info("dependency probes started", zap.Strings("targets", checker.Names()))
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	var handler http.Handler
	switch cfg.Server.Adapter {
	case config.AdapterChi:
		handler = chiserver.New(a, chiserver.Options{
			Version:      version,
			PublicURL:    cfg.Server.PublicURL,
			CORSOrigins:  cfg.Server.CORSOrigins,
			RateLimitRPS: cfg.Server.RateLimitRPS,
			Done:         ctx.Done(),
			Paywall:      pw,
			Ledger:       runLedger,
			Endorser:     endorser,
			Health:       checker,
		}, logger)
	default:
		if os.Getenv("GIN_MODE") == "" {
			gin.SetMode(gin.ReleaseMode)
		}
		handler = ginserver.New(a, ginserver.Options{
			Version:      version,
			PublicURL:    cfg.Server.PublicURL,
			CORSOrigins:  cfg.Server.CORSOrigins,
			RateLimitRPS: cfg.Server.RateLimitRPS,
			Done:         ctx.Done(),
			Paywall:      pw,
			Ledger:       runLedger,
			Endorser:     endorser,
			Health:       checker,
		}, logger)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent HTTP listening",
			zap.String("agent", cfg.Agent.Name),
			zap.String("adapter", cfg.Server.Adapter),
			zap.Int("port", cfg.Server.Port),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("agent stopped")
	return nil
}
