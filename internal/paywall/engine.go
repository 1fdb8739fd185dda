package paywall

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/routes"
)

// Outcomes reported to PaywallConfig.OnOutcome.
const (
	OutcomeRequired = "payment_required"
	OutcomeInvalid  = "invalid"
	OutcomeSettled  = "settled"
	OutcomeVerified = "verified"
	OutcomeError    = "facilitator_error"
)

// PaymentContextKey is the gin context key of the verified payment.
const PaymentContextKey = "x402_payment"

type paymentKey struct{}

// PaywallConfig tunes the engine. A nil config uses the defaults.
type PaywallConfig struct {
	// MaxTimeoutSeconds is advertised in every requirement (default: 300).
	MaxTimeoutSeconds int
	// VerifyOnly skips settlement.
	VerifyOnly bool
	// PublicURL replaces the request scheme and host in resource URLs.
	PublicURL string
	// OnOutcome is called once per gated request with its route key.
	OnOutcome func(routeKey, outcome string)
}

// Engine gates the routes of a route table behind x402 payments. Requests
// whose "<METHOD> <path>" is not in the table pass through untouched.
type Engine struct {
	payTo       string
	table       *routes.Table
	facilitator Facilitator
	cfg         PaywallConfig
	logger      *zap.Logger
}

// New creates an Engine that pays out to payTo and settles through the
// facilitator at fc.URL.
func New(payTo string, table *routes.Table, fc FacilitatorConfig, pc *PaywallConfig, logger *zap.Logger) *Engine {
	return NewWithFacilitator(payTo, table, NewFacilitatorClient(fc, nil), pc, logger)
}

// NewWithFacilitator is New with an explicit Facilitator.
func NewWithFacilitator(payTo string, table *routes.Table, f Facilitator, pc *PaywallConfig, logger *zap.Logger) *Engine {
	var cfg PaywallConfig
	if pc != nil {
		cfg = *pc
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{payTo: payTo, table: table, facilitator: f, cfg: cfg, logger: logger}
}

// Routes returns the route table the engine gates.
func (e *Engine) Routes() *routes.Table { return e.table }

// Requirements builds the payment requirements for descriptor d served at
// resource.
func (e *Engine) Requirements(method, resource string, d routes.Descriptor) (PaymentRequirements, error) {
	n, ok := payments.LookupNetwork(d.Network)
	if !ok {
		return PaymentRequirements{}, &payments.UnsupportedNetworkError{Network: d.Network}
	}
	amount, err := payments.ToAtomicUnits(d.Price, n.Decimals)
	if err != nil {
		return PaymentRequirements{}, err
	}

	input := map[string]any{
		"type":         "http",
		"method":       method,
		"discoverable": d.Config.Discoverable,
		"bodyType":     d.Config.InputSchema.BodyType,
	}
	if d.Config.InputSchema.BodyFields != nil {
		input["bodyFields"] = d.Config.InputSchema.BodyFields
	}
	outputSchema := map[string]any{"input": input}
	if out, ok := d.Config.OutputSchema["output"]; ok {
		outputSchema["output"] = out
	}

	req := PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           n.Name,
		MaxAmountRequired: amount,
		Resource:          resource,
		Description:       d.Config.Description,
		MimeType:          d.Config.MimeType,
		PayTo:             e.payTo,
		MaxTimeoutSeconds: e.cfg.MaxTimeoutSeconds,
		Asset:             n.Asset,
		OutputSchema:      outputSchema,
	}
	if n.Family == payments.FamilyEVM {
		req.Extra = map[string]any{"name": n.AssetName, "version": n.AssetVersion}
	}
	return req, nil
}

// handle runs the payment flow for one request. It reports whether the
// wrapped handler should run; when it returns false a response was written.
func (e *Engine) handle(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	key := routes.Key(r.Method, r.URL.Path)
	d, ok := e.table.Get(key)
	if !ok {
		return r, true
	}

	req, err := e.Requirements(r.Method, e.resourceURL(r), d)
	if err != nil {
		e.logger.Error("build payment requirements", zap.String("route", key), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"x402Version": X402Version,
			"error":       "payment configuration error",
		})
		return r, false
	}
	accepts := []PaymentRequirements{req}

	header := r.Header.Get(HeaderPayment)
	if header == "" {
		e.outcome(key, OutcomeRequired)
		writePaymentRequired(w, accepts, "X-PAYMENT header is required")
		return r, false
	}

	payment, err := DecodePayment(header)
	if err != nil {
		e.logger.Warn("invalid payment header", zap.String("route", key), zap.Error(err))
		e.outcome(key, OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"x402Version": X402Version,
			"error":       "Invalid payment header",
		})
		return r, false
	}
	if payment.Scheme != req.Scheme || payment.Network != req.Network {
		e.outcome(key, OutcomeInvalid)
		writePaymentRequired(w, accepts, "No matching payment requirement")
		return r, false
	}

	verified, err := e.facilitator.Verify(r.Context(), payment, req)
	if err != nil {
		e.logger.Error("facilitator verification failed", zap.String("route", key), zap.Error(err))
		e.outcome(key, OutcomeError)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"x402Version": X402Version,
			"error":       "Payment verification failed",
		})
		return r, false
	}
	if !verified.IsValid {
		e.logger.Info("payment rejected", zap.String("route", key), zap.String("reason", verified.InvalidReason))
		e.outcome(key, OutcomeInvalid)
		writePaymentRequired(w, accepts, verified.InvalidReason)
		return r, false
	}

	if e.cfg.VerifyOnly {
		e.outcome(key, OutcomeVerified)
		return withPayment(r, verified), true
	}

	settled, err := e.facilitator.Settle(r.Context(), payment, req)
	if err != nil {
		e.logger.Error("settlement failed", zap.String("route", key), zap.Error(err))
		e.outcome(key, OutcomeError)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"x402Version": X402Version,
			"error":       "Payment settlement failed",
		})
		return r, false
	}
	if !settled.Success {
		e.outcome(key, OutcomeInvalid)
		writePaymentRequired(w, accepts, settled.ErrorReason)
		return r, false
	}

	if encoded, err := EncodeSettlement(*settled); err == nil {
		w.Header().Set(HeaderPaymentResponse, encoded)
	}
	e.logger.Info("payment settled",
		zap.String("route", key),
		zap.String("payer", verified.Payer),
		zap.String("transaction", settled.Transaction),
	)
	e.outcome(key, OutcomeSettled)
	return withPayment(r, verified), true
}

// HTTP wraps next with the payment flow.
func (e *Engine) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := e.handle(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Gin returns the payment flow as gin middleware.
func (e *Engine) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := e.handle(c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}
		c.Request = r
		if p := PaymentFromContext(r.Context()); p != nil {
			c.Set(PaymentContextKey, p)
		}
		c.Next()
	}
}

// PaymentFromContext returns the verified payment of the current request.
func PaymentFromContext(ctx context.Context) *VerifyResponse {
	p, _ := ctx.Value(paymentKey{}).(*VerifyResponse)
	return p
}

func withPayment(r *http.Request, v *VerifyResponse) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), paymentKey{}, v))
}

func (e *Engine) outcome(key, outcome string) {
	if e.cfg.OnOutcome != nil {
		e.cfg.OnOutcome(key, outcome)
	}
}

func (e *Engine) resourceURL(r *http.Request) string {
	if e.cfg.PublicURL != "" {
		return strings.TrimRight(e.cfg.PublicURL, "/") + r.URL.Path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func writePaymentRequired(w http.ResponseWriter, accepts []PaymentRequirements, msg string) {
	writeJSON(w, http.StatusPaymentRequired, PaymentRequired{
		X402Version: X402Version,
		Error:       msg,
		Accepts:     accepts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
