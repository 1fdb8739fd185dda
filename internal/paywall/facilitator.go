package paywall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FacilitatorConfig locates the settlement service.
type FacilitatorConfig struct {
	URL string
	// Authorization is sent verbatim as the Authorization header when set.
	Authorization string
	// Timeout bounds each verify and settle call (default: 10s).
	Timeout time.Duration
}

// Facilitator verifies and settles payments.
type Facilitator interface {
	Verify(ctx context.Context, p PaymentPayload, req PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, p PaymentPayload, req PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorClient talks to an x402 facilitator over HTTP.
type FacilitatorClient struct {
	baseURL       string
	authorization string
	timeout       time.Duration
	hc            *http.Client
}

// NewFacilitatorClient creates a client for cfg. A nil hc uses a client with
// no timeout of its own; the per-call timeout applies instead.
func NewFacilitatorClient(cfg FacilitatorConfig, hc *http.Client) *FacilitatorClient {
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FacilitatorClient{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		authorization: cfg.Authorization,
		timeout:       timeout,
		hc:            hc,
	}
}

type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Verify checks a payment without settling it.
func (c *FacilitatorClient) Verify(ctx context.Context, p PaymentPayload, req PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/verify", facilitatorRequest{X402Version, p, req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes a verified payment.
func (c *FacilitatorClient) Settle(ctx context.Context, p PaymentPayload, req PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := c.post(ctx, "/settle", facilitatorRequest{X402Version, p, req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: %s returned HTTP %d: %s", ErrFacilitatorRejected, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
