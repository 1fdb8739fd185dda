package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/agentkit/pkg/agentcard"
)

// Header names of the x402 exchange.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// ErrPaymentRequired is matched by *PaymentRequiredError.
var ErrPaymentRequired = errors.New("payment required")

// EntrypointSummary is one item of the entrypoint listing.
type EntrypointSummary struct {
	Key         string             `json:"key"`
	Description string             `json:"description,omitempty"`
	Streaming   bool               `json:"streaming"`
	Pricing     *agentcard.Pricing `json:"pricing,omitempty"`
}

// Usage reports token consumption of a run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// RunResult is the outcome of an invoke or stream call.
type RunResult struct {
	RunID  string          `json:"run_id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Usage  *Usage          `json:"usage,omitempty"`
	Model  string          `json:"model,omitempty"`

	// Settlement is set when the call was paid and settled.
	Settlement *Settlement `json:"-"`
}

// Settlement is the decoded X-PAYMENT-RESPONSE header.
type Settlement struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// PaymentRequirement is one accepted way to pay for a route.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentRequiredError is returned when the agent answers 402 and no payer
// is configured, or the payer's payment was refused.
type PaymentRequiredError struct {
	Body PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	if e.Body.Error != "" {
		return "payment required: " + e.Body.Error
	}
	return "payment required"
}

func (e *PaymentRequiredError) Is(target error) bool { return target == ErrPaymentRequired }

// APIError is a non-2xx response other than 402.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent returned HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agent returned HTTP %d: %s", e.StatusCode, e.Message)
}

// PayFunc produces an X-PAYMENT header value for the requirements of a 402
// response.
type PayFunc func(ctx context.Context, req PaymentRequired) (string, error)

// Client talks to one agent.
type Client struct {
	base       string
	basePath   string
	httpClient *http.Client
	pay        PayFunc
	cards      *cardCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBasePath sets the prefix of the entrypoint routes, e.g. "/api/agent".
func WithBasePath(p string) Option {
	return func(c *Client) error {
		p = strings.TrimRight(p, "/")
		if p != "" && !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		c.basePath = p
		return nil
	}
}

// WithPayment attaches a fixed X-PAYMENT header to paid calls.
func WithPayment(header string) Option {
	return func(c *Client) error {
		c.pay = func(context.Context, PaymentRequired) (string, error) { return header, nil }
		return nil
	}
}

// WithPayer retries a 402 response once with the header returned by fn.
func WithPayer(fn PayFunc) Option {
	return func(c *Client) error {
		c.pay = fn
		return nil
	}
}

// WithCardTTL caches the agent card for ttl.
func WithCardTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cards = &cardCache{ttl: ttl}
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed agent.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 30 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the agent at base.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBasePath("/api/agent"),
//	    client.WithCardTTL(time.Minute),
//	)
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("agent base URL is required")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (version string, err error) {
	var body struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/health", &body); err != nil {
		return "", err
	}
	if !body.OK {
		return body.Version, errors.New("agent reported not ok")
	}
	return body.Version, nil
}

// Card fetches the agent card from /.well-known/agent-card.json, falling
// back to /.well-known/agent.json.
func (c *Client) Card(ctx context.Context) (*agentcard.AgentCard, error) {
	if c.cards != nil {
		if card, ok := c.cards.get(); ok {
			return card, nil
		}
	}

	var card agentcard.AgentCard
	err := c.getJSON(ctx, "/.well-known/agent-card.json", &card)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		err = c.getJSON(ctx, "/.well-known/agent.json", &card)
	}
	if err != nil {
		return nil, err
	}

	if c.cards != nil {
		c.cards.set(&card)
	}
	return &card, nil
}

// Entrypoints lists the agent's entrypoints.
func (c *Client) Entrypoints(ctx context.Context) ([]EntrypointSummary, error) {
	var body struct {
		Items []EntrypointSummary `json:"items"`
	}
	if err := c.getJSON(ctx, c.basePath+"/entrypoints", &body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

// Invoke calls an entrypoint and waits for its result.
func (c *Client) Invoke(ctx context.Context, key string, input any) (*RunResult, error) {
	resp, err := c.call(ctx, key, "invoke", input)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var res RunResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	res.Settlement = settlementOf(resp)
	return &res, nil
}

// call POSTs {input} to an entrypoint route, paying once on 402 when a payer
// is configured. A returned response has a 2xx status.
func (c *Client) call(ctx context.Context, key, kind string, input any) (*http.Response, error) {
	payload, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	target := c.base + c.basePath + "/entrypoints/" + key + "/" + kind

	payment := ""
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if payment != "" {
			req.Header.Set(HeaderPayment, payment)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", key, err)
		}
		if resp.StatusCode < 300 {
			return resp, nil
		}

		err = responseError(resp)
		resp.Body.Close()
		var pr *PaymentRequiredError
		if !errors.As(err, &pr) || c.pay == nil || attempt > 0 {
			return nil, err
		}
		payment, err = c.pay(ctx, pr.Body)
		if err != nil {
			return nil, fmt.Errorf("pay for %s: %w", key, err)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError reads a non-2xx response into *PaymentRequiredError or
// *APIError.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode == http.StatusPaymentRequired {
		pe := &PaymentRequiredError{}
		_ = json.Unmarshal(body, &pe.Body)
		return pe
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func settlementOf(resp *http.Response) *Settlement {
	h := resp.Header.Get(HeaderPaymentResponse)
	if h == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(h)
	if err != nil {
		return nil
	}
	var s Settlement
	if json.Unmarshal(data, &s) != nil {
		return nil
	}
	return &s
}

// --- agent card cache ---

type cardCache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	card      *agentcard.AgentCard
	expiresAt time.Time
}

func (cc *cardCache) get() (*agentcard.AgentCard, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	if cc.card == nil || time.Now().After(cc.expiresAt) {
		return nil, false
	}
	return cc.card, true
}

func (cc *cardCache) set(card *agentcard.AgentCard) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.card = card
	cc.expiresAt = time.Now().Add(cc.ttl)
}
