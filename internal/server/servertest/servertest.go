// Package servertest is a conformance suite run against every HTTP adapter.
package servertest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/identity"
	"github.com/jmerrifield20/agentkit/internal/ledger"
	"github.com/jmerrifield20/agentkit/internal/manifest"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/paywall"
	"github.com/jmerrifield20/agentkit/internal/schema"
	"github.com/jmerrifield20/agentkit/pkg/agentcard"
)

// PayTo receives payments in the fixture agent.
const PayTo = "0x1234567890abcdef1234567890abcdef12345678"

// BasePath prefixes the fixture agent's entrypoint routes.
const BasePath = "/api/agent"

// Version is the version the adapters are expected to report on /health.
const Version = "test"

// Deps are the parts an adapter is built from.
type Deps struct {
	Agent    *agent.Agent
	Paywall  *paywall.Engine
	Ledger   ledger.Ledger
	Endorser *identity.Endorser

	// CORSOrigins and RateLimitRPS are zero unless a case sets them; the
	// factory must pass them through. Done closes when the test ends.
	CORSOrigins  []string
	RateLimitRPS int
	Done         <-chan struct{}
}

// Factory builds the adapter under test. It must serve /health with Version.
type Factory func(t *testing.T, d Deps) http.Handler

var (
	keyOnce sync.Once
	key     *identity.Endorser
	keyErr  error
)

func endorser(t *testing.T) *identity.Endorser {
	t.Helper()
	keyOnce.Do(func() {
		k, err := identity.GenerateKey()
		if err != nil {
			keyErr = err
			return
		}
		key = identity.NewEndorser(k, "https://issuer.example.com", 0)
	})
	if keyErr != nil {
		t.Fatal(keyErr)
	}
	return key
}

// NewDeps builds the fixture agent with a memory ledger, an endorser and a
// paywall whose facilitator is never reached by the suite.
func NewDeps(t *testing.T) Deps {
	t.Helper()
	l := ledger.NewMemory()
	e := endorser(t)
	a := agent.New(agent.Config{
		Meta: manifest.Meta{Name: "demo", Version: "1.0.0", Description: "Fixture agent"},
		Payments: &payments.Config{
			PayTo:          PayTo,
			FacilitatorURL: "http://127.0.0.1:1",
			Network:        "base-sepolia",
		},
		BasePath: BasePath,
	}, agent.WithLogger(zap.NewNop()), agent.WithRecorder(ledger.NewRecorder(l)), agent.WithSigner(e))

	defs := []entrypoint.Def{
		{
			Key:         "echo",
			Description: "Echo text",
			Input: schema.Map(map[string]any{
				"type":       "object",
				"required":   []any{"text"},
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
			}),
			Handler: func(_ context.Context, req entrypoint.Request) (*entrypoint.Result, error) {
				in, _ := req.Input.(map[string]any)
				return &entrypoint.Result{Output: in["text"]}, nil
			},
			Stream: func(_ context.Context, req entrypoint.Request, emit entrypoint.EmitFunc) (*entrypoint.Result, error) {
				in, _ := req.Input.(map[string]any)
				text, _ := in["text"].(string)
				for _, w := range strings.Fields(text) {
					if err := emit(entrypoint.Event{Kind: entrypoint.EventDelta, Data: w}); err != nil {
						return nil, err
					}
				}
				return &entrypoint.Result{Output: text}, nil
			},
		},
		{
			Key:   "paid",
			Price: entrypoint.FlatPrice("$0.01"),
			Handler: func(context.Context, entrypoint.Request) (*entrypoint.Result, error) {
				return &entrypoint.Result{Output: "paid"}, nil
			},
		},
		{
			Key: "boom",
			Handler: func(context.Context, entrypoint.Request) (*entrypoint.Result, error) {
				return nil, errors.New("secret failure")
			},
		},
		{
			Key: "reject",
			Handler: func(context.Context, entrypoint.Request) (*entrypoint.Result, error) {
				return nil, fmt.Errorf("need more: %w", entrypoint.ErrInvalidInput)
			},
		},
	}
	for _, d := range defs {
		if err := a.AddEntrypoint(d); err != nil {
			t.Fatalf("AddEntrypoint(%s): %v", d.Key, err)
		}
	}

	table, err := a.AllRoutes()
	if err != nil {
		t.Fatalf("AllRoutes: %v", err)
	}
	pw := paywall.New(PayTo, table, paywall.FacilitatorConfig{URL: "http://127.0.0.1:1"}, nil, zap.NewNop())
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return Deps{Agent: a, Paywall: pw, Ledger: l, Endorser: e, Done: done}
}

type response struct {
	code   int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(r.body, &m); err != nil {
		t.Fatalf("decode %q: %v", r.body, err)
	}
	return m
}

func do(h http.Handler, method, path, body string) response {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return response{code: w.Code, header: w.Header(), body: w.Body.Bytes()}
}

// Run runs the suite against the adapter built by f.
func Run(t *testing.T, f Factory) {
	t.Run("health", func(t *testing.T) {
		h := f(t, NewDeps(t))
		resp := do(h, http.MethodGet, "/health", "")
		if resp.code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.code)
		}
		body := resp.json(t)
		if body["ok"] != true || body["version"] != Version {
			t.Errorf("health body: %v", body)
		}
	})

	t.Run("agent card", func(t *testing.T) {
		d := NewDeps(t)
		h := f(t, d)
		for _, path := range []string{"/.well-known/agent.json", "/.well-known/agent-card.json"} {
			resp := do(h, http.MethodGet, path, "")
			if resp.code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d: %s", path, resp.code, resp.body)
			}
			var card agentcard.AgentCard
			if err := json.Unmarshal(resp.body, &card); err != nil {
				t.Fatal(err)
			}
			if card.Name != "demo" || card.URL != "http://example.com/" {
				t.Errorf("%s: name %q url %q", path, card.Name, card.URL)
			}
			if card.Entrypoints["paid"].Pricing == nil || card.Entrypoints["paid"].Pricing.Invoke != "$0.01" {
				t.Errorf("%s: paid pricing: %+v", path, card.Entrypoints["paid"])
			}
			if card.Entrypoints["echo"].Pricing != nil {
				t.Errorf("%s: free entrypoint priced", path)
			}
			if !card.Capabilities.Streaming {
				t.Errorf("%s: streaming capability not set", path)
			}
			if _, err := d.Endorser.Verify(&card); err != nil {
				t.Errorf("%s: endorsement does not verify: %v", path, err)
			}
		}
	})

	t.Run("jwks", func(t *testing.T) {
		h := f(t, NewDeps(t))
		resp := do(h, http.MethodGet, identity.JWKSPath, "")
		if resp.code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.code)
		}
		keys, _ := resp.json(t)["keys"].([]any)
		if len(keys) != 1 {
			t.Errorf("keys: %v", keys)
		}
	})

	t.Run("entrypoint listing", func(t *testing.T) {
		h := f(t, NewDeps(t))
		resp := do(h, http.MethodGet, BasePath+"/entrypoints", "")
		if resp.code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.code)
		}
		var body struct {
			Items []agent.EntrypointSummary `json:"items"`
		}
		if err := json.Unmarshal(resp.body, &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Items) != 4 || body.Items[0].Key != "echo" || !body.Items[0].Streaming {
			t.Fatalf("items: %+v", body.Items)
		}
		if body.Items[1].Pricing == nil || body.Items[1].Pricing.Invoke != "$0.01" {
			t.Errorf("paid pricing: %+v", body.Items[1])
		}
	})

	t.Run("invoke", func(t *testing.T) {
		h := f(t, NewDeps(t))
		resp := do(h, http.MethodPost, BasePath+"/entrypoints/echo/invoke", `{"input":{"text":"hi there"}}`)
		if resp.code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.code, resp.body)
		}
		body := resp.json(t)
		if body["output"] != "hi there" || body["status"] != agent.StatusSucceeded || body["run_id"] == "" {
			t.Errorf("body: %v", body)
		}
	})

	t.Run("invoke errors", func(t *testing.T) {
		h := f(t, NewDeps(t))
		cases := []struct {
			name   string
			path   string
			body   string
			status int
			code   string
		}{
			{"unknown", "/entrypoints/nope/invoke", `{"input":{}}`, http.StatusNotFound, "not_found"},
			{"bad body", "/entrypoints/echo/invoke", `{"input":`, http.StatusBadRequest, "invalid_body"},
			{"schema", "/entrypoints/echo/invoke", `{"input":{"text":3}}`, http.StatusBadRequest, "invalid_input"},
			{"handler reject", "/entrypoints/reject/invoke", `{}`, http.StatusBadRequest, "invalid_input"},
			{"handler failure", "/entrypoints/boom/invoke", `{}`, http.StatusInternalServerError, "internal_error"},
			{"stream unsupported", "/entrypoints/boom/stream", `{}`, http.StatusNotFound, "stream_unsupported"},
		}
		for _, tc := range cases {
			resp := do(h, http.MethodPost, BasePath+tc.path, tc.body)
			if resp.code != tc.status {
				t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, resp.code, resp.body)
				continue
			}
			body := resp.json(t)
			if body["code"] != tc.code {
				t.Errorf("%s: code %v", tc.name, body["code"])
			}
			if strings.Contains(string(resp.body), "secret") {
				t.Errorf("%s: internal error leaked: %s", tc.name, resp.body)
			}
		}
	})

	t.Run("stream", func(t *testing.T) {
		h := f(t, NewDeps(t))
		resp := do(h, http.MethodPost, BasePath+"/entrypoints/echo/stream", `{"input":{"text":"hi there"}}`)
		if resp.code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.code, resp.body)
		}
		if ct := resp.header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("content type %q", ct)
		}
		s := string(resp.body)
		for _, want := range []string{
			"event:run-start\n",
			"event:delta\ndata:\"hi\"\n\n",
			"event:delta\ndata:\"there\"\n\n",
			"event:run-end\n",
		} {
			if !strings.Contains(s, want) {
				t.Errorf("stream missing %q:\n%s", want, s)
			}
		}
		if strings.Index(s, "run-start") > strings.Index(s, "run-end") {
			t.Errorf("events out of order:\n%s", s)
		}
	})

	t.Run("paid route requires payment", func(t *testing.T) {
		h := f(t, NewDeps(t))
		resp := do(h, http.MethodPost, BasePath+"/entrypoints/paid/invoke", `{}`)
		if resp.code != http.StatusPaymentRequired {
			t.Fatalf("expected 402, got %d: %s", resp.code, resp.body)
		}
		var body paywall.PaymentRequired
		if err := json.Unmarshal(resp.body, &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Accepts) != 1 {
			t.Fatalf("accepts: %+v", body.Accepts)
		}
		a := body.Accepts[0]
		if a.Resource != "http://example.com"+BasePath+"/entrypoints/paid/invoke" || a.MaxAmountRequired != "10000" || a.PayTo != PayTo {
			t.Errorf("requirement: %+v", a)
		}

		// Free entrypoints are not gated.
		if resp := do(h, http.MethodPost, BasePath+"/entrypoints/echo/invoke", `{"input":{"text":"x"}}`); resp.code != http.StatusOK {
			t.Errorf("free route: %d", resp.code)
		}
	})

	t.Run("ledger", func(t *testing.T) {
		h := f(t, NewDeps(t))
		if resp := do(h, http.MethodPost, BasePath+"/entrypoints/echo/invoke", `{"input":{"text":"x"}}`); resp.code != http.StatusOK {
			t.Fatalf("invoke: %d", resp.code)
		}

		resp := do(h, http.MethodGet, BasePath+"/ledger", "")
		if resp.code != http.StatusOK {
			t.Fatalf("overview: %d", resp.code)
		}
		if n, _ := resp.json(t)["entries"].(float64); n != 2 {
			t.Errorf("entries: %v", n)
		}

		resp = do(h, http.MethodGet, BasePath+"/ledger/verify", "")
		if resp.json(t)["valid"] != true {
			t.Errorf("verify: %s", resp.body)
		}

		resp = do(h, http.MethodGet, BasePath+"/ledger/entries/1", "")
		if resp.code != http.StatusOK || resp.json(t)["entrypoint"] != "echo" {
			t.Errorf("entry 1: %d %s", resp.code, resp.body)
		}
		if resp := do(h, http.MethodGet, BasePath+"/ledger/entries/99", ""); resp.code != http.StatusNotFound {
			t.Errorf("missing entry: %d", resp.code)
		}
		if resp := do(h, http.MethodGet, BasePath+"/ledger/entries/abc", ""); resp.code != http.StatusBadRequest {
			t.Errorf("bad index: %d", resp.code)
		}
	})

	t.Run("cors preflight", func(t *testing.T) {
		const origin = "https://app.example.com"
		d := NewDeps(t)
		d.CORSOrigins = []string{origin}
		h := f(t, d)

		req := httptest.NewRequest(http.MethodOptions, BasePath+"/entrypoints/paid/invoke", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", paywall.HeaderPayment)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK && w.Code != http.StatusNoContent {
			t.Fatalf("preflight status %d: %s", w.Code, w.Body.String())
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("allow origin: %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(got), strings.ToLower(paywall.HeaderPayment)) {
			t.Errorf("allow headers: %q", got)
		}

		// An actual cross-origin request can read the payment response header.
		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("actual request allow origin: %q", got)
		}
		if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(strings.ToLower(got), strings.ToLower(paywall.HeaderPaymentResponse)) {
			t.Errorf("expose headers: %q", got)
		}

		// Unlisted origins get no grant.
		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin granted %q", got)
		}
	})

	t.Run("rate limit", func(t *testing.T) {
		d := NewDeps(t)
		d.RateLimitRPS = 1
		h := f(t, d)

		// Burst is twice the rate, so the third request from one client fails.
		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			codes = append(codes, w.Code)
			if i == 2 && w.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After")
			}
		}
		if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
			t.Errorf("codes: %v", codes)
		}

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("other client: %d", w.Code)
		}
	})
}
