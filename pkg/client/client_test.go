package client_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/agentkit/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

const validPayment = "signed-payment"

func stubAgentServer(t *testing.T, cardHits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "version": "1.2.3"})
	})

	mux.HandleFunc("/.well-known/agent.json", func(w http.ResponseWriter, _ *http.Request) {
		cardHits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"name":    "stub",
			"url":     "http://stub/",
			"version": "1.0.0",
			"entrypoints": map[string]any{
				"echo": map[string]any{"streaming": true},
			},
		})
	})

	mux.HandleFunc("/api/agent/entrypoints", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"key": "echo", "streaming": true},
			{"key": "paid", "streaming": false, "pricing": map[string]any{"invoke": "$0.01"}},
		}})
	})

	mux.HandleFunc("/api/agent/entrypoints/echo/invoke", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input any `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"run_id": "r1", "status": "succeeded", "output": body.Input})
	})

	mux.HandleFunc("/api/agent/entrypoints/missing/invoke", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": "unknown entrypoint", "code": "not_found"})
	})

	mux.HandleFunc("/api/agent/entrypoints/paid/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.HeaderPayment) != validPayment {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]any{
				"x402Version": 1,
				"error":       "X-PAYMENT header is required",
				"accepts": []map[string]any{{
					"scheme":            "exact",
					"network":           "base-sepolia",
					"maxAmountRequired": "10000",
					"payTo":             "0xabc",
				}},
			})
			return
		}
		settle, _ := json.Marshal(map[string]any{"success": true, "transaction": "0xtx", "network": "base-sepolia"})
		w.Header().Set(client.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(settle))
		json.NewEncoder(w).Encode(map[string]any{"run_id": "r2", "status": "succeeded", "output": "paid"})
	})

	mux.HandleFunc("/api/agent/entrypoints/echo/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: run-start\ndata: {\"run_id\":\"r3\"}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event:delta\ndata:\"a\"\n\n")
		fmt.Fprint(w, "event: delta\r\ndata: \"b\"\r\n\r\n")
		fmt.Fprint(w, "event: run-end\ndata: {\"run_id\":\"r3\",\"status\":\"succeeded\",\"output\":\"a b\"}\n\n")
	})

	mux.HandleFunc("/api/agent/entrypoints/fail/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: run-start\ndata: {\"run_id\":\"r4\"}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"run_id\":\"r4\",\"message\":\"boom\"}\n\n")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, opts ...client.Option) (*client.Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := stubAgentServer(t, &hits)
	opts = append([]client.Option{client.WithBasePath("api/agent/")}, opts...)
	return client.MustNew(srv.URL, opts...), &hits
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	c, _ := newClient(t)
	v, err := c.Health(context.Background())
	if err != nil || v != "1.2.3" {
		t.Errorf("health: %q %v", v, err)
	}
}

func TestCard_fallbackAndCache(t *testing.T) {
	c, hits := newClient(t, client.WithCardTTL(time.Minute))
	for i := 0; i < 2; i++ {
		card, err := c.Card(context.Background())
		if err != nil {
			t.Fatalf("Card: %v", err)
		}
		if card.Name != "stub" || !card.Entrypoints["echo"].Streaming {
			t.Errorf("card: %+v", card)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected one fetch with caching, got %d", hits.Load())
	}
}

func TestEntrypoints(t *testing.T) {
	c, _ := newClient(t)
	items, err := c.Entrypoints(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].Pricing == nil || items[1].Pricing.Invoke != "$0.01" {
		t.Errorf("items: %+v", items)
	}
}

func TestInvoke(t *testing.T) {
	c, _ := newClient(t)
	res, err := c.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != "r1" || string(res.Output) != `{"text":"hi"}` || res.Settlement != nil {
		t.Errorf("result: %+v", res)
	}
}

func TestInvoke_notFound(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Invoke(context.Background(), "missing", nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Errorf("expected APIError 404, got %v", err)
	}
}

func TestInvoke_paymentRequired(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Invoke(context.Background(), "paid", nil)
	if !errors.Is(err, client.ErrPaymentRequired) {
		t.Fatalf("expected payment required, got %v", err)
	}
	var pr *client.PaymentRequiredError
	errors.As(err, &pr)
	if len(pr.Body.Accepts) != 1 || pr.Body.Accepts[0].MaxAmountRequired != "10000" {
		t.Errorf("requirements: %+v", pr.Body)
	}
}

func TestInvoke_payerRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newClient(t, client.WithPayer(func(_ context.Context, req client.PaymentRequired) (string, error) {
		calls.Add(1)
		if req.Accepts[0].Network != "base-sepolia" {
			return "", errors.New("unexpected network")
		}
		return validPayment, nil
	}))

	res, err := c.Invoke(context.Background(), "paid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("payer calls: %d", calls.Load())
	}
	if res.Settlement == nil || res.Settlement.Transaction != "0xtx" {
		t.Errorf("settlement: %+v", res.Settlement)
	}
}

func TestInvoke_rejectedPaymentIsNotRetriedForever(t *testing.T) {
	var calls atomic.Int32
	c, _ := newClient(t, client.WithPayer(func(context.Context, client.PaymentRequired) (string, error) {
		calls.Add(1)
		return "bogus", nil
	}))
	if _, err := c.Invoke(context.Background(), "paid", nil); !errors.Is(err, client.ErrPaymentRequired) {
		t.Errorf("expected payment required, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("payer calls: %d", calls.Load())
	}
}

func TestStream(t *testing.T) {
	c, _ := newClient(t)
	var kinds []string
	res, err := c.Stream(context.Background(), "echo", "a b", func(ev client.Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(kinds, ",") != "run-start,delta,delta,run-end" {
		t.Errorf("kinds: %v", kinds)
	}
	if res.RunID != "r3" || string(res.Output) != `"a b"` {
		t.Errorf("result: %+v", res)
	}
}

func TestStream_errorEvent(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Stream(context.Background(), "fail", nil, nil)
	var re *client.RunError
	if !errors.As(err, &re) || re.Message != "boom" || re.RunID != "r4" {
		t.Errorf("expected RunError, got %v", err)
	}
}

func TestNew_requiresBase(t *testing.T) {
	if _, err := client.New(""); err == nil {
		t.Error("expected error for empty base URL")
	}
}
