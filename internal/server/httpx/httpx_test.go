package httpx_test

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/health"
	"github.com/jmerrifield20/agentkit/internal/schema"
	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

func TestDecodeInput(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    any
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"whitespace", "  \n", nil, false},
		{"string", `{"input":"hi"}`, "hi", false},
		{"missing input", `{}`, nil, false},
		{"not json", `nope`, nil, true},
		{"array", `[1]`, nil, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := httpx.DecodeInput(strings.NewReader(tc.body))
			if tc.wantErr {
				if !errors.Is(err, httpx.ErrBadBody) {
					t.Fatalf("expected ErrBadBody, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("decode: %w", httpx.ErrBadBody), http.StatusBadRequest, httpx.CodeInvalidBody},
		{&schema.ValidationError{Issues: []schema.Issue{{Path: "/text", Message: "bad"}}}, http.StatusBadRequest, httpx.CodeInvalidInput},
		{fmt.Errorf("entrypoint %q: %w", "x", entrypoint.ErrInvalidInput), http.StatusBadRequest, httpx.CodeInvalidInput},
		{fmt.Errorf("%w: %q", agent.ErrUnknownEntrypoint, "x"), http.StatusNotFound, httpx.CodeNotFound},
		{fmt.Errorf("%w: %q", agent.ErrStreamUnsupported, "x"), http.StatusNotFound, httpx.CodeStreamUnsupported},
		{errors.New("db password leaked"), http.StatusInternalServerError, httpx.CodeInternal},
	}
	for _, tc := range cases {
		status, body := httpx.StatusFor(tc.err)
		if status != tc.status || body.Code != tc.code {
			t.Errorf("%v: got (%d, %s), want (%d, %s)", tc.err, status, body.Code, tc.status, tc.code)
		}
		if status == http.StatusInternalServerError && strings.Contains(body.Error, "password") {
			t.Errorf("internal error leaked: %q", body.Error)
		}
	}
}

func TestOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	r.Host = "agent.local:8080"
	if got := httpx.Origin(r, ""); got != "http://agent.local:8080" {
		t.Errorf("plain: %q", got)
	}
	if got := httpx.Origin(r, "https://agent.example.com/"); got != "https://agent.example.com" {
		t.Errorf("public url: %q", got)
	}

	r.TLS = &tls.ConnectionState{}
	if got := httpx.Origin(r, ""); got != "https://agent.local:8080" {
		t.Errorf("tls: %q", got)
	}

	r.TLS = nil
	r.Header.Set("X-Forwarded-Proto", "https, http")
	r.Header.Set("X-Forwarded-Host", "public.example.com")
	if got := httpx.Origin(r, ""); got != "https://public.example.com" {
		t.Errorf("forwarded: %q", got)
	}
}

func TestEventStream(t *testing.T) {
	w := httptest.NewRecorder()
	s, err := httpx.NewEventStream(w)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(entrypoint.Event{Kind: entrypoint.EventDelta, Data: map[string]any{"n": 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(entrypoint.Event{Kind: entrypoint.EventDelta, Data: "a\nb"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(entrypoint.Event{Kind: entrypoint.EventRunEnd}); err != nil {
		t.Fatal(err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %q", ct)
	}
	want := "event:delta\ndata:{\"n\":1}\n\n" +
		"event:delta\ndata:\"a\\nb\"\n\n" +
		"event:run-end\ndata:null\n\n"
	if w.Body.String() != want {
		t.Errorf("body:\n%q\nwant:\n%q", w.Body.String(), want)
	}
	if !w.Flushed {
		t.Error("events not flushed")
	}
}

type brokenWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (w *brokenWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("connection reset")
}

func TestEventStream_closesAfterWriteError(t *testing.T) {
	w := &brokenWriter{ResponseRecorder: httptest.NewRecorder()}
	s, err := httpx.NewEventStream(w)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(entrypoint.Event{Kind: entrypoint.EventDelta, Data: "x"}); err == nil {
		t.Fatal("expected write error")
	}
	if err := s.Emit(entrypoint.Event{Kind: entrypoint.EventDelta, Data: "y"}); !errors.Is(err, httpx.ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
	if w.writes != 1 {
		t.Errorf("writes after close: %d", w.writes)
	}
}

func TestLazyEventStream(t *testing.T) {
	w := httptest.NewRecorder()
	s := httpx.NewLazyEventStream(w)
	if s.Started() {
		t.Fatal("started before first event")
	}
	httpx.WriteError(w, fmt.Errorf("%w: %q", agent.ErrUnknownEntrypoint, "x"))
	if w.Code != http.StatusNotFound {
		t.Errorf("error before stream: %d", w.Code)
	}

	w = httptest.NewRecorder()
	s = httpx.NewLazyEventStream(w)
	if err := s.Emit(entrypoint.Event{Kind: entrypoint.EventRunStart}); err != nil {
		t.Fatal(err)
	}
	if !s.Started() || w.Code != http.StatusOK || w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("stream not opened: started=%v code=%d", s.Started(), w.Code)
	}
}

func TestHealthOf(t *testing.T) {
	if h := httpx.HealthOf("1.0.0", nil); !h.OK || h.Version != "1.0.0" || h.Checks != nil {
		t.Errorf("without checker: %+v", h)
	}

	checker := health.New([]health.Target{
		{Name: "facilitator", Probe: func(context.Context) error { return errors.New("down") }},
	}, health.Config{FailThreshold: 1}, nil)
	checker.CheckAll(context.Background())

	h := httpx.HealthOf("1.0.0", checker)
	if !h.OK {
		t.Error("a degraded dependency must not clear OK")
	}
	if h.Checks["facilitator"] != health.StatusDegraded {
		t.Errorf("checks: %v", h.Checks)
	}
}

func TestRateLimit(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	h := httpx.RateLimit(1, 2, done)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	send := func(addr string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(w, req)
		return w
	}

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = send("10.0.0.1:1234")
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes: %v", codes)
	}
	if last.Header().Get("Retry-After") != "1" || !strings.Contains(last.Body.String(), httpx.CodeRateLimited) {
		t.Errorf("rejection: %v %s", last.Header(), last.Body.String())
	}

	// The port is not part of the key.
	if w := send("10.0.0.1:9999"); w.Code != http.StatusTooManyRequests {
		t.Errorf("same ip, new port: %d", w.Code)
	}
	if w := send("10.0.0.2:1234"); w.Code != http.StatusNoContent {
		t.Errorf("second client: %d", w.Code)
	}
}
