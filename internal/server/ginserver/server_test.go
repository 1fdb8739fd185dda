package ginserver_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/server/ginserver"
	"github.com/jmerrifield20/agentkit/internal/server/servertest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, d servertest.Deps) http.Handler {
	t.Helper()
	return ginserver.New(d.Agent, ginserver.Options{
		Version:      servertest.Version,
		CORSOrigins:  d.CORSOrigins,
		RateLimitRPS: d.RateLimitRPS,
		Done:         d.Done,
		Paywall:      d.Paywall,
		Ledger:       d.Ledger,
		Endorser:     d.Endorser,
	}, zap.NewNop())
}

func TestConformance(t *testing.T) {
	servertest.Run(t, newRouter)
}

func TestMetrics(t *testing.T) {
	h := newRouter(t, servertest.NewDeps(t))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"agent_requests_total", "agent_paid_routes"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	r := gin.New()
	r.Use(ginserver.RateLimiter(1, 2, done))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes: %v", codes)
	}

	// Other clients have their own bucket.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("second client: %d", w.Code)
	}
}
