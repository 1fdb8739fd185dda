package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP.
type limiterSet struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

func (s *limiterSet) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	l, ok := s.clients[ip]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.clients[ip] = l
	}
	l.lastSeen = now
	s.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, l := range s.clients {
		if now.Sub(l.lastSeen) > limiterIdleTTL {
			delete(s.clients, ip)
		}
	}
}

// RateLimit returns middleware that enforces per-IP token-bucket rate
// limiting keyed on the request's remote address. Rejected requests get 429
// with Retry-After. Idle clients are forgotten after ten minutes; the
// sweeper stops when done is closed.
func RateLimit(rps, burst int, done <-chan struct{}) func(http.Handler) http.Handler {
	set := &limiterSet{rps: rate.Limit(rps), burst: burst, clients: make(map[string]*clientLimiter)}

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				set.sweep(now)
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(remoteIP(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				WriteJSON(w, http.StatusTooManyRequests, ErrorBody{
					Error: "rate limit exceeded",
					Code:  CodeRateLimited,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
