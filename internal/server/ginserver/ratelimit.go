package ginserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

// RateLimiter adapts httpx.RateLimit to Gin. A rejected request is aborted
// after the limiter has written the 429.
func RateLimiter(rps, burst int, done <-chan struct{}) gin.HandlerFunc {
	limit := httpx.RateLimit(rps, burst, done)
	return func(c *gin.Context) {
		passed := false
		limit(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
			return
		}
		c.Next()
	}
}
