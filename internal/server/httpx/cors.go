package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmerrifield20/agentkit/internal/paywall"
)

// CORSMaxAge is how long browsers may cache a preflight answer.
const CORSMaxAge = 12 * time.Hour

// CORSMethods lists the methods cross-origin callers may use.
func CORSMethods() []string {
	return []string{"GET", "POST", "OPTIONS"}
}

// CORSAllowHeaders lists the request headers cross-origin callers may send.
func CORSAllowHeaders() []string {
	return []string{"Origin", "Content-Type", "Accept", paywall.HeaderPayment}
}

// CORSExposeHeaders lists the response headers browsers may read.
func CORSExposeHeaders() []string {
	return []string{"Content-Length", paywall.HeaderPaymentResponse}
}

// CORSCredentials reports whether credentials may be allowed for origins.
// Browsers refuse credentials alongside a wildcard origin.
func CORSCredentials(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return false
		}
	}
	return true
}

// SetSecurityHeaders adds the headers every response carries.
func SetSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}
