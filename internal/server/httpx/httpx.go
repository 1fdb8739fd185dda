// Package httpx holds the request decoding, error mapping and event-stream
// framing shared by the gin and chi adapters.
package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/health"
	"github.com/jmerrifield20/agentkit/internal/schema"
)

// MaxBodyBytes caps entrypoint request bodies.
const MaxBodyBytes = 1 << 20

// ErrBadBody is returned by DecodeInput for a body that is not a JSON object.
var ErrBadBody = errors.New("request body must be a JSON object")

// Error codes used in ErrorBody.Code.
const (
	CodeInvalidBody       = "invalid_body"
	CodeInvalidInput      = "invalid_input"
	CodeNotFound          = "not_found"
	CodeStreamUnsupported = "stream_unsupported"
	CodeInternal          = "internal_error"
	CodeRateLimited       = "rate_limited"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error  string         `json:"error"`
	Code   string         `json:"code"`
	Issues []schema.Issue `json:"issues,omitempty"`
}

// InvokeRequest is the body of invoke and stream calls.
type InvokeRequest struct {
	Input any `json:"input"`
}

// Health is the body of GET /health.
type Health struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	// Checks reports dependency probes; a degraded dependency does not
	// clear OK.
	Checks map[string]health.Status `json:"checks,omitempty"`
}

// HealthOf builds the /health body. checker may be nil.
func HealthOf(version string, checker *health.Checker) Health {
	h := Health{OK: true, Version: version}
	if checker != nil {
		h.Checks = checker.Snapshot()
	}
	return h
}

// DecodeInput reads an InvokeRequest from r and returns its input. An empty
// body yields a nil input.
func DecodeInput(r io.Reader) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var req InvokeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	return req.Input, nil
}

// StatusFor maps an error from decoding or running an entrypoint to an HTTP
// status and response body. Internal error details are not exposed.
func StatusFor(err error) (int, ErrorBody) {
	var ve *schema.ValidationError
	switch {
	case errors.Is(err, ErrBadBody):
		return http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeInvalidBody}
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrorBody{Error: "input does not match the entrypoint schema", Code: CodeInvalidInput, Issues: ve.Issues}
	case errors.Is(err, entrypoint.ErrInvalidInput):
		return http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeInvalidInput}
	case errors.Is(err, agent.ErrUnknownEntrypoint):
		return http.StatusNotFound, ErrorBody{Error: err.Error(), Code: CodeNotFound}
	case errors.Is(err, agent.ErrStreamUnsupported):
		return http.StatusNotFound, ErrorBody{Error: err.Error(), Code: CodeStreamUnsupported}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: "entrypoint failed", Code: CodeInternal}
	}
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the mapped response for err.
func WriteError(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	WriteJSON(w, status, body)
}

// Origin returns the externally visible origin of the agent: publicURL when
// set, otherwise the request scheme and host.
func Origin(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}
