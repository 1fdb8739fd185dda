// Package paywall enforces x402 payments in front of entrypoint routes.
//
// The Engine is built from the route descriptor table and the payee and
// facilitator of the payments configuration. Gin and net/http adapters wrap
// the same engine.
package paywall

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// X402Version is the protocol version spoken on the wire.
const X402Version = 1

// Header names.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// SchemeExact is the only payment scheme the engine requests.
const SchemeExact = "exact"

var (
	// ErrMalformedHeader is returned for an X-PAYMENT value that cannot be decoded.
	ErrMalformedHeader = errors.New("malformed payment header")
	// ErrFacilitatorUnavailable wraps transport failures talking to the facilitator.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")
	// ErrFacilitatorRejected is returned when the facilitator answers with a non-200 status.
	ErrFacilitatorRejected = errors.New("facilitator rejected request")
)

// PaymentRequirements is one acceptable way to pay for a resource.
type PaymentRequirements struct {
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

// PaymentRequired is the 402 response body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the decoded X-PAYMENT header. The scheme specific
// payload is passed to the facilitator untouched.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to /settle. It is echoed to the
// client in the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// EncodePayment encodes p as an X-PAYMENT header value.
func EncodePayment(p PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment decodes an X-PAYMENT header value.
func DecodePayment(header string) (PaymentPayload, error) {
	var p PaymentPayload
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if p.X402Version != X402Version {
		return p, fmt.Errorf("%w: unsupported x402 version %d", ErrMalformedHeader, p.X402Version)
	}
	return p, nil
}

// EncodeSettlement encodes s as an X-PAYMENT-RESPONSE header value.
func EncodeSettlement(s SettleResponse) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement decodes an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(header string) (SettleResponse, error) {
	var s SettleResponse
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return s, fmt.Errorf("decode settlement: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode settlement: %w", err)
	}
	return s, nil
}
