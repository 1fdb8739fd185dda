// Package agentcard defines the agent card (discovery manifest) served by an agentkit service.
//
// Every agentkit service serves its card at both conventional locations:
//
//	https://[host]/.well-known/agent.json
//	https://[host]/.well-known/agent-card.json
//
// The card is a plain JSON value: it holds no functions and survives a
// marshal/unmarshal round trip unchanged.
package agentcard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WellKnownPaths lists the paths the card is served at, in preference order.
var WellKnownPaths = []string{
	"/.well-known/agent.json",
	"/.well-known/agent-card.json",
}

// AgentCard is the JSON structure served at /.well-known/agent.json.
type AgentCard struct {
	Name         string                    `json:"name"`
	Description  string                    `json:"description,omitempty"`
	URL          string                    `json:"url"`
	Version      string                    `json:"version"`
	Capabilities Capabilities              `json:"capabilities"`
	Entrypoints  map[string]EntrypointCard `json:"entrypoints"`
	Skills       []Skill                   `json:"skills"`

	DefaultInputModes  []string `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string `json:"defaultOutputModes,omitempty"`

	// Payments is present only when payments are configured.
	Payments []PaymentMethod `json:"payments,omitempty"`

	// ERC-8004 trust metadata, attached only when configured.
	Registrations          []Registration `json:"registrations,omitempty"`
	TrustModels            []string       `json:"trustModels,omitempty"`
	ValidationRequestsURI  string         `json:"ValidationRequestsURI,omitempty"`
	ValidationResponsesURI string         `json:"ValidationResponsesURI,omitempty"`
	FeedbackDataURI        string         `json:"FeedbackDataURI,omitempty"`

	// Endorsement is an RS256 JWT over the card digest. Verifiers fetch the
	// signing key from /.well-known/jwks.json.
	Endorsement string `json:"endorsement,omitempty"`
}

// Capabilities describes the protocol features the agent supports.
type Capabilities struct {
	Streaming              bool        `json:"streaming"`
	PushNotifications      bool        `json:"pushNotifications"`
	StateTransitionHistory bool        `json:"stateTransitionHistory"`
	Extensions             []Extension `json:"extensions,omitempty"`
}

// Extension declares a URI-identified protocol extension.
type Extension struct {
	URI         string         `json:"uri"`
	Description string         `json:"description,omitempty"`
	Required    *bool          `json:"required,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// EntrypointCard describes one callable entrypoint.
type EntrypointCard struct {
	Description  string         `json:"description,omitempty"`
	Streaming    bool           `json:"streaming"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	// Pricing is omitted entirely for unpriced entrypoints.
	Pricing *Pricing `json:"pricing,omitempty"`
}

// Pricing carries the resolved per-kind price strings.
type Pricing struct {
	Invoke string `json:"invoke,omitempty"`
	Stream string `json:"stream,omitempty"`
}

// Skill is the A2A skill derived from an entrypoint.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// PaymentMethod advertises how the agent gets paid.
type PaymentMethod struct {
	Method     string         `json:"method"`
	Payee      string         `json:"payee"`
	Network    string         `json:"network"`
	Endpoint   string         `json:"endpoint,omitempty"`
	PriceModel *PriceModel    `json:"priceModel,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// PriceModel holds the default price applied to entrypoints without their own.
type PriceModel struct {
	Default string `json:"default,omitempty"`
}

// Registration is an ERC-8004 identity registration record.
// AgentAddress is CAIP-10 encoded, e.g. "eip155:84532:0xabc...".
type Registration struct {
	AgentID       uint64 `json:"agentId" mapstructure:"agent_id"`
	AgentAddress  string `json:"agentAddress" mapstructure:"agent_address"`
	AgentRegistry string `json:"agentRegistry,omitempty" mapstructure:"agent_registry"`
	Signature     string `json:"signature,omitempty" mapstructure:"signature"`
}

// Parse decodes an AgentCard from JSON bytes.
func Parse(data []byte) (*AgentCard, error) {
	var card AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// Validate checks required fields of an AgentCard.
func (c *AgentCard) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent card: name is required")
	}
	if c.URL == "" {
		return fmt.Errorf("agent card: url is required")
	}
	seen := make(map[string]bool, len(c.Capabilities.Extensions))
	for i, ext := range c.Capabilities.Extensions {
		if ext.URI == "" {
			return fmt.Errorf("agent card: capabilities.extensions[%d].uri is required", i)
		}
		if seen[ext.URI] {
			return fmt.Errorf("agent card: duplicate extension %q", ext.URI)
		}
		seen[ext.URI] = true
	}
	for i, p := range c.Payments {
		if p.Method == "" || p.Payee == "" || p.Network == "" {
			return fmt.Errorf("agent card: payments[%d] requires method, payee and network", i)
		}
	}
	return nil
}

// Extension returns the extension with the given URI, if present.
func (c *AgentCard) Extension(uri string) (Extension, bool) {
	for _, ext := range c.Capabilities.Extensions {
		if ext.URI == uri {
			return ext, true
		}
	}
	return Extension{}, false
}

// Fetch retrieves and parses the agent card served by baseURL.
// Each well-known path is tried in order; the first 200 response wins.
func Fetch(ctx context.Context, hc *http.Client, baseURL string) (*AgentCard, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(baseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid agent url %q: %w", baseURL, err)
	}

	var lastErr error
	for _, p := range WellKnownPaths {
		card, err := fetchOne(ctx, hc, base+p)
		if err == nil {
			return card, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func fetchOne(ctx context.Context, hc *http.Client, target string) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch %s returned HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("read agent card body: %w", err)
	}
	return Parse(body)
}
