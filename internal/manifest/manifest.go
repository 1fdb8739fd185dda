// Package manifest assembles the agent card served at the well-known
// discovery paths from the registered entrypoints and the agent's payment,
// AP2 and trust configuration.
package manifest

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/schema"
	"github.com/jmerrifield20/agentkit/pkg/agentcard"
)

// DefaultVersion is advertised when Meta.Version is empty.
const DefaultVersion = "1.0.0"

// PaymentMethodX402 is the only payment method the agent advertises.
const PaymentMethodX402 = "x402"

var (
	inputModes  = []string{"application/json"}
	outputModes = []string{"application/json", "text/plain"}
)

// Meta is the descriptive part of the card.
type Meta struct {
	Name        string `json:"name" mapstructure:"name"`
	Version     string `json:"version" mapstructure:"version"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// TrustConfig is the ERC-8004 identity and reputation metadata copied into
// the card.
type TrustConfig struct {
	Registrations          []agentcard.Registration `mapstructure:"registrations"`
	TrustModels            []string                 `mapstructure:"trust_models"`
	ValidationRequestsURI  string                   `mapstructure:"validation_requests_uri"`
	ValidationResponsesURI string                   `mapstructure:"validation_responses_uri"`
	FeedbackDataURI        string                   `mapstructure:"feedback_data_uri"`
}

// Options are the inputs of Build. Build reads them and never writes to them.
type Options struct {
	Meta        Meta
	Entrypoints []entrypoint.Def
	// Origin is the externally visible base URL of the agent.
	Origin   string
	Payments *payments.Config
	// AP2 overrides the default AP2 extension. When nil and Payments is set,
	// the agent advertises itself as a required merchant.
	AP2   *AP2Config
	Trust *TrustConfig
}

// Build returns a freshly constructed agent card.
//
// Payment details are copied verbatim; network validation happens when the
// route table is built, not here.
func Build(opts Options) (*agentcard.AgentCard, error) {
	version, err := checkMeta(opts.Meta)
	if err != nil {
		return nil, err
	}

	card := &agentcard.AgentCard{
		Name:               opts.Meta.Name,
		Description:        opts.Meta.Description,
		URL:                normalizeOrigin(opts.Origin),
		Version:            version,
		Entrypoints:        make(map[string]agentcard.EntrypointCard, len(opts.Entrypoints)),
		Skills:             make([]agentcard.Skill, 0, len(opts.Entrypoints)),
		DefaultInputModes:  append([]string(nil), inputModes...),
		DefaultOutputModes: append([]string(nil), outputModes...),
	}

	for _, def := range opts.Entrypoints {
		if def.Streams() {
			card.Capabilities.Streaming = true
		}
		card.Entrypoints[def.Key] = entrypointCard(def, opts.Payments)
		card.Skills = append(card.Skills, agentcard.Skill{
			ID:          def.Key,
			Name:        def.Key,
			Description: def.Description,
			Tags:        cloneStrings(def.Tags),
			InputModes:  append([]string(nil), inputModes...),
			OutputModes: append([]string(nil), outputModes...),
		})
	}

	if ap2 := resolveAP2(opts.AP2, opts.Payments); ap2 != nil {
		ext, err := AP2Extension(*ap2)
		if err != nil {
			return nil, err
		}
		card.Capabilities = agentcard.UpsertExtension(card.Capabilities, ext)
	}

	if p := opts.Payments; p != nil {
		card.Payments = []agentcard.PaymentMethod{paymentMethod(p)}
	}

	applyTrust(card, opts.Trust)
	return card, nil
}

func checkMeta(m Meta) (string, error) {
	if strings.TrimSpace(m.Name) == "" {
		return "", &payments.InvalidConfigError{Field: "agent.name", Msg: "required"}
	}
	if m.Version == "" {
		return DefaultVersion, nil
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return "", &payments.InvalidConfigError{Field: "agent.version", Msg: err.Error()}
	}
	return m.Version, nil
}

func normalizeOrigin(origin string) string {
	if strings.HasSuffix(origin, "/") {
		return origin
	}
	return origin + "/"
}

func entrypointCard(def entrypoint.Def, cfg *payments.Config) agentcard.EntrypointCard {
	ec := agentcard.EntrypointCard{
		Description:  def.Description,
		Streaming:    def.Streams(),
		InputSchema:  schema.ToJSONSchema(def.Input),
		OutputSchema: schema.ToJSONSchema(def.Output),
	}

	var pricing agentcard.Pricing
	invoke, hasInvoke := payments.ResolvePrice(def, cfg, entrypoint.KindInvoke)
	if hasInvoke {
		pricing.Invoke = invoke
	}
	hasStream := false
	if def.Streams() {
		var stream string
		stream, hasStream = payments.ResolvePrice(def, cfg, entrypoint.KindStream)
		pricing.Stream = stream
	}
	if hasInvoke || hasStream {
		ec.Pricing = &pricing
	}
	return ec
}

func paymentMethod(p *payments.Config) agentcard.PaymentMethod {
	pm := agentcard.PaymentMethod{
		Method:   PaymentMethodX402,
		Payee:    p.PayTo,
		Network:  p.Network,
		Endpoint: p.FacilitatorURL,
		Extensions: map[string]any{
			PaymentMethodX402: map[string]any{"facilitatorUrl": p.FacilitatorURL},
		},
	}
	if p.DefaultPrice != "" {
		pm.PriceModel = &agentcard.PriceModel{Default: p.DefaultPrice}
	}
	return pm
}

func applyTrust(card *agentcard.AgentCard, t *TrustConfig) {
	if t == nil {
		return
	}
	if len(t.Registrations) > 0 {
		card.Registrations = append([]agentcard.Registration(nil), t.Registrations...)
	}
	if models := dedupe(t.TrustModels); len(models) > 0 {
		card.TrustModels = models
	}
	card.ValidationRequestsURI = t.ValidationRequestsURI
	card.ValidationResponsesURI = t.ValidationResponsesURI
	card.FeedbackDataURI = t.FeedbackDataURI
}

// dedupe drops empty and repeated values, keeping first-seen order.
func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
