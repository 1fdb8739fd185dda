package manifest

import (
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/pkg/agentcard"
)

// AP2ExtensionURI identifies the Agent Payments Protocol extension.
const AP2ExtensionURI = "https://github.com/google-agentic-commerce/ap2/tree/v0.1"

// RoleMerchant is the AP2 role of an agent that sells its entrypoints.
const RoleMerchant = "merchant"

// AP2Config declares the agent's AP2 roles. Required defaults to true exactly
// when the roles include merchant.
type AP2Config struct {
	Roles       []string `mapstructure:"roles"`
	Required    *bool    `mapstructure:"required"`
	Description string   `mapstructure:"description"`
}

func resolveAP2(explicit *AP2Config, p *payments.Config) *AP2Config {
	if explicit != nil {
		return explicit
	}
	if p == nil {
		return nil
	}
	required := true
	return &AP2Config{Roles: []string{RoleMerchant}, Required: &required}
}

// AP2Extension renders cfg as a card extension.
func AP2Extension(cfg AP2Config) (agentcard.Extension, error) {
	roles := dedupe(cfg.Roles)
	if len(roles) == 0 {
		return agentcard.Extension{}, &payments.InvalidConfigError{Field: "ap2.roles", Msg: "at least one role is required"}
	}

	required := false
	for _, r := range roles {
		if r == RoleMerchant {
			required = true
			break
		}
	}
	if cfg.Required != nil {
		required = *cfg.Required
	}

	desc := cfg.Description
	if desc == "" {
		desc = "Agent Payments Protocol (AP2)"
	}

	// []any keeps the params identical after a JSON round trip.
	params := make([]any, len(roles))
	for i, r := range roles {
		params[i] = r
	}
	return agentcard.Extension{
		URI:         AP2ExtensionURI,
		Description: desc,
		Required:    &required,
		Params:      map[string]any{"roles": params},
	}, nil
}

// WithAP2 returns a copy of card with the AP2 extension set from cfg. Any
// previous AP2 entry is replaced in place; other extensions are kept in order.
func WithAP2(card *agentcard.AgentCard, cfg AP2Config) (*agentcard.AgentCard, error) {
	ext, err := AP2Extension(cfg)
	if err != nil {
		return nil, err
	}
	out := card.Clone()
	if out == nil {
		out = &agentcard.AgentCard{}
	}
	out.Capabilities = agentcard.UpsertExtension(out.Capabilities, ext)
	return out, nil
}
