// Package payments resolves per-entrypoint prices and validates x402 payment
// configuration against the supported network catalog.
package payments

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
)

var (
	// ErrUnsupportedNetwork is matched by *UnsupportedNetworkError.
	ErrUnsupportedNetwork = errors.New("unsupported payment network")
	// ErrInvalidConfig is matched by *InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the process-wide x402 payments configuration. Entrypoints may
// override Network and the price; PayTo and FacilitatorURL are always global.
type Config struct {
	PayTo          string `json:"payTo" mapstructure:"pay_to"`
	FacilitatorURL string `json:"facilitatorUrl" mapstructure:"facilitator_url"`
	Network        string `json:"network" mapstructure:"network"`
	DefaultPrice   string `json:"defaultPrice,omitempty" mapstructure:"default_price"`
}

// Clone returns a copy of c, or nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// UnsupportedNetworkError is returned when a network is not in the supported
// set for the configured payment scheme family.
type UnsupportedNetworkError struct {
	Network    string
	Entrypoint string
}

func (e *UnsupportedNetworkError) Error() string {
	return "Unsupported payment network: " + e.Network
}

func (e *UnsupportedNetworkError) Is(target error) bool { return target == ErrUnsupportedNetwork }

// InvalidConfigError reports a malformed payments, AP2 or manifest
// configuration.
type InvalidConfigError struct {
	Field string
	Msg   string
}

func (e *InvalidConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Msg
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Msg)
}

func (e *InvalidConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// ResolvePrice returns the price for calling def with kind.
//
// A FlatPrice applies to both kinds. A PerKindPrice uses the field for kind
// and falls back to cfg.DefaultPrice. With no entrypoint price the default
// applies. When nothing resolves the call is free and ok is false.
func ResolvePrice(def entrypoint.Def, cfg *Config, kind entrypoint.Kind) (price string, ok bool) {
	if p, ok := entrypoint.PriceFor(def.Price, kind); ok {
		return p, true
	}
	if cfg != nil && cfg.DefaultPrice != "" {
		return cfg.DefaultPrice, true
	}
	return "", false
}

// ResolveNetwork returns the entrypoint's network override or the configured
// network.
func ResolveNetwork(def entrypoint.Def, cfg *Config) string {
	if def.Network != "" {
		return def.Network
	}
	if cfg == nil {
		return ""
	}
	return cfg.Network
}
