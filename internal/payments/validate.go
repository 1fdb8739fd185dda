package payments

import (
	"fmt"
	"math/big"
	"strings"
)

// Validate checks cfg and the network resolved for one entrypoint.
//
// It runs for every entrypoint and kind before any route descriptor is
// emitted, including calls that resolve to free, so a misconfigured network is
// reported even when no price applies. An empty network is not checked; the
// caller skips the descriptor instead.
func Validate(cfg *Config, network, entrypointKey string) error {
	if cfg == nil {
		return &InvalidConfigError{Field: "payments", Msg: fmt.Sprintf("not configured for entrypoint %q", entrypointKey)}
	}
	if strings.TrimSpace(cfg.PayTo) == "" {
		return &InvalidConfigError{Field: "payments.payTo", Msg: fmt.Sprintf("required for entrypoint %q", entrypointKey)}
	}
	if strings.TrimSpace(cfg.FacilitatorURL) == "" {
		return &InvalidConfigError{Field: "payments.facilitatorUrl", Msg: fmt.Sprintf("required for entrypoint %q", entrypointKey)}
	}
	if network == "" {
		return nil
	}
	if !supported(FamilyOf(cfg.PayTo), network) {
		return &UnsupportedNetworkError{Network: network, Entrypoint: entrypointKey}
	}
	return nil
}

// ToAtomicUnits converts a configured price to the integer amount of the
// asset's smallest unit. Integer strings are already atomic. Prices starting
// with "$" or containing a decimal point are USD amounts scaled by decimals.
func ToAtomicUnits(price string, decimals int) (string, error) {
	p := strings.TrimSpace(price)
	if p == "" {
		return "", fmt.Errorf("price cannot be empty")
	}

	usd := strings.HasPrefix(p, "$")
	p = strings.TrimPrefix(p, "$")
	if !usd && !strings.Contains(p, ".") {
		amt, ok := new(big.Int).SetString(p, 10)
		if !ok {
			return "", fmt.Errorf("invalid price format: %s", price)
		}
		if amt.Sign() < 0 {
			return "", fmt.Errorf("price cannot be negative, got: %s", price)
		}
		return amt.String(), nil
	}

	whole, frac, _ := strings.Cut(p, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return "", fmt.Errorf("price %s has more than %d decimal places", price, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	amt, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return "", fmt.Errorf("invalid price format: %s", price)
	}
	if amt.Sign() < 0 {
		return "", fmt.Errorf("price cannot be negative, got: %s", price)
	}
	return amt.String(), nil
}
