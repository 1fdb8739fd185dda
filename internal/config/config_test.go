package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/config"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/payments"
)

const sample = `
agent:
  name: echo-agent
  version: 0.2.0
  description: Echoes things
server:
  port: 9090
  adapter: chi
  base_path: /api/agent
  cors_origins: ["https://app.example.com"]
payments:
  pay_to: "0x1234567890abcdef1234567890abcdef12345678"
  facilitator_url: https://facilitator.example.com
  network: base-sepolia
  default_price: "$0.01"
ap2:
  roles: [merchant]
  required: true
trust:
  trust_models: [feedback]
  registrations:
    - agent_id: 7
      agent_address: "eip155:84532:0xabc"
identity:
  endorse: true
  ttl: 2h
ledger:
  driver: none
entrypoints:
  - key: echo
    description: Echo the input
    handler: echo
    price: "1000"
    input_schema:
      type: object
      required: [text]
      properties:
        text:
          type: string
  - key: count
    handler: count
    stream: true
    price:
      invoke: "$0.001"
      stream: 0.002
  - key: free
    handler: upper
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FACILITATOR_URL", "PAYMENTS_RECEIVABLE_ADDRESS", "NETWORK", "DEFAULT_PRICE"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_file(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(writeConfig(t, sample), zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Agent.Name != "echo-agent" || cfg.Agent.Version != "0.2.0" {
		t.Errorf("agent: %+v", cfg.Agent)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Adapter != config.AdapterChi || cfg.Server.BasePath != "/api/agent" {
		t.Errorf("server: %+v", cfg.Server)
	}
	if cfg.Server.RateLimitRPS != 20 {
		t.Errorf("rate limit default: %d", cfg.Server.RateLimitRPS)
	}
	if cfg.Identity.TTL != 2*time.Hour || !cfg.Identity.Endorse {
		t.Errorf("identity: %+v", cfg.Identity)
	}
	if cfg.Ledger.Driver != config.LedgerNone {
		t.Errorf("ledger: %+v", cfg.Ledger)
	}
	if cfg.AP2 == nil || len(cfg.AP2.Roles) != 1 || cfg.AP2.Required == nil || !*cfg.AP2.Required {
		t.Errorf("ap2: %+v", cfg.AP2)
	}
	if cfg.Trust == nil || len(cfg.Trust.Registrations) != 1 || cfg.Trust.Registrations[0].AgentID != 7 {
		t.Errorf("trust: %+v", cfg.Trust)
	}

	p := cfg.PaymentsConfig()
	if p == nil || p.Network != "base-sepolia" || p.DefaultPrice != "$0.01" {
		t.Fatalf("payments: %+v", p)
	}
	if err := payments.Validate(p, p.Network, ""); err != nil {
		t.Errorf("loaded payments config invalid: %v", err)
	}

	if len(cfg.Entrypoints) != 3 {
		t.Fatalf("entrypoints: %d", len(cfg.Entrypoints))
	}
	echo := cfg.Entrypoints[0]
	if echo.InputSchema["type"] != "object" {
		t.Errorf("input schema: %v", echo.InputSchema)
	}
	price, err := echo.ParsePrice()
	if err != nil || price != entrypoint.FlatPrice("1000") {
		t.Errorf("echo price: %v %v", price, err)
	}

	count := cfg.Entrypoints[1]
	price, err = count.ParsePrice()
	if err != nil {
		t.Fatal(err)
	}
	if pk, ok := price.(entrypoint.PerKindPrice); !ok || pk.Invoke != "$0.001" || pk.Stream != "0.002" {
		t.Errorf("count price: %#v", price)
	}
	if !count.Stream {
		t.Error("count should stream")
	}

	if price, _ := cfg.Entrypoints[2].ParsePrice(); price != nil {
		t.Errorf("free price: %#v", price)
	}

	ac := cfg.AgentConfig()
	if ac.Meta.Name != "echo-agent" || ac.Payments == nil || ac.BasePath != "/api/agent" {
		t.Errorf("agent config: %+v", ac)
	}
}

func TestLoad_defaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("", zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Adapter != config.AdapterGin {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Agent.Version != "1.0.0" {
		t.Errorf("version default: %q", cfg.Agent.Version)
	}
	if cfg.PaymentsConfig() != nil {
		t.Errorf("payments should be disabled: %+v", cfg.Payments)
	}
	if cfg.AP2 != nil || cfg.Trust != nil {
		t.Error("ap2 and trust should be absent")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACILITATOR_URL", "https://env-facilitator.example.com")
	t.Setenv("PAYMENTS_RECEIVABLE_ADDRESS", "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	t.Setenv("NETWORK", "base")
	t.Setenv("AGENT_SERVER_PORT", "7000")

	cfg, err := config.Load(writeConfig(t, "agent:\n  name: env-agent\n"), zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.PaymentsConfig()
	if p == nil || p.FacilitatorURL != "https://env-facilitator.example.com" || p.Network != "base" {
		t.Errorf("payments from env: %+v", p)
	}
	if p != nil && p.PayTo != "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd" {
		t.Errorf("pay to: %q", p.PayTo)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port: %d", cfg.Server.Port)
	}
}

func TestLoad_rejects(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		body string
	}{
		{"unknown adapter", "server:\n  adapter: echo\n"},
		{"unknown ledger", "ledger:\n  driver: sqlite\n"},
		{"missing key", "entrypoints:\n  - handler: echo\n"},
		{"missing handler", "entrypoints:\n  - key: a\n"},
		{"bad price kind", "entrypoints:\n  - key: a\n    handler: echo\n    price:\n      batch: \"1\"\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body), zap.NewNop())
			if !errors.Is(err, payments.ErrInvalidConfig) {
				t.Errorf("expected invalid config, got %v", err)
			}
		})
	}

	_, err := config.Load(writeConfig(t, "entrypoints:\n  - {key: a, handler: echo}\n  - {key: a, handler: upper}\n"), zap.NewNop())
	if !errors.Is(err, entrypoint.ErrDuplicateKey) {
		t.Errorf("duplicate: got %v", err)
	}
}

func TestLoad_missingExplicitFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop()); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}
