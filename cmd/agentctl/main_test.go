package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/pkg/client"
)

func TestParseInput(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{"", nil},
		{"  ", nil},
		{"hello", "hello"},
		{`"quoted"`, "quoted"},
		{"42", float64(42)},
		{`{"text":"hi"}`, map[string]any{"text": "hi"}},
	}
	for _, tc := range cases {
		got := parseInput(tc.in)
		if m, ok := tc.want.(map[string]any); ok {
			gm, ok := got.(map[string]any)
			if !ok || gm["text"] != m["text"] {
				t.Errorf("parseInput(%q) = %#v", tc.in, got)
			}
			continue
		}
		if got != tc.want {
			t.Errorf("parseInput(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestPrintValue_yamlKeepsOrderAndNames(t *testing.T) {
	v := struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alphaKey"`
		Num   string `json:"num"`
	}{"z", "a", "10"}

	var buf bytes.Buffer
	if err := printValue(&buf, "yaml", v); err != nil {
		t.Fatal(err)
	}
	want := "zeta: z\nalphaKey: a\nnum: \"10\"\n"
	if buf.String() != want {
		t.Errorf("yaml output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestPrintValue_unknownFormat(t *testing.T) {
	if err := printValue(&bytes.Buffer{}, "xml", 1); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestExplain_paymentRequired(t *testing.T) {
	err := explain(&client.PaymentRequiredError{Body: client.PaymentRequired{
		Accepts: []client.PaymentRequirement{{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "10000", PayTo: "0xabc"}},
	}})
	if !strings.Contains(err.Error(), "10000") || !strings.Contains(err.Error(), "--payment") {
		t.Errorf("explain: %v", err)
	}

	plain := errors.New("boom")
	if explain(plain) != plain {
		t.Error("non-payment errors must pass through")
	}
}

func TestProcessRoutes(t *testing.T) {
	t.Cleanup(agent.ResetProcessConfig)

	agent.ResetProcessConfig()
	if _, err := processRoutes(nil); err == nil {
		t.Error("expected error without a process configuration")
	}

	agent.SetProcessConfig(agent.Config{
		BasePath: "/api",
		Payments: &payments.Config{
			PayTo:          "0x1234567890123456789012345678901234567890",
			FacilitatorURL: "https://facilitator.example.com",
			Network:        "base-sepolia",
			DefaultPrice:   "$0.01",
		},
	})
	defs := []entrypoint.Def{{
		Key: "echo",
		Handler: func(context.Context, entrypoint.Request) (*entrypoint.Result, error) {
			return &entrypoint.Result{}, nil
		},
	}}
	table, err := processRoutes(defs)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printRoutes(&buf, table); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "POST /api/entrypoints/echo/invoke") {
		t.Errorf("routes output:\n%s", buf.String())
	}
}
