package routes_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/routes"
	"github.com/jmerrifield20/agentkit/internal/schema"
)

func noop(_ context.Context, _ entrypoint.Request) (*entrypoint.Result, error) {
	return &entrypoint.Result{}, nil
}

func noopStream(_ context.Context, _ entrypoint.Request, _ entrypoint.EmitFunc) (*entrypoint.Result, error) {
	return &entrypoint.Result{}, nil
}

func payCfg(network string) *payments.Config {
	return &payments.Config{
		PayTo:          "0x1234567890abcdef1234567890abcdef12345678",
		FacilitatorURL: "https://facilitator.example.com",
		Network:        network,
	}
}

func TestBuild_invokeFlatPrice(t *testing.T) {
	defs := []entrypoint.Def{{Key: "echo", Price: entrypoint.FlatPrice("2000"), Handler: noop}}

	table, err := routes.Build(defs, payCfg("base-sepolia"), "/api/agent", entrypoint.KindInvoke)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{
		"POST /api/agent/entrypoints/echo/invoke",
		"GET /api/agent/entrypoints/echo/invoke",
	}
	got := table.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d]: got %q, want %q", i, got[i], want[i])
		}
		d, _ := table.Get(want[i])
		if d.Price != "2000" || d.Network != "base-sepolia" {
			t.Errorf("%s: got price %q network %q", want[i], d.Price, d.Network)
		}
		if d.Config.MimeType != routes.MimeJSON {
			t.Errorf("%s: mime %q", want[i], d.Config.MimeType)
		}
		if d.Config.Description != "echo" || !d.Config.Discoverable {
			t.Errorf("%s: config %+v", want[i], d.Config)
		}
	}
}

func TestBuild_perKindPrice(t *testing.T) {
	defs := []entrypoint.Def{{
		Key:     "chat",
		Price:   entrypoint.PerKindPrice{Invoke: "1500", Stream: "3000"},
		Handler: noop,
		Stream:  noopStream,
	}}
	cfg := payCfg("base")

	stream, err := routes.Build(defs, cfg, "", entrypoint.KindStream)
	if err != nil {
		t.Fatalf("Build stream: %v", err)
	}
	post, ok := stream.Get("POST /entrypoints/chat/stream")
	if !ok {
		t.Fatalf("missing stream POST route, have %v", stream.Keys())
	}
	if post.Price != "3000" || post.Config.MimeType != routes.MimeSSE {
		t.Errorf("stream POST: price %q mime %q", post.Price, post.Config.MimeType)
	}
	if post.Config.Description != "chat (stream)" {
		t.Errorf("stream description: %q", post.Config.Description)
	}
	get, _ := stream.Get("GET /entrypoints/chat/stream")
	if get.Config.MimeType != routes.MimeJSON {
		t.Errorf("stream GET mime: %q", get.Config.MimeType)
	}

	invoke, err := routes.Build(defs, cfg, "", entrypoint.KindInvoke)
	if err != nil {
		t.Fatalf("Build invoke: %v", err)
	}
	ip, _ := invoke.Get("POST /entrypoints/chat/invoke")
	if ip.Price != "1500" || ip.Config.MimeType != routes.MimeJSON {
		t.Errorf("invoke POST: price %q mime %q", ip.Price, ip.Config.MimeType)
	}
}

func TestBuild_skipsStreamForNonStreaming(t *testing.T) {
	defs := []entrypoint.Def{
		{Key: "plain", Price: entrypoint.FlatPrice("1"), Handler: noop},
		{Key: "live", Price: entrypoint.FlatPrice("1"), Handler: noop, Stream: noopStream},
	}
	table, err := routes.Build(defs, payCfg("base"), "", entrypoint.KindStream)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range table.Keys() {
		if strings.Contains(k, "/plain/") {
			t.Errorf("stream route emitted for non-streaming entrypoint: %s", k)
		}
	}
	if table.Len() != 2 {
		t.Errorf("expected 2 routes for live, got %v", table.Keys())
	}
}

func TestBuild_freeEntrypointsAreSkippedButValidated(t *testing.T) {
	defs := []entrypoint.Def{{Key: "free", Handler: noop}}

	table, err := routes.Build(defs, payCfg("base"), "", entrypoint.KindInvoke)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 0 {
		t.Errorf("free entrypoint emitted routes: %v", table.Keys())
	}

	_, err = routes.Build(defs, payCfg("solana-mainnet"), "", entrypoint.KindInvoke)
	if !errors.Is(err, payments.ErrUnsupportedNetwork) {
		t.Fatalf("free entrypoint must still be validated, got %v", err)
	}
	if !strings.Contains(err.Error(), "solana-mainnet") {
		t.Errorf("message: %q", err.Error())
	}
}

func TestBuild_networkOverride(t *testing.T) {
	defs := []entrypoint.Def{{Key: "echo", Network: "polygon", Price: entrypoint.FlatPrice("5"), Handler: noop}}
	table, err := routes.Build(defs, payCfg("base"), "", entrypoint.KindInvoke)
	if err != nil {
		t.Fatal(err)
	}
	d, _ := table.Get("POST /entrypoints/echo/invoke")
	if d.Network != "polygon" {
		t.Errorf("network: got %q", d.Network)
	}
}

func TestBuild_defaultPrice(t *testing.T) {
	cfg := payCfg("base")
	cfg.DefaultPrice = "$0.01"
	defs := []entrypoint.Def{{Key: "echo", Handler: noop}}
	table, err := routes.Build(defs, cfg, "", entrypoint.KindInvoke)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := table.Get("GET /entrypoints/echo/invoke")
	if !ok || d.Price != "$0.01" {
		t.Errorf("default price: %+v, %v", d, ok)
	}
}

func TestBuild_nilConfig(t *testing.T) {
	defs := []entrypoint.Def{{Key: "echo", Price: entrypoint.FlatPrice("1"), Handler: noop}}
	table, err := routes.Build(defs, nil, "", entrypoint.KindInvoke)
	if err != nil || table.Len() != 0 {
		t.Errorf("nil config: len %d err %v", table.Len(), err)
	}
}

type textInput struct {
	Text string `json:"text"`
}

func TestBuild_schemas(t *testing.T) {
	defs := []entrypoint.Def{{
		Key:     "echo",
		Input:   schema.For[textInput](),
		Output:  schema.Map(map[string]any{"type": "string"}),
		Price:   entrypoint.FlatPrice("1"),
		Handler: noop,
		Stream:  noopStream,
	}}
	cfg := payCfg("base")

	invoke, _ := routes.Build(defs, cfg, "", entrypoint.KindInvoke)
	d, _ := invoke.Get("POST /entrypoints/echo/invoke")
	if d.Config.InputSchema.BodyType != "json" {
		t.Errorf("bodyType: %q", d.Config.InputSchema.BodyType)
	}
	in, ok := d.Config.InputSchema.BodyFields["input"].(map[string]any)
	if !ok || in["type"] != "object" {
		t.Errorf("input body field: %v", d.Config.InputSchema.BodyFields)
	}
	out, ok := d.Config.OutputSchema["output"].(map[string]any)
	if !ok || out["type"] != "string" {
		t.Errorf("output schema: %v", d.Config.OutputSchema)
	}

	stream, _ := routes.Build(defs, cfg, "", entrypoint.KindStream)
	sd, _ := stream.Get("POST /entrypoints/echo/stream")
	if sd.Config.OutputSchema != nil {
		t.Errorf("stream routes carry no output schema: %v", sd.Config.OutputSchema)
	}

	bare := []entrypoint.Def{{Key: "bare", Price: entrypoint.FlatPrice("1"), Handler: noop}}
	bt, _ := routes.Build(bare, cfg, "", entrypoint.KindInvoke)
	bd, _ := bt.Get("POST /entrypoints/bare/invoke")
	if bd.Config.InputSchema.BodyFields != nil || bd.Config.OutputSchema != nil {
		t.Errorf("no schema should leave fields empty: %+v", bd.Config)
	}
}

func TestTable_descriptorsDoNotShareSchemas(t *testing.T) {
	defs := []entrypoint.Def{{
		Key:     "echo",
		Input:   schema.For[textInput](),
		Output:  schema.Map(map[string]any{"type": "string"}),
		Price:   entrypoint.FlatPrice("1"),
		Handler: noop,
	}}
	table, err := routes.Build(defs, payCfg("base"), "", entrypoint.KindInvoke)
	if err != nil {
		t.Fatal(err)
	}

	get, _ := table.Get("GET /entrypoints/echo/invoke")
	get.Config.InputSchema.BodyFields["input"] = "mutated"
	get.Config.OutputSchema["output"].(map[string]any)["type"] = "mutated"

	for _, key := range []string{"POST /entrypoints/echo/invoke", "GET /entrypoints/echo/invoke"} {
		d, _ := table.Get(key)
		if _, ok := d.Config.InputSchema.BodyFields["input"].(map[string]any); !ok {
			t.Errorf("%s: input schema changed: %v", key, d.Config.InputSchema.BodyFields)
		}
		if out := d.Config.OutputSchema["output"].(map[string]any); out["type"] != "string" {
			t.Errorf("%s: output schema changed: %v", key, out)
		}
	}
}

func TestBuild_orderFollowsEntrypoints(t *testing.T) {
	defs := []entrypoint.Def{
		{Key: "b", Price: entrypoint.FlatPrice("1"), Handler: noop},
		{Key: "a", Price: entrypoint.FlatPrice("1"), Handler: noop},
	}
	table, _ := routes.Build(defs, payCfg("base"), "/x/", entrypoint.KindInvoke)
	want := []string{
		"POST /x/entrypoints/b/invoke", "GET /x/entrypoints/b/invoke",
		"POST /x/entrypoints/a/invoke", "GET /x/entrypoints/a/invoke",
	}
	got := table.Keys()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d]: got %q, want %q", i, got[i], want[i])
		}
	}

	data, err := json.Marshal(table)
	if err != nil {
		t.Fatal(err)
	}
	idxB := strings.Index(string(data), "/b/invoke")
	idxA := strings.Index(string(data), "/a/invoke")
	if idxB < 0 || idxA < 0 || idxB > idxA {
		t.Errorf("JSON does not preserve order: %s", data)
	}
	var decoded map[string]routes.Descriptor
	if err := json.Unmarshal(data, &decoded); err != nil || len(decoded) != 4 {
		t.Errorf("decode: %v (%d entries)", err, len(decoded))
	}
}

func TestBuildAll(t *testing.T) {
	defs := []entrypoint.Def{{Key: "chat", Price: entrypoint.FlatPrice("1"), Handler: noop, Stream: noopStream}}
	table, err := routes.BuildAll(defs, payCfg("base"), "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"POST /entrypoints/chat/invoke", "GET /entrypoints/chat/invoke",
		"POST /entrypoints/chat/stream", "GET /entrypoints/chat/stream",
	}
	if got := table.Keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("keys: got %v, want %v", got, want)
	}
	if _, ok := table.Lookup("POST", "/entrypoints/chat/stream"); !ok {
		t.Error("Lookup failed")
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "/api/": "/api", "api": "/api", "/a/b": "/a/b"}
	for in, want := range cases {
		if got := routes.NormalizeBasePath(in); got != want {
			t.Errorf("NormalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
