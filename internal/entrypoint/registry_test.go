package entrypoint_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
)

func noop(_ context.Context, _ entrypoint.Request) (*entrypoint.Result, error) {
	return &entrypoint.Result{}, nil
}

func def(key string) entrypoint.Def {
	return entrypoint.Def{Key: key, Handler: noop}
}

func TestRegistry_AddAndSnapshotOrder(t *testing.T) {
	r := entrypoint.NewRegistry()
	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := r.Add(def(k)); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}

	snap := r.Snapshot()
	want := []string{"zeta", "alpha", "mid"}
	if len(snap) != len(want) {
		t.Fatalf("snapshot len: got %d, want %d", len(snap), len(want))
	}
	for i, d := range snap {
		if d.Key != want[i] {
			t.Errorf("snapshot[%d]: got %q, want %q", i, d.Key, want[i])
		}
	}
}

func TestRegistry_DuplicateKey(t *testing.T) {
	r := entrypoint.NewRegistry()
	if err := r.Add(entrypoint.Def{Key: "echo", Description: "first", Handler: noop}); err != nil {
		t.Fatalf("first add: %v", err)
	}

	err := r.Add(entrypoint.Def{Key: "echo", Description: "second", Handler: noop})
	if !errors.Is(err, entrypoint.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	var dup *entrypoint.DuplicateKeyError
	if !errors.As(err, &dup) || dup.Key != "echo" {
		t.Errorf("expected *DuplicateKeyError for echo, got %v", err)
	}

	if r.Len() != 1 {
		t.Errorf("registry len after failed add: got %d, want 1", r.Len())
	}
	got, _ := r.Get("echo")
	if got.Description != "first" {
		t.Errorf("failed add changed state: description %q", got.Description)
	}
}

func TestRegistry_KeysAreCaseSensitive(t *testing.T) {
	r := entrypoint.NewRegistry()
	if err := r.Add(def("Echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(def("echo")); err != nil {
		t.Errorf("keys differing in case must both register: %v", err)
	}
}

func TestRegistry_RejectsEmptyKey(t *testing.T) {
	r := entrypoint.NewRegistry()
	if err := r.Add(entrypoint.Def{Handler: noop}); !errors.Is(err, entrypoint.ErrEmptyKey) {
		t.Errorf("empty key: got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("invalid def was stored: len %d", r.Len())
	}
}

func TestRegistry_AcceptsDefWithoutHandler(t *testing.T) {
	r := entrypoint.NewRegistry()
	if err := r.Add(entrypoint.Def{Key: "described", Description: "metadata only"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Replace(entrypoint.Def{Key: "described"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, ok := r.Get("described"); !ok {
		t.Error("definition not stored")
	}
}

func TestRegistry_SnapshotIsIndependent(t *testing.T) {
	r := entrypoint.NewRegistry()
	r.Add(entrypoint.Def{Key: "a", Tags: []string{"t1"}, Handler: noop})

	snap := r.Snapshot()
	snap[0].Key = "mutated"
	snap[0].Tags[0] = "mutated"
	snap = append(snap, def("b"))

	r.Add(def("c"))

	again := r.Snapshot()
	if len(again) != 2 || again[0].Key != "a" || again[1].Key != "c" {
		t.Fatalf("registry affected by snapshot mutation: %+v", again)
	}
	if again[0].Tags[0] != "t1" {
		t.Errorf("tags shared with snapshot: %v", again[0].Tags)
	}
	if len(snap) != 2 {
		t.Errorf("old snapshot observed later add: len %d", len(snap))
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := entrypoint.NewRegistry()
	r.Add(def("a"))
	r.Add(def("b"))

	if err := r.Replace(entrypoint.Def{Key: "a", Description: "new", Handler: noop}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	snap := r.Snapshot()
	if snap[0].Key != "a" || snap[0].Description != "new" {
		t.Errorf("replace did not keep position: %+v", snap)
	}
	if err := r.Replace(def("missing")); !errors.Is(err, entrypoint.ErrNotFound) {
		t.Errorf("replace missing: got %v", err)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := entrypoint.NewRegistry()
	for _, k := range []string{"a", "b", "c"} {
		r.Add(def(k))
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if n := len(r.Snapshot()); n != 3 {
					t.Errorf("snapshot len %d", n)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPriceFor(t *testing.T) {
	cases := []struct {
		name   string
		price  entrypoint.Price
		kind   entrypoint.Kind
		want   string
		wantOK bool
	}{
		{"flat invoke", entrypoint.FlatPrice("100"), entrypoint.KindInvoke, "100", true},
		{"flat stream", entrypoint.FlatPrice("100"), entrypoint.KindStream, "100", true},
		{"per kind invoke", entrypoint.PerKindPrice{Invoke: "1", Stream: "2"}, entrypoint.KindInvoke, "1", true},
		{"per kind stream", entrypoint.PerKindPrice{Invoke: "1", Stream: "2"}, entrypoint.KindStream, "2", true},
		{"per kind missing", entrypoint.PerKindPrice{Invoke: "1"}, entrypoint.KindStream, "", false},
		{"nil", nil, entrypoint.KindInvoke, "", false},
		{"empty flat", entrypoint.FlatPrice(""), entrypoint.KindInvoke, "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, ok := entrypoint.PriceFor(tc.price, tc.kind)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k, err := entrypoint.ParseKind("stream"); err != nil || k != entrypoint.KindStream {
		t.Errorf("stream: got %q, %v", k, err)
	}
	if _, err := entrypoint.ParseKind("batch"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
