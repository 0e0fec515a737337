package canonical

import (
	"testing"
)

func TestKeyOrderInvariance(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": "x"}}
	b := map[string]any{"c": map[string]any{"y": "x", "z": true}, "a": 1, "b": 2}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical bytes differ:\n%s\n%s", ca, cb)
	}
	if string(ca) != `{"a":1,"b":2,"c":{"y":"x","z":true}}` {
		t.Fatalf("unexpected canonical form: %s", ca)
	}
}

func TestStructFieldsSortByJSONTag(t *testing.T) {
	type inner struct {
		Zed   int    `json:"zed"`
		Alpha string `json:"alpha"`
	}
	type outer struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
		Inner inner  `json:"inner"`
	}
	got, err := String(outer{Name: "n", Count: 3, Inner: inner{Zed: 9, Alpha: "a"}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"count":3,"inner":{"alpha":"a","zed":9},"name":"n"}`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestArraysPreserveOrder(t *testing.T) {
	got, err := String(map[string]any{"list": []any{3, 1, 2}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != `{"list":[3,1,2]}` {
		t.Fatalf("array order not preserved: %s", got)
	}
}

func TestNestedMapsInsideArrays(t *testing.T) {
	got, err := String([]any{map[string]any{"b": 1, "a": 2}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != `[{"a":2,"b":1}]` {
		t.Fatalf("keys inside array elements not sorted: %s", got)
	}
}

func TestNumbersSurviveRoundTrip(t *testing.T) {
	got, err := String(map[string]any{"millis": int64(1755072000123)})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != `{"millis":1755072000123}` {
		t.Fatalf("integer mangled: %s", got)
	}
}

func TestDeterministicAcrossCalls(t *testing.T) {
	v := map[string]any{"k": []any{"a", map[string]any{"n": 1.5, "m": nil}}}
	first, err := String(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := String(v)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		if again != first {
			t.Fatalf("nondeterministic output on call %d: %s vs %s", i, again, first)
		}
	}
}
