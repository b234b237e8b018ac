package optional

import (
	"encoding/json"
	"testing"
)

type payload struct {
	Name Field[string] `json:"name"`
	Age  Field[int]    `json:"age"`
}

func TestUnmarshalThreeStates(t *testing.T) {
	var p payload
	if err := json.Unmarshal([]byte(`{"name":"alice"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Name.State() != PresentValue {
		t.Fatalf("expected PresentValue, got %v", p.Name.State())
	}
	if v, ok := p.Name.Value(); !ok || v != "alice" {
		t.Fatalf("expected alice, got %v %v", v, ok)
	}
	if p.Age.State() != Absent {
		t.Fatalf("expected Absent for missing key, got %v", p.Age.State())
	}
}

func TestUnmarshalPresentNull(t *testing.T) {
	var p payload
	if err := json.Unmarshal([]byte(`{"name":null}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Name.State() != PresentNull {
		t.Fatalf("expected PresentNull, got %v", p.Name.State())
	}
	if _, ok := p.Name.Value(); ok {
		t.Fatal("PresentNull must not report a value")
	}
}

func TestMergeSemantics(t *testing.T) {
	prior := "previous"

	if got := (Field[string]{}).Merge(prior); got != prior {
		t.Fatalf("Absent must keep prior, got %q", got)
	}
	if got := Null[string]().Merge(prior); got != "" {
		t.Fatalf("PresentNull must clear, got %q", got)
	}
	if got := Of("new").Merge(prior); got != "new" {
		t.Fatalf("PresentValue must replace, got %q", got)
	}
}
