package state

import (
	"bytes"
	"testing"
)

func TestCloneNormalizesNumbers(t *testing.T) {
	tree := Tree{
		"count": 3,
		"ratio": float32(0.5),
		"nested": map[string]any{
			"hp": int64(100),
		},
	}
	cloned := CloneTree(tree)
	if _, ok := cloned["count"].(float64); !ok {
		t.Fatalf("expected count to normalize to float64, got %T", cloned["count"])
	}
	nested := cloned["nested"].(map[string]any)
	if hp, ok := nested["hp"].(float64); !ok || hp != 100 {
		t.Fatalf("expected nested hp 100.0, got %v (%T)", nested["hp"], nested["hp"])
	}
}

func TestCloneIsDeep(t *testing.T) {
	tree := Tree{"players": map[string]any{"p1": map[string]any{"x": 1.0}}}
	cloned := CloneTree(tree)
	cloned["players"].(map[string]any)["p1"].(map[string]any)["x"] = 99.0
	original := tree["players"].(map[string]any)["p1"].(map[string]any)["x"]
	if original != 1.0 {
		t.Fatalf("clone mutation leaked into original: x=%v", original)
	}
}

func TestEqualIgnoresNumericRepresentation(t *testing.T) {
	a := Tree{"n": 5}
	b := Tree{"n": 5.0}
	if !Equal(CloneTree(a), CloneTree(b)) {
		t.Fatalf("expected int and float encodings of the same value to compare equal")
	}
}

func TestCanonicalIsKeyOrderIndependent(t *testing.T) {
	a := Tree{"b": 2.0, "a": 1.0, "c": map[string]any{"y": 2.0, "x": 1.0}}
	b := Tree{"c": map[string]any{"x": 1.0, "y": 2.0}, "a": 1.0, "b": 2.0}
	if !bytes.Equal(Canonical(a), Canonical(b)) {
		t.Fatalf("canonical renderings differ:\n%s\n%s", Canonical(a), Canonical(b))
	}
}

func TestChecksumDetectsDifference(t *testing.T) {
	a := Tree{"players": map[string]any{"p1": map[string]any{"hp": 100.0}}}
	b := CloneTree(a)
	if Checksum(a) != Checksum(b) {
		t.Fatalf("identical trees produced different checksums")
	}
	b["players"].(map[string]any)["p1"].(map[string]any)["hp"] = 99.0
	if Checksum(a) == Checksum(b) {
		t.Fatalf("differing trees produced the same checksum")
	}
}
