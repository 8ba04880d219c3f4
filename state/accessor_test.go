package state

import (
	"errors"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func compiled(schema Schema) *Table {
	return CompileSchema(schema)
}

func TestSetClampsAgainstSchema(t *testing.T) {
	table := compiled(Schema{
		"players.*.health": {Type: KindNumber, Min: floatPtr(0), Max: floatPtr(100)},
	})
	tree := Tree{}
	accessor := NewAccessor(tree, table)

	if err := accessor.Set(150, "players", "p1", "health"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if hp, _ := accessor.GetNumber("players", "p1", "health"); hp != 100 {
		t.Fatalf("expected clamp to 100, got %v", hp)
	}
	if err := accessor.Set(-3, "players", "p1", "health"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if hp, _ := accessor.GetNumber("players", "p1", "health"); hp != 0 {
		t.Fatalf("expected clamp to 0, got %v", hp)
	}
}

func TestSetStrictRuleRejects(t *testing.T) {
	table := compiled(Schema{
		"players.*.health": {Type: KindNumber, Max: floatPtr(100), Strict: true},
	})
	accessor := NewAccessor(Tree{}, table)
	err := accessor.Set(150, "players", "p1", "health")
	var violation *Violation
	if !errors.As(err, &violation) {
		t.Fatalf("expected *Violation, got %v", err)
	}
}

func TestSetEnumRule(t *testing.T) {
	table := compiled(Schema{
		"players.*.stance": {Type: KindString, Enum: []string{"idle", "moving"}},
	})
	accessor := NewAccessor(Tree{}, table)
	if err := accessor.Set("idle", "players", "p1", "stance"); err != nil {
		t.Fatalf("allowed enum value rejected: %v", err)
	}
	if err := accessor.Set("flying", "players", "p1", "stance"); err == nil {
		t.Fatalf("expected enum rejection for %q", "flying")
	}
}

func TestSetCreatesIntermediateObjects(t *testing.T) {
	accessor := NewAccessor(Tree{}, nil)
	if err := accessor.Set(1.0, "a", "b", "c"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok := accessor.GetNumber("a", "b", "c"); !ok || v != 1.0 {
		t.Fatalf("expected a.b.c == 1.0, got %v ok=%v", v, ok)
	}
}

func TestDeleteMissingPathIsNoop(t *testing.T) {
	accessor := NewAccessor(Tree{}, nil)
	if err := accessor.Delete("nothing", "here"); err != nil {
		t.Fatalf("delete of missing path should be a no-op, got %v", err)
	}
}

func TestPushCreatesAndAppends(t *testing.T) {
	accessor := NewAccessor(Tree{}, nil)
	if err := accessor.Push("first", "log"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := accessor.Push("second", "log"); err != nil {
		t.Fatalf("push: %v", err)
	}
	raw, _ := accessor.Get("log")
	array := raw.([]any)
	if len(array) != 2 || array[0] != "first" || array[1] != "second" {
		t.Fatalf("unexpected array contents: %v", array)
	}
}

func TestTouchedTracksEntityPrefix(t *testing.T) {
	accessor := NewAccessor(Tree{}, nil)
	accessor.Set(1.0, "players", "p1", "x")
	accessor.Set(2.0, "world", "time")
	touched := accessor.Touched()
	want := map[string]bool{"players/p1": false, "world": false}
	for _, path := range touched {
		if _, ok := want[path]; !ok {
			t.Fatalf("unexpected touched path %q", path)
		}
		want[path] = true
	}
	for path, seen := range want {
		if !seen {
			t.Fatalf("expected touched path %q, got %v", path, touched)
		}
	}
}

func TestWildcardMatchIsExactLength(t *testing.T) {
	table := compiled(Schema{"players.*.x": {Type: KindNumber}})
	if _, ok := table.Match([]string{"players", "p1", "x"}); !ok {
		t.Fatalf("expected pattern to match players/p1/x")
	}
	if _, ok := table.Match([]string{"players", "p1", "pos", "x"}); ok {
		t.Fatalf("pattern must not match longer paths")
	}
}
