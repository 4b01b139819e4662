package ids

import "testing"

func TestSymbolIDDeterministic(t *testing.T) {
	a := SymbolID("p1", "main", "src/lib.rs", "function", 10, "foo")
	b := SymbolID("p1", "main", "src/lib.rs", "function", 10, "foo")
	if a != b {
		t.Fatalf("expected equal ids, got %s != %s", a, b)
	}
	c := SymbolID("p1", "main", "src/lib.rs", "function", 11, "foo")
	if a == c {
		t.Fatalf("expected different ids when line_start differs")
	}
}

func TestSymbolStableIDIgnoresLocation(t *testing.T) {
	a := SymbolStableID("rust", "function", "crate::foo", "fn foo()")
	b := SymbolStableID("rust", "function", "crate::foo", "fn foo()")
	if a != b {
		t.Fatalf("stable id must be deterministic")
	}
}

func TestNormalizeRef(t *testing.T) {
	if got := NormalizeRef("feat/add-file"); got != "feat__add-file" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeRef(""); got != "live" {
		t.Fatalf("expected live sentinel, got %q", got)
	}
}

func TestResultIDUnique(t *testing.T) {
	a := ResultID("symbol", "repo", "main", "src/a.rs", 1, 2, "function", "foo", "crate::foo", "rust", "stable1")
	b := ResultID("symbol", "repo", "main", "src/a.rs", 1, 2, "function", "foo", "crate::foo", "rust", "stable2")
	if a == b {
		t.Fatalf("different stable ids must not collide")
	}
}
