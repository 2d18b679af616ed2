package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := New("sale")
		if !strings.HasPrefix(id, "sale_") {
			t.Fatalf("expected sale_ prefix, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("expected monotonic ids, %q came after %q", id, prev)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestNewWithoutPrefix(t *testing.T) {
	if id := New(""); strings.Contains(id, "_") || len(id) != 26 {
		t.Fatalf("expected bare ulid, got %q", id)
	}
}
