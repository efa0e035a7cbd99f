package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := New("inv")
		if !strings.HasPrefix(id, "inv-") {
			t.Fatalf("expected inv- prefix, got %s", id)
		}
		if len(id) != len("inv-")+32 {
			t.Fatalf("unexpected id length %d for %s", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
