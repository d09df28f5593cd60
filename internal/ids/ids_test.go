package ids

import (
	"sort"
	"testing"
)

func TestNewPreservesGenerationOrder(t *testing.T) {
	const n = 200
	got := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected id length %d: %s", len(id), id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = struct{}{}
		got = append(got, id)
	}
	if !sort.StringsAreSorted(got) {
		t.Fatal("ids are not sorted in generation order")
	}
}
