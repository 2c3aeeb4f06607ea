package btree

import (
	"bytes"
	"testing"
)

func newTestTree() *BTree {
	pages := make(map[uint64][]byte)
	var nextPtr uint64 = 1

	tree := &BTree{}
	tree.SetCallbacks(
		func(ptr uint64) []byte { return pages[ptr] },
		func(node []byte) uint64 {
			ptr := nextPtr
			nextPtr++
			cp := make([]byte, len(node))
			copy(cp, node)
			pages[ptr] = cp
			return ptr
		},
		func(ptr uint64) { delete(pages, ptr) },
	)
	return tree
}

func TestFindApproxModes(t *testing.T) {
	tree := newTestTree()
	for _, k := range []string{"b", "d", "f"} {
		tree.Insert([]byte(k), []byte("v-"+k))
	}

	if k, _, ok := tree.FindApprox([]byte("d"), MatchExact); !ok || string(k) != "d" {
		t.Fatalf("MatchExact failed: %q ok=%v", k, ok)
	}

	if k, _, ok := tree.FindApprox([]byte("c"), MatchLT); !ok || string(k) != "b" {
		t.Fatalf("MatchLT: got %q ok=%v", k, ok)
	}

	if k, _, ok := tree.FindApprox([]byte("d"), MatchLE); !ok || string(k) != "d" {
		t.Fatalf("MatchLE exact: got %q ok=%v", k, ok)
	}

	if k, _, ok := tree.FindApprox([]byte("e"), MatchGT); !ok || string(k) != "f" {
		t.Fatalf("MatchGT: got %q ok=%v", k, ok)
	}

	if k, _, ok := tree.FindApprox([]byte("d"), MatchGE); !ok || string(k) != "d" {
		t.Fatalf("MatchGE exact: got %q ok=%v", k, ok)
	}
}

func TestRecnoRoundTrip(t *testing.T) {
	tree := newTestTree()

	for i := uint64(1); i <= 3; i++ {
		tree.Insert(EncodeRecno(i), []byte("payload"))
	}

	if last := tree.LastRecno(); last != 3 {
		t.Fatalf("expected last recno 3, got %d", last)
	}

	val, ok := tree.Get(EncodeRecno(2))
	if !ok || !bytes.Equal(val, []byte("payload")) {
		t.Fatalf("Get(recno=2) failed: %v ok=%v", val, ok)
	}
}
