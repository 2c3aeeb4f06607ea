package cursor

import (
	"testing"

	"github.com/nainya/hamsterdb/pkg/btree"
	"github.com/nainya/hamsterdb/pkg/txn"
)

func newTestTree() *btree.BTree {
	pages := make(map[uint64][]byte)
	var nextPtr uint64 = 1

	tree := &btree.BTree{}
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

func TestMoveFirstLastNext(t *testing.T) {
	tree := newTestTree()
	for _, k := range []string{"b", "d", "f"} {
		tree.Insert([]byte(k), []byte("v-"+k))
	}

	c := New(tree, nil, nil)
	if !c.MoveFirst() || string(c.Key()) != "b" {
		t.Fatalf("MoveFirst: got %q", c.Key())
	}
	if !c.MoveNext() || string(c.Key()) != "d" {
		t.Fatalf("MoveNext: got %q", c.Key())
	}
	if !c.MoveNext() || string(c.Key()) != "f" {
		t.Fatalf("MoveNext: got %q", c.Key())
	}
	if c.MoveNext() {
		t.Fatalf("expected no more keys, got %q", c.Key())
	}

	if !c.MoveLast() || string(c.Key()) != "f" {
		t.Fatalf("MoveLast: got %q", c.Key())
	}
	if !c.MovePrevious() || string(c.Key()) != "d" {
		t.Fatalf("MovePrevious: got %q", c.Key())
	}
}

func TestFindModes(t *testing.T) {
	tree := newTestTree()
	for _, k := range []string{"b", "d", "f"} {
		tree.Insert([]byte(k), []byte("v-"+k))
	}

	c := New(tree, nil, nil)
	if err := c.Find([]byte("d"), btree.MatchExact); err != nil || string(c.Key()) != "d" {
		t.Fatalf("MatchExact: err=%v key=%q", err, c.Key())
	}
	if err := c.Find([]byte("c"), btree.MatchGE); err != nil || string(c.Key()) != "d" {
		t.Fatalf("MatchGE: err=%v key=%q", err, c.Key())
	}
	if err := c.Find([]byte("c"), btree.MatchLT); err != nil || string(c.Key()) != "b" {
		t.Fatalf("MatchLT: err=%v key=%q", err, c.Key())
	}
}

func TestCursorSeesOwnUncommittedWrites(t *testing.T) {
	tree := newTestTree()
	tree.Insert([]byte("b"), []byte("v-b"))

	mgr := txn.NewManager()
	tx := mgr.Begin()
	mgr.Set(tx, []byte("c"), []byte("v-c"))
	mgr.Erase(tx, []byte("b"))

	c := New(tree, mgr, tx)
	if !c.MoveFirst() || string(c.Key()) != "c" {
		t.Fatalf("expected to see own write 'c' and skip erased 'b', got %q", c.Key())
	}
	if c.MoveNext() {
		t.Fatalf("expected no more visible keys, got %q", c.Key())
	}

	// A cursor with no transaction still sees the committed tree as-is.
	plain := New(tree, nil, nil)
	if !plain.MoveFirst() || string(plain.Key()) != "b" {
		t.Fatalf("plain cursor should see committed key 'b', got %q", plain.Key())
	}
}

func TestFindExactHidesOwnErase(t *testing.T) {
	tree := newTestTree()
	tree.Insert([]byte("b"), []byte("v-b"))

	mgr := txn.NewManager()
	tx := mgr.Begin()
	mgr.Erase(tx, []byte("b"))

	c := New(tree, mgr, tx)
	if err := c.Find([]byte("b"), btree.MatchExact); err == nil {
		t.Fatalf("expected not-found for own-erased key, got key=%q", c.Key())
	}
}
