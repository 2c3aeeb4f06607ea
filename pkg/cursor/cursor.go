// Package cursor implements database cursors: a position that walks a
// database's committed B-tree, overlaid with one transaction's own
// uncommitted writes so a transaction always sees its own inserts and
// erases before they are folded into the tree at commit.
//
// This mirrors the original API's coupled/uncoupled cursor states
// (ham_cursor_move et al.), expressed on top of pkg/btree's BIter the
// way pkg/btree/match.go already layers approximate match on the same
// iterator rather than touching the tree's internals.
package cursor

import (
	"bytes"
	"sort"

	"github.com/nainya/hamsterdb/pkg/btree"
	"github.com/nainya/hamsterdb/pkg/herr"
	"github.com/nainya/hamsterdb/pkg/txn"
)

// State mirrors the original API's cursor lifecycle: a cursor is
// "coupled" while it tracks a live key, and "nil" before the first
// positioning call or after one that found nothing.
type State int

const (
	StateNil State = iota
	StateCoupled
	StateUncoupled
)

// Cursor walks tree, optionally merged with t's own pending writes.
// A Cursor is not safe for concurrent use by multiple goroutines.
type Cursor struct {
	tree   *btree.BTree
	txnMgr *txn.Manager
	txn    *txn.Txn

	state State
	key   []byte
	val   []byte

	pending []txn.PendingOp // snapshot taken at each (re)position
}

// New creates a cursor over tree. If txnMgr and t are both non-nil, the
// cursor's view is t's uncommitted writes merged on top of tree;
// otherwise it is a plain read of the committed tree.
func New(tree *btree.BTree, txnMgr *txn.Manager, t *txn.Txn) *Cursor {
	return &Cursor{tree: tree, txnMgr: txnMgr, txn: t, state: StateNil}
}

// Valid reports whether the cursor currently points at a live entry.
func (c *Cursor) Valid() bool { return c.state == StateCoupled }

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return c.key
}

// Record returns the value at the cursor's current position.
func (c *Cursor) Record() []byte {
	if !c.Valid() {
		return nil
	}
	return c.val
}

func (c *Cursor) refreshPending() {
	if c.txn != nil && c.txnMgr != nil {
		c.pending = c.txnMgr.PendingOps(c.txn)
	} else {
		c.pending = nil
	}
}

// pendingAt returns the pending op for key, if this transaction wrote it.
func (c *Cursor) pendingAt(key []byte) (txn.PendingOp, bool) {
	i := sort.Search(len(c.pending), func(i int) bool {
		return bytes.Compare(c.pending[i].Key, key) >= 0
	})
	if i < len(c.pending) && bytes.Equal(c.pending[i].Key, key) {
		return c.pending[i], true
	}
	return txn.PendingOp{}, false
}

// pendingAfter returns the first pending op with key > bound, or with
// key >= bound when inclusive is true.
func (c *Cursor) pendingAfter(bound []byte, inclusive bool) (txn.PendingOp, bool) {
	i := 0
	if bound != nil {
		i = sort.Search(len(c.pending), func(i int) bool {
			cmp := bytes.Compare(c.pending[i].Key, bound)
			if inclusive {
				return cmp >= 0
			}
			return cmp > 0
		})
	}
	if i < len(c.pending) {
		return c.pending[i], true
	}
	return txn.PendingOp{}, false
}

// pendingBefore returns the last pending op with key < bound, or with
// key <= bound when inclusive is true.
func (c *Cursor) pendingBefore(bound []byte, inclusive bool) (txn.PendingOp, bool) {
	if bound == nil {
		if len(c.pending) == 0 {
			return txn.PendingOp{}, false
		}
		return c.pending[len(c.pending)-1], true
	}
	i := sort.Search(len(c.pending), func(i int) bool {
		cmp := bytes.Compare(c.pending[i].Key, bound)
		if inclusive {
			return cmp > 0
		}
		return cmp >= 0
	})
	if i == 0 {
		return txn.PendingOp{}, false
	}
	return c.pending[i-1], true
}

func resolveOp(op txn.PendingOp) (key, val []byte, visible bool) {
	if op.Kind == txn.OpErase {
		return op.Key, nil, false
	}
	return op.Key, op.Value, true
}

// MoveFirst positions the cursor at the lowest visible key.
func (c *Cursor) MoveFirst() bool {
	c.refreshPending()
	key, val, ok := c.tree.FindApprox(nil, btree.MatchGE)
	return c.settleForward(nil, true, key, val, ok)
}

// MoveLast positions the cursor at the highest visible key.
func (c *Cursor) MoveLast() bool {
	c.refreshPending()
	key, val, ok := c.tree.Last()
	return c.settleBackward(nil, true, key, val, ok)
}

// MoveNext advances to the next visible key after the current position.
func (c *Cursor) MoveNext() bool {
	if c.state != StateCoupled {
		return c.MoveFirst()
	}
	cur := append([]byte(nil), c.key...)
	c.refreshPending()
	key, val, ok := c.tree.FindApprox(cur, btree.MatchGT)
	return c.settleForward(cur, false, key, val, ok)
}

// MovePrevious moves to the next visible key before the current position.
func (c *Cursor) MovePrevious() bool {
	if c.state != StateCoupled {
		return c.MoveLast()
	}
	cur := append([]byte(nil), c.key...)
	c.refreshPending()
	key, val, ok := c.tree.FindApprox(cur, btree.MatchLT)
	return c.settleBackward(cur, false, key, val, ok)
}

// settleForward picks the lower of the tree candidate (treeKey/treeVal,
// present if treeOK) and the nearest pending op after bound (inclusive
// per the inclusive flag), preferring the pending op on a tie since it
// overrides or tombstones the tree's entry for that key, and skips
// forward over erased keys.
func (c *Cursor) settleForward(bound []byte, inclusive bool, treeKey, treeVal []byte, treeOK bool) bool {
	for {
		pend, pendOK := c.pendingAfter(bound, inclusive)

		useTree, usePend := treeOK, pendOK
		if treeOK && pendOK {
			cmp := bytes.Compare(treeKey, pend.Key)
			switch {
			case cmp < 0:
				usePend = false
			default:
				useTree = false // pending wins on equality, it overrides the tree entry
			}
		}

		switch {
		case usePend:
			key, val, visible := resolveOp(pend)
			if visible {
				c.key, c.val, c.state = key, val, StateCoupled
				return true
			}
			bound, inclusive = pend.Key, false
			treeKey, treeVal, treeOK = c.tree.FindApprox(bound, btree.MatchGT)
			continue
		case useTree:
			c.key, c.val, c.state = treeKey, treeVal, StateCoupled
			return true
		default:
			c.state = StateNil
			c.key, c.val = nil, nil
			return false
		}
	}
}

// settleBackward is the mirror image of settleForward for MovePrevious.
func (c *Cursor) settleBackward(bound []byte, inclusive bool, treeKey, treeVal []byte, treeOK bool) bool {
	for {
		pend, pendOK := c.pendingBefore(bound, inclusive)

		useTree, usePend := treeOK, pendOK
		if treeOK && pendOK {
			cmp := bytes.Compare(treeKey, pend.Key)
			switch {
			case cmp > 0:
				usePend = false
			default:
				useTree = false
			}
		}

		switch {
		case usePend:
			key, val, visible := resolveOp(pend)
			if visible {
				c.key, c.val, c.state = key, val, StateCoupled
				return true
			}
			bound, inclusive = pend.Key, false
			treeKey, treeVal, treeOK = c.tree.FindApprox(bound, btree.MatchLT)
			continue
		case useTree:
			c.key, c.val, c.state = treeKey, treeVal, StateCoupled
			return true
		default:
			c.state = StateNil
			c.key, c.val = nil, nil
			return false
		}
	}
}

// Find positions the cursor at key under mode, the cursor equivalent of
// (*btree.BTree).FindApprox, with this transaction's own pending writes
// (if any) taking priority over the tree at an exact key match.
func (c *Cursor) Find(key []byte, mode btree.MatchMode) error {
	c.refreshPending()

	if op, ok := c.pendingAt(key); ok && (mode == btree.MatchExact || mode == btree.MatchGE || mode == btree.MatchLE) {
		k, v, visible := resolveOp(op)
		if visible {
			c.key, c.val, c.state = k, v, StateCoupled
			return nil
		}
		if mode == btree.MatchExact {
			c.state = StateNil
			return herr.New("cursor.Find", herr.CodeKeyNotFound)
		}
	}

	var ok bool
	switch mode {
	case btree.MatchExact:
		v, found := c.tree.Get(key)
		if !found {
			c.state = StateNil
			return herr.New("cursor.Find", herr.CodeKeyNotFound)
		}
		c.key, c.val, c.state = append([]byte(nil), key...), v, StateCoupled
		return nil
	case btree.MatchGE:
		treeKey, treeVal, treeOK := c.tree.FindApprox(key, btree.MatchGE)
		ok = c.settleForward(key, true, treeKey, treeVal, treeOK)
	case btree.MatchGT:
		treeKey, treeVal, treeOK := c.tree.FindApprox(key, btree.MatchGT)
		ok = c.settleForward(key, false, treeKey, treeVal, treeOK)
	case btree.MatchLE:
		treeKey, treeVal, treeOK := c.tree.FindApprox(key, btree.MatchLE)
		ok = c.settleBackward(key, true, treeKey, treeVal, treeOK)
	case btree.MatchLT:
		treeKey, treeVal, treeOK := c.tree.FindApprox(key, btree.MatchLT)
		ok = c.settleBackward(key, false, treeKey, treeVal, treeOK)
	default:
		return herr.New("cursor.Find", herr.CodeInvalidParameter)
	}

	if !ok {
		return herr.New("cursor.Find", herr.CodeKeyNotFound)
	}
	return nil
}
