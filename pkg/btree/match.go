package btree

import "bytes"

// MatchMode selects how Find resolves a key that is not present exactly,
// mirroring the original API's HAM_FIND_*_MATCH flags.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchLT              // strictly less than
	MatchLE              // less than or equal
	MatchGT              // strictly greater than
	MatchGE              // greater than or equal
)

// FindApprox resolves key under the given MatchMode, returning the
// matched key, its value, and whether a match was found. For MatchExact
// it behaves exactly like Get.
func (tree *BTree) FindApprox(key []byte, mode MatchMode) (matchedKey, val []byte, ok bool) {
	if mode == MatchExact {
		v, found := tree.Get(key)
		return key, v, found
	}

	iter := tree.NewIterator()
	if !iter.SeekLE(key) {
		// SeekLE fails only on an empty tree: for GT/GE the first key in
		// the tree (if any) is the answer.
		if mode == MatchGT || mode == MatchGE {
			return firstOf(tree)
		}
		return nil, nil, false
	}

	cmp := 0
	if iter.Valid() {
		cmp = bytes.Compare(iter.Key(), key)
	} else {
		cmp = -1
	}

	switch mode {
	case MatchLE:
		if isSentinel(iter) {
			return nil, nil, false
		}
		if iter.Valid() && cmp <= 0 {
			return iter.Key(), iter.Val(), true
		}
		if iter.Prev() && !isSentinel(iter) {
			return iter.Key(), iter.Val(), true
		}
		return nil, nil, false

	case MatchLT:
		for iter.Valid() && bytes.Compare(iter.Key(), key) >= 0 {
			if !iter.Prev() {
				return nil, nil, false
			}
		}
		if iter.Valid() && !isSentinel(iter) {
			return iter.Key(), iter.Val(), true
		}
		return nil, nil, false

	case MatchGE:
		if iter.Valid() && (cmp < 0 || isSentinel(iter)) {
			if !iter.Next() {
				return nil, nil, false
			}
		}
		if iter.Valid() {
			return iter.Key(), iter.Val(), true
		}
		return nil, nil, false

	case MatchGT:
		for iter.Valid() && bytes.Compare(iter.Key(), key) <= 0 {
			if !iter.Next() {
				return nil, nil, false
			}
		}
		if iter.Valid() {
			return iter.Key(), iter.Val(), true
		}
		return nil, nil, false
	}

	return nil, nil, false
}

// Last returns the highest key currently stored in the tree and its
// value, or ok == false if the tree is empty.
func (tree *BTree) Last() (key, val []byte, ok bool) {
	iter := tree.NewIterator()
	if !iter.SeekLast() || !iter.Valid() || isSentinel(iter) {
		return nil, nil, false
	}
	return iter.Key(), iter.Val(), true
}

// isSentinel reports whether iter sits on the empty key Insert seeds the
// leftmost leaf with; it is never reported as a match.
func isSentinel(iter *BIter) bool {
	return iter.Valid() && len(iter.Key()) == 0
}

func firstOf(tree *BTree) ([]byte, []byte, bool) {
	iter := tree.NewIterator()
	if !iter.SeekLE(nil) {
		return nil, nil, false
	}
	if !iter.Valid() {
		if !iter.Next() {
			return nil, nil, false
		}
	}
	return iter.Key(), iter.Val(), true
}
