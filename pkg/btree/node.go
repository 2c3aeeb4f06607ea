// ABOUTME: B+Tree node structure and manipulation functions
// ABOUTME: Implements copy-on-write node operations for crash safety

package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/nainya/hamsterdb/pkg/page"
)

const (
	BNODE_NODE = 1 // internal nodes without values
	BNODE_LEAF = 2 // leaf nodes with values
)

// Node layout (spec.md §4.2/§6): a fixed header followed by `count`
// fixed-size slots, so the page a node occupies never depends on how long
// any individual key or record is.
//
//	header: count[2] flags[2] ptr_left[8] ptr_right[8]
//	slot:   key_size[2] key_flags[1] _pad[1] record_or_child_ptr[8] key_inline[INLINE_KEY_LEN]
//
// ptr_left/ptr_right are the leaf's sibling links. A split copies the old
// node's own sibling pointers onto the new outermost fragments, but the
// seam between the new fragments is left 0 and a neighbor page's
// back-pointer is never retroactively fixed up — see DESIGN.md. BIter (iterator.go) doesn't consume them; it
// walks a path/position stack instead, so this is not a correctness gap
// for range scans today, only a simplification against the original's
// fully-linked leaf chain.
const (
	HEADER         = 20
	INLINE_KEY_LEN = 24
	EXT_PREFIX_LEN = INLINE_KEY_LEN - 8 // bytes of the real key kept as a prefix once extended
	SLOT_SIZE      = 2 + 1 + 1 + 8 + INLINE_KEY_LEN

	// BTREE_MAX_VAL_SIZE is how many raw bytes a leaf record can occupy
	// directly in its slot's record_or_child_ptr field (spec.md §3:
	// "records up to 8 bytes may be stored inline"). pkg/env.Database is
	// responsible for blobbing anything larger before it ever reaches
	// Insert.
	BTREE_MAX_VAL_SIZE = 8

	keyFlagExtended byte = 1 << 0
	recLenMask           = 0x0F
	recLenShift          = 1
)

// pageSize mirrors env.Options.PageSize via the shared page.Size
// variable, so BTREE node capacity follows env.WithPageSize instead of a
// compiled-in constant.
func pageSize() int { return int(page.Size) }

func init() {
	if HEADER+SLOT_SIZE > int(page.MinSize) {
		panic("btree: HEADER+SLOT_SIZE does not fit in the smallest allowed page size")
	}
}

// BNode represents a B+Tree node as a byte slice.
type BNode []byte

func slotPos(idx uint16) int { return HEADER + int(idx)*SLOT_SIZE }

// nkeys returns the number of keys (the header's `count` field).
func (node BNode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

// btype returns the node type (internal or leaf), carried in the
// header's `flags` field.
func (node BNode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

// setHeader sets count and type (flags).
func (node BNode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], nkeys)
	binary.LittleEndian.PutUint16(node[2:4], btype)
}

// ptrLeft/ptrRight are a leaf's sibling links (0 if absent or not a leaf).
func (node BNode) ptrLeft() uint64     { return binary.LittleEndian.Uint64(node[4:12]) }
func (node BNode) setPtrLeft(v uint64) { binary.LittleEndian.PutUint64(node[4:12], v) }
func (node BNode) ptrRight() uint64    { return binary.LittleEndian.Uint64(node[12:20]) }
func (node BNode) setPtrRight(v uint64) {
	binary.LittleEndian.PutUint64(node[12:20], v)
}

func (node BNode) slot(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("index out of range")
	}
	pos := slotPos(idx)
	return node[pos : pos+SLOT_SIZE]
}

func (node BNode) keySize(idx uint16) uint16 {
	return binary.LittleEndian.Uint16(node.slot(idx)[0:2])
}

func (node BNode) setKeySize(idx uint16, n uint16) {
	binary.LittleEndian.PutUint16(node.slot(idx)[0:2], n)
}

func (node BNode) keyFlags(idx uint16) byte    { return node.slot(idx)[2] }
func (node BNode) setKeyFlags(idx uint16, f byte) { node.slot(idx)[2] = f }

func (node BNode) isExtended(idx uint16) bool {
	return node.keyFlags(idx)&keyFlagExtended != 0
}

// ptrBytes is the slot's record_or_child_ptr field: an internal node's
// child page number, or a leaf's inline record bytes.
func (node BNode) ptrBytes(idx uint16) []byte {
	s := node.slot(idx)
	return s[4:12]
}

func (node BNode) keyInlineBytes(idx uint16) []byte {
	s := node.slot(idx)
	return s[12 : 12+INLINE_KEY_LEN]
}

// extBlobID is the extended-key pointer stored in the tail of the inline
// area once a key no longer fits (key_flags.extended set).
func (node BNode) extBlobID(idx uint16) uint64 {
	return binary.LittleEndian.Uint64(node.keyInlineBytes(idx)[EXT_PREFIX_LEN:])
}

func (node BNode) setExtBlobID(idx uint16, id uint64) {
	binary.LittleEndian.PutUint64(node.keyInlineBytes(idx)[EXT_PREFIX_LEN:], id)
}

// getPtr returns the child pointer at idx (internal nodes only).
func (node BNode) getPtr(idx uint16) uint64 {
	return binary.LittleEndian.Uint64(node.ptrBytes(idx))
}

// setPtr sets the child pointer at idx (internal nodes only).
func (node BNode) setPtr(idx uint16, val uint64) {
	binary.LittleEndian.PutUint64(node.ptrBytes(idx), val)
}

func recLenFromFlags(f byte) int { return int((f >> recLenShift) & recLenMask) }

func flagsWithRecLen(f byte, n int) byte {
	return (f &^ byte(recLenMask<<recLenShift)) | byte((n&recLenMask)<<recLenShift)
}

// getVal returns the raw record bytes stored inline at idx (leaf nodes
// only) — at most BTREE_MAX_VAL_SIZE bytes, the length recorded in the
// slot's key_flags.
func (node BNode) getVal(idx uint16) []byte {
	raw := node.ptrBytes(idx)
	n := recLenFromFlags(node.keyFlags(idx))
	out := make([]byte, n)
	copy(out, raw[:n])
	return out
}

// setVal stores val (at most BTREE_MAX_VAL_SIZE bytes) inline at idx.
func (node BNode) setVal(idx uint16, val []byte) {
	if len(val) > BTREE_MAX_VAL_SIZE {
		panic("btree: record exceeds the inline slot capacity; caller must blob it first")
	}
	raw := node.ptrBytes(idx)
	for i := range raw {
		raw[i] = 0
	}
	copy(raw, val)
	node.setKeyFlags(idx, flagsWithRecLen(node.keyFlags(idx), len(val)))
}

// nbytes is the number of bytes this node currently occupies.
func (node BNode) nbytes() int {
	return HEADER + int(node.nkeys())*SLOT_SIZE
}

// nodeLookupLE returns the last slot whose key is <= the search key.
// keyAt resolves a slot to its full (possibly extended, blob-backed) key;
// the node itself only ever stores a key's inline prefix plus, when
// extended, a pointer to the rest.
func nodeLookupLE(node BNode, key []byte, keyAt func(uint16) []byte) uint16 {
	nkeys := node.nkeys()
	found := uint16(0)

	// The first key is a copy from the parent node, thus it's always
	// less than or equal to the search key.
	for i := uint16(1); i < nkeys; i++ {
		cmp := bytes.Compare(keyAt(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

// nodeAppendRange copies n whole slots from old node to new node. Every
// slot is the same fixed size regardless of node type or key length, so
// this is a single memcpy — it carries extended-key blob references
// forward untouched, without reconstructing or reallocating them.
func nodeAppendRange(new BNode, old BNode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() {
		panic("source range out of bounds")
	}
	if dstNew+n > new.nkeys() {
		panic("destination range out of bounds")
	}
	if n == 0 {
		return
	}
	copy(new[slotPos(dstNew):slotPos(dstNew+n)], old[slotPos(srcOld):slotPos(srcOld+n)])
}

// nodeAppendKV writes a fresh key/value pair into slot idx. Keys longer
// than INLINE_KEY_LEN are stored as a prefix plus an extended-key blob,
// allocated through tree.extNew — this is the only path that allocates a
// new extended-key blob; separator propagation uses nodeAppendKeyFrom
// instead, which never allocates.
func nodeAppendKV(tree *BTree, new BNode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setKeySize(idx, uint16(len(key)))
	inline := new.keyInlineBytes(idx)
	for i := range inline {
		inline[i] = 0
	}

	if len(key) <= INLINE_KEY_LEN {
		copy(inline, key)
		new.setKeyFlags(idx, 0)
	} else {
		copy(inline[:EXT_PREFIX_LEN], key[:EXT_PREFIX_LEN])
		id := tree.extNew(key)
		binary.LittleEndian.PutUint64(inline[EXT_PREFIX_LEN:], id)
		new.setKeyFlags(idx, keyFlagExtended)
	}

	if new.btype() == BNODE_NODE {
		new.setPtr(idx, ptr)
	} else {
		new.setVal(idx, val)
	}
}

// nodeAppendKeyFrom copies an existing slot's key material (inline bytes,
// extended flag and blob id alike) verbatim into a new internal-node
// slot, substituting only the child pointer. Used to propagate a child's
// first key up as a separator without re-deriving or duplicating an
// extended key's blob.
func nodeAppendKeyFrom(new BNode, idx uint16, ptr uint64, old BNode, oldIdx uint16) {
	new.setKeySize(idx, old.keySize(oldIdx))
	new.setKeyFlags(idx, old.keyFlags(oldIdx)&keyFlagExtended)
	copy(new.keyInlineBytes(idx), old.keyInlineBytes(oldIdx))
	new.setPtr(idx, ptr)
}
