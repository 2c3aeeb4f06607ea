package btree

import "encoding/binary"

// RecnoKeySize is the width of a record-number key: a big-endian uint64,
// so lexicographic byte comparison (which is all nodeLookupLE ever does)
// also sorts numerically.
const RecnoKeySize = 8

// EncodeRecno encodes a record number as an order-preserving btree key.
func EncodeRecno(n uint64) []byte {
	buf := make([]byte, RecnoKeySize)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeRecno decodes an order-preserving record-number key.
func DecodeRecno(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// LastRecno returns the highest record number currently stored in a
// record-number database, or 0 if it is empty. Callers append with
// LastRecno()+1, matching the original's HAM_RECORD_NUMBER auto-increment
// behavior (the sequence is derived from tree content rather than a
// separately persisted counter, so it is always consistent with what is
// actually on disk after a crash).
func (tree *BTree) LastRecno() uint64 {
	if tree.root == 0 {
		return 0
	}
	iter := tree.NewIterator()
	if !iter.SeekLE([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		return 0
	}
	if !iter.Valid() || isSentinel(iter) {
		return 0
	}
	return DecodeRecno(iter.Key())
}
