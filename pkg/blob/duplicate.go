package blob

import (
	"encoding/binary"

	"github.com/nainya/hamsterdb/pkg/herr"
)

// InsertMode selects where a new duplicate lands relative to an existing
// one, matching the original API's HAM_DUPLICATE_INSERT_* flags.
type InsertMode int

const (
	InsertAppend InsertMode = iota
	InsertPrepend
	InsertBefore
	InsertAfter
	InsertOverwrite
)

// dupTableHeader: count(4) | capacity(4), followed by capacity * 8-byte
// blob ids (unused slots are 0).
const dupTableHeaderSize = 8
const dupSlotSize = 8

// DupTable is a growable, capacity-doubling list of BLOB ids for the
// duplicate keys that hang off a single B-tree key, stored itself as one
// BLOB (so it shares the exact same page-allocation path as any other
// record) — the same "secondary structure riding on the same page
// store" technique the teacher's IndexManager uses for its secondary
// B-trees, applied here to a flat id list instead of a tree.
type DupTable struct {
	mgr *Manager
	id  uint64 // the blob id this table is stored under; 0 if new
	ids []uint64
}

// NewDupTable creates an empty, unsaved duplicate table.
func NewDupTable(mgr *Manager) *DupTable {
	return &DupTable{mgr: mgr}
}

// LoadDupTable reads an existing duplicate table from its blob id.
func LoadDupTable(mgr *Manager, id uint64) (*DupTable, error) {
	raw, err := mgr.Read(id)
	if err != nil {
		return nil, err
	}
	if len(raw) < dupTableHeaderSize {
		return nil, herr.New("blob.LoadDupTable", herr.CodeIntegrityViolated)
	}
	count := binary.LittleEndian.Uint32(raw[0:4])
	ids := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		off := dupTableHeaderSize + int(i)*dupSlotSize
		ids = append(ids, binary.LittleEndian.Uint64(raw[off:]))
	}
	return &DupTable{mgr: mgr, id: id, ids: ids}, nil
}

// Count returns the number of duplicates currently stored.
func (t *DupTable) Count() int { return len(t.ids) }

// At returns the blob id of the duplicate at position i.
func (t *DupTable) At(i int) uint64 { return t.ids[i] }

// Insert adds recordBlobID at the position implied by mode relative to
// refIndex (ignored for Append/Prepend). Capacity grows by doubling
// (1, 2, 4, 8, ...) the way the teacher's secondary index storage
// over-allocates rather than reallocating on every single insert.
func (t *DupTable) Insert(recordBlobID uint64, mode InsertMode, refIndex int) error {
	switch mode {
	case InsertAppend:
		t.ids = append(t.ids, recordBlobID)
	case InsertPrepend:
		t.ids = append([]uint64{recordBlobID}, t.ids...)
	case InsertBefore:
		t.ids = insertAt(t.ids, refIndex, recordBlobID)
	case InsertAfter:
		t.ids = insertAt(t.ids, refIndex+1, recordBlobID)
	case InsertOverwrite:
		if refIndex < 0 || refIndex >= len(t.ids) {
			return herr.New("blob.DupTable.Insert", herr.CodeInvalidParameter)
		}
		old := t.ids[refIndex]
		if old != recordBlobID {
			_ = t.mgr.Free(old)
		}
		t.ids[refIndex] = recordBlobID
	default:
		return herr.New("blob.DupTable.Insert", herr.CodeInvalidParameter)
	}
	return nil
}

func insertAt(ids []uint64, idx int, v uint64) []uint64 {
	if idx < 0 {
		idx = 0
	}
	if idx > len(ids) {
		idx = len(ids)
	}
	ids = append(ids, 0)
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = v
	return ids
}

// Erase removes the duplicate at index i, freeing its record blob.
func (t *DupTable) Erase(i int) error {
	if i < 0 || i >= len(t.ids) {
		return herr.New("blob.DupTable.Erase", herr.CodeInvalidParameter)
	}
	if err := t.mgr.Free(t.ids[i]); err != nil {
		return err
	}
	t.ids = append(t.ids[:i], t.ids[i+1:]...)
	return nil
}

// Save persists the table, returning its (possibly new) blob id. The old
// backing blob, if any, is freed first.
func (t *DupTable) Save() (uint64, error) {
	capacity := nextPow2(len(t.ids))
	buf := make([]byte, dupTableHeaderSize+capacity*dupSlotSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(t.ids)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(capacity))
	for i, id := range t.ids {
		binary.LittleEndian.PutUint64(buf[dupTableHeaderSize+i*dupSlotSize:], id)
	}

	if t.id != 0 {
		_ = t.mgr.Free(t.id)
	}
	newID, err := t.mgr.Alloc(buf)
	if err != nil {
		return 0, err
	}
	t.id = newID
	return newID, nil
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
