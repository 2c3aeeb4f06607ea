package env

import (
	"encoding/binary"
	"time"

	"github.com/nainya/hamsterdb/pkg/blob"
	"github.com/nainya/hamsterdb/pkg/btree"
	"github.com/nainya/hamsterdb/pkg/cursor"
	"github.com/nainya/hamsterdb/pkg/herr"
	"github.com/nainya/hamsterdb/pkg/txn"
)

// Record-kind tag: every value the tree actually stores is prefixed with
// one of these bytes, so Get can tell an inline payload from a BLOB
// pointer or a duplicate table without consulting anything else —
// the same "tag the slot, not the key" approach the original engine
// uses to distinguish HAM_KEY_HAS_DUPLICATES/HAM_RECORD_BIG records.
const (
	recKindInline byte = 0
	recKindBlob   byte = 1
	recKindDup    byte = 2
)

// inlineThreshold is the largest payload stored directly in a B-tree
// leaf; anything bigger moves to pkg/blob, matching the original
// engine's small-record/big-record split. The tree's leaf record slot
// is BTREE_MAX_VAL_SIZE (8) bytes total, and the first byte is always
// the record-kind tag, so 7 bytes of payload is all that's left.
const inlineThreshold = 7

// recIDSize is how many bytes a BLOB or duplicate-table id occupies
// within a record's payload: btree.BTREE_MAX_VAL_SIZE (8) minus the
// 1-byte kind tag. putRecID/getRecID pack a uint64 id into that many
// bytes, so a process is limited to 2^56 page allocations over the life
// of one environment — far beyond what page.MaxSize-sized pages could
// ever address on real storage.
const recIDSize = 7

func putRecID(id uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], id)
	return tmp[:recIDSize]
}

func getRecID(payload []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:recIDSize], payload)
	return binary.LittleEndian.Uint64(tmp[:])
}

// Database is one named B-tree within an Environment, plus the
// transaction manager scoped to it. Each database gets its own
// txn.Manager (not one shared across the environment) so that a
// write-write conflict on "orders" never blocks an unrelated write to
// "customers" — the original API's per-database cursor/txn scoping.
type Database struct {
	env  *Environment
	name string
	tree btree.BTree
	txns *txn.Manager
}

func (db *Database) Name() string { return db.name }

func encodeRecord(kind byte, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = kind
	copy(buf[1:], payload)
	return buf
}

func decodeRecord(raw []byte) (kind byte, payload []byte, err error) {
	if len(raw) < 1 {
		return 0, nil, herr.New("env.decodeRecord", herr.CodeIntegrityViolated)
	}
	return raw[0], raw[1:], nil
}

// materialize resolves a stored record into its user-visible value. For
// recKindDup it returns the first duplicate, matching the original
// API's default cursor/get behavior of landing on the first duplicate.
func (db *Database) materialize(raw []byte) ([]byte, error) {
	kind, payload, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case recKindInline:
		return payload, nil
	case recKindBlob:
		id := getRecID(payload)
		return db.env.blobs.Read(id)
	case recKindDup:
		id := getRecID(payload)
		table, err := blob.LoadDupTable(db.env.blobs, id)
		if err != nil {
			return nil, err
		}
		if table.Count() == 0 {
			return nil, herr.New("env.materialize", herr.CodeKeyNotFound)
		}
		return db.env.blobs.Read(table.At(0))
	default:
		return nil, herr.New("env.materialize", herr.CodeIntegrityViolated)
	}
}

func (db *Database) encodeValue(value []byte) ([]byte, error) {
	if len(value) <= inlineThreshold {
		return encodeRecord(recKindInline, value), nil
	}
	id, err := db.env.blobs.Alloc(value)
	if err != nil {
		return nil, err
	}
	return encodeRecord(recKindBlob, putRecID(id)), nil
}

// Get looks up key outside of any transaction, seeing only what has
// already been committed to the durable tree.
func (db *Database) Get(key []byte) ([]byte, error) {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	raw, ok := db.tree.Get(key)
	if !ok {
		return nil, herr.New("env.Get", herr.CodeKeyNotFound)
	}
	return db.materialize(raw)
}

// Insert stores value under key, overwriting any existing single value.
// Use InsertDuplicate to add another value alongside an existing one
// instead of replacing it.
func (db *Database) Insert(key, value []byte) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	start := time.Now()
	err := db.insertLocked(key, value)
	db.env.log.LogEnvOperation("insert", time.Since(start), err)
	db.env.metrics.RecordEnvOperation("insert", statusOf(err), time.Since(start))
	return err
}

// InsertAuto stores value under the next record-number key, the
// original API's HAM_RECORD_NUMBER auto-increment mode: the key is
// derived from the highest record number already in the tree rather
// than a separately persisted counter.
func (db *Database) InsertAuto(value []byte) (uint64, error) {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	recno := db.tree.LastRecno() + 1
	if err := db.insertLocked(btree.EncodeRecno(recno), value); err != nil {
		return 0, err
	}
	return recno, nil
}

func (db *Database) insertLocked(key, value []byte) error {
	raw, err := db.encodeValue(value)
	if err != nil {
		return err
	}
	if err := db.freeOldRecord(key); err != nil {
		return err
	}
	db.tree.Insert(key, raw)
	if err := db.env.persistRoot(db); err != nil {
		return err
	}
	return db.env.writeMeta()
}

// InsertDuplicate adds value as another record under key, converting an
// existing single record into a two-entry duplicate table on first use.
func (db *Database) InsertDuplicate(key, value []byte, mode blob.InsertMode, refIndex int) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	recID, err := db.env.blobs.Alloc(value)
	if err != nil {
		return err
	}

	var table *blob.DupTable
	existing, ok := db.tree.Get(key)
	if !ok {
		table = blob.NewDupTable(db.env.blobs)
	} else {
		kind, payload, derr := decodeRecord(existing)
		if derr != nil {
			return derr
		}
		switch kind {
		case recKindDup:
			id := getRecID(payload)
			table, err = blob.LoadDupTable(db.env.blobs, id)
			if err != nil {
				return err
			}
		case recKindInline, recKindBlob:
			// first duplicate: fold the existing single record in as
			// duplicate 0 before appending the new one.
			firstID, ferr := db.recordToBlobID(kind, payload)
			if ferr != nil {
				return ferr
			}
			table = blob.NewDupTable(db.env.blobs)
			if err := table.Insert(firstID, blob.InsertAppend, 0); err != nil {
				return err
			}
		default:
			return herr.New("env.InsertDuplicate", herr.CodeIntegrityViolated)
		}
	}

	if err := table.Insert(recID, mode, refIndex); err != nil {
		return err
	}
	tableID, err := table.Save()
	if err != nil {
		return err
	}

	db.tree.Insert(key, encodeRecord(recKindDup, putRecID(tableID)))

	if err := db.env.persistRoot(db); err != nil {
		return err
	}
	return db.env.writeMeta()
}

// recordToBlobID returns a BLOB id holding the same bytes an inline or
// already-blobbed record represents, allocating one for inline payloads.
func (db *Database) recordToBlobID(kind byte, payload []byte) (uint64, error) {
	if kind == recKindBlob {
		return getRecID(payload), nil
	}
	return db.env.blobs.Alloc(payload)
}

// GetDuplicates returns every value stored under key, in table order.
func (db *Database) GetDuplicates(key []byte) ([][]byte, error) {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	raw, ok := db.tree.Get(key)
	if !ok {
		return nil, herr.New("env.GetDuplicates", herr.CodeKeyNotFound)
	}
	return db.decodeDuplicates(raw)
}

// decodeDuplicates resolves a raw tree record into every value it
// represents: one, for an inline or BLOB record, or the full duplicate
// table's contents. Assumes env.mu is already held.
func (db *Database) decodeDuplicates(raw []byte) ([][]byte, error) {
	kind, payload, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if kind != recKindDup {
		val, err := db.materialize(raw)
		if err != nil {
			return nil, err
		}
		return [][]byte{val}, nil
	}
	id := getRecID(payload)
	table, err := blob.LoadDupTable(db.env.blobs, id)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, table.Count())
	for i := range out {
		v, err := db.env.blobs.Read(table.At(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (db *Database) freeOldRecord(key []byte) error {
	raw, ok := db.tree.Get(key)
	if !ok {
		return nil
	}
	kind, payload, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	switch kind {
	case recKindBlob:
		return db.env.blobs.Free(getRecID(payload))
	case recKindDup:
		id := getRecID(payload)
		table, err := blob.LoadDupTable(db.env.blobs, id)
		if err != nil {
			return err
		}
		for i := 0; i < table.Count(); i++ {
			_ = db.env.blobs.Free(table.At(i))
		}
		return db.env.blobs.Free(id)
	default:
		return nil
	}
}

// Erase removes key and frees any BLOB or duplicate table it owns.
func (db *Database) Erase(key []byte) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	start := time.Now()
	err := db.eraseLocked(key)
	db.env.log.LogEnvOperation("erase", time.Since(start), err)
	db.env.metrics.RecordEnvOperation("erase", statusOf(err), time.Since(start))
	return err
}

func (db *Database) eraseLocked(key []byte) error {
	if err := db.freeOldRecord(key); err != nil {
		return err
	}
	if !db.tree.Delete(key) {
		return herr.New("env.Erase", herr.CodeKeyNotFound)
	}
	if err := db.env.persistRoot(db); err != nil {
		return err
	}
	return db.env.writeMeta()
}

// Begin starts a new transaction against this database.
func (db *Database) Begin() *txn.Txn { return db.txns.Begin() }

// TxnInsert records an insert within t, invisible to every other
// transaction (and to non-transactional readers) until Commit.
func (db *Database) TxnInsert(t *txn.Txn, key, value []byte) error {
	raw, err := db.encodeValue(value)
	if err != nil {
		return err
	}
	db.txns.Set(t, key, raw)
	return nil
}

// TxnErase records a delete within t.
func (db *Database) TxnErase(t *txn.Txn, key []byte) {
	db.txns.Erase(t, key)
}

// TxnGet reads key as visible to t: its own uncommitted write first,
// falling back to the committed tree.
func (db *Database) TxnGet(t *txn.Txn, key []byte) ([]byte, error) {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	if val, isErase, found := db.txns.Get(t, key); found {
		if isErase {
			return nil, herr.New("env.TxnGet", herr.CodeKeyNotFound)
		}
		return db.materialize(val)
	}
	raw, ok := db.tree.Get(key)
	if !ok {
		return nil, herr.New("env.TxnGet", herr.CodeKeyNotFound)
	}
	return db.materialize(raw)
}

// Commit commits t, then folds every key it touched into the durable
// B-tree and persists the new root — the same fold-then-flush sweep
// pattern the teacher's KVTX.Commit uses to apply a rollback journal's
// surviving writes to the main tree before its meta page is rewritten.
func (db *Database) Commit(t *txn.Txn) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	start := time.Now()
	err := db.commitLocked(t)
	db.env.log.LogEnvOperation("commit", time.Since(start), err)
	db.env.metrics.RecordEnvOperation("commit", statusOf(err), time.Since(start))
	return err
}

func (db *Database) commitLocked(t *txn.Txn) error {
	touched := db.txns.PendingOps(t)
	if err := db.txns.Commit(t); err != nil {
		return err
	}

	for _, op := range touched {
		latest, ok := db.txns.LatestCommitted(op.Key)
		if !ok {
			continue
		}
		if latest.Kind == txn.OpErase {
			_ = db.freeOldRecord(op.Key)
			db.tree.Delete(op.Key)
		} else {
			_ = db.freeOldRecord(op.Key)
			db.tree.Insert(op.Key, latest.Value)
		}
		db.txns.Flush(op.Key)
	}

	if err := db.env.persistRoot(db); err != nil {
		return err
	}
	return db.env.writeMeta()
}

// Abort discards every write t made.
func (db *Database) Abort(t *txn.Txn) { db.txns.Abort(t) }

// Cursor wraps pkg/cursor.Cursor to decode the record-kind tag every
// value is stored under, so callers see the same materialized bytes
// Get/TxnGet would return instead of the raw inline/BLOB-pointer/
// duplicate-table encoding.
//
// A Cursor does not take env's lock itself — it must not be moved or
// read concurrently with a mutation against the same database, the
// same single-threaded-handle contract the original API places on its
// own ham_cursor_t.
type Cursor struct {
	db  *Database
	raw *cursor.Cursor
}

// NewCursor creates a cursor over this database's tree. If t is nil,
// the cursor only ever sees committed data; otherwise it also sees t's
// own uncommitted writes, merged in ahead of the committed tree.
func (db *Database) NewCursor(t *txn.Txn) *Cursor {
	return &Cursor{db: db, raw: cursor.New(&db.tree, db.txns, t)}
}

func (c *Cursor) Valid() bool { return c.raw.Valid() }
func (c *Cursor) Key() []byte { return c.raw.Key() }

// Record returns the first duplicate's value for the cursor's current
// key. Use Duplicates for a key with more than one value.
func (c *Cursor) Record() ([]byte, error) { return c.db.materialize(c.raw.Record()) }

// Duplicates returns every value stored under the cursor's current key.
func (c *Cursor) Duplicates() ([][]byte, error) { return c.db.decodeDuplicates(c.raw.Record()) }

func (c *Cursor) MoveFirst() bool    { return c.raw.MoveFirst() }
func (c *Cursor) MoveLast() bool     { return c.raw.MoveLast() }
func (c *Cursor) MoveNext() bool     { return c.raw.MoveNext() }
func (c *Cursor) MovePrevious() bool { return c.raw.MovePrevious() }
func (c *Cursor) Find(key []byte, mode btree.MatchMode) error { return c.raw.Find(key, mode) }
