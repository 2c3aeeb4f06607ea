package blob

import (
	"bytes"
	"testing"

	"github.com/nainya/hamsterdb/pkg/freelist"
	"github.com/nainya/hamsterdb/pkg/page"
)

func newTestManager(t *testing.T, txnEnabled bool) *Manager {
	t.Helper()
	dev := page.NewMemDevice(nil)
	cache := page.NewCache(dev, 64)

	var next uint64 = 1
	free := freelist.NewReduced(freelist.Callbacks{
		Get: func(ptr uint64) []byte { p, _ := cache.Get(ptr); return p },
		New: func(node []byte) uint64 {
			ptr := next
			next++
			_ = cache.Put(ptr, node)
			return ptr
		},
		Set: func(ptr uint64, node []byte) { _ = cache.Put(ptr, node) },
	})

	appendPage := func(data []byte) uint64 {
		ptr := next
		next++
		_ = cache.Put(ptr, data)
		return ptr
	}

	return New(cache, free, txnEnabled, appendPage)
}

func TestBlobAllocReadSmall(t *testing.T) {
	m := newTestManager(t, false)
	payload := []byte("hello hamsterdb")

	id, err := m.Alloc(payload)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	got, err := m.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestBlobMultiPage(t *testing.T) {
	m := newTestManager(t, false)
	payload := bytes.Repeat([]byte("x"), int(page.Size)*3+123)

	id, err := m.Alloc(payload)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	got, err := m.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("multi-page round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestPartialReadWriteDisallowedWithTxn(t *testing.T) {
	m := newTestManager(t, true)
	id, _ := m.Alloc([]byte("payload"))

	if _, err := m.PartialRead(id, 0, 3); err != ErrPartialWithTxn {
		t.Fatalf("expected ErrPartialWithTxn, got %v", err)
	}
	if err := m.PartialWrite(id, 0, []byte("x")); err != ErrPartialWithTxn {
		t.Fatalf("expected ErrPartialWithTxn, got %v", err)
	}
}

func TestPartialReadWrite(t *testing.T) {
	m := newTestManager(t, false)
	id, _ := m.Alloc([]byte("0123456789"))

	got, err := m.PartialRead(id, 2, 4)
	if err != nil {
		t.Fatalf("PartialRead: %v", err)
	}
	if string(got) != "2345" {
		t.Fatalf("got %q", got)
	}

	if err := m.PartialWrite(id, 2, []byte("XXXX")); err != nil {
		t.Fatalf("PartialWrite: %v", err)
	}
}

func TestDupTableInsertOrder(t *testing.T) {
	m := newTestManager(t, false)
	table := NewDupTable(m)

	id1, _ := m.Alloc([]byte("a"))
	id2, _ := m.Alloc([]byte("b"))
	id3, _ := m.Alloc([]byte("c"))

	_ = table.Insert(id1, InsertAppend, 0)
	_ = table.Insert(id2, InsertAppend, 0)
	_ = table.Insert(id3, InsertBefore, 1)

	if table.Count() != 3 {
		t.Fatalf("expected 3 duplicates, got %d", table.Count())
	}
	if table.At(1) != id3 {
		t.Fatalf("InsertBefore placed id3 at the wrong index")
	}

	savedID, err := table.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadDupTable(m, savedID)
	if err != nil {
		t.Fatalf("LoadDupTable: %v", err)
	}
	if reloaded.Count() != 3 {
		t.Fatalf("reloaded table has %d entries, want 3", reloaded.Count())
	}
}
