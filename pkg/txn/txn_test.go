package txn

import (
	"bytes"
	"testing"

	"github.com/nainya/hamsterdb/pkg/herr"
)

func TestCommitVisibility(t *testing.T) {
	m := NewManager()

	t1 := m.Begin()
	m.Set(t1, []byte("k"), []byte("v1"))

	if _, _, found := m.Get(t1, []byte("k")); !found {
		t.Fatal("writer should see its own uncommitted write")
	}

	t2 := m.Begin()
	if _, _, found := m.Get(t2, []byte("k")); found {
		t.Fatal("other transaction must not see an uncommitted write")
	}

	if err := m.Commit(t1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	val, isErase, found := m.Get(t2, []byte("k"))
	if !found || isErase || !bytes.Equal(val, []byte("v1")) {
		t.Fatalf("expected t2 to see t1's committed write; got %v %v %v", val, isErase, found)
	}
}

func TestWriteWriteConflict(t *testing.T) {
	m := NewManager()

	t1 := m.Begin()
	t2 := m.Begin()

	m.Set(t1, []byte("k"), []byte("from-t1"))
	m.Set(t2, []byte("k"), []byte("from-t2"))

	if err := m.Commit(t1); err != nil {
		t.Fatalf("t1 commit should succeed: %v", err)
	}

	err := m.Commit(t2)
	if err == nil {
		t.Fatal("expected a write-write conflict")
	}
	if !herr.Is(err, herr.CodeTxnConflict) {
		t.Fatalf("expected CodeTxnConflict, got %v", err)
	}
}

func TestAbortDiscardsWrites(t *testing.T) {
	m := NewManager()

	t1 := m.Begin()
	m.Set(t1, []byte("k"), []byte("v"))
	m.Abort(t1)

	t2 := m.Begin()
	if _, _, found := m.Get(t2, []byte("k")); found {
		t.Fatal("aborted write must not be visible")
	}
}

func TestAbortAll(t *testing.T) {
	m := NewManager()
	t1 := m.Begin()
	t2 := m.Begin()
	m.Set(t1, []byte("a"), []byte("1"))
	m.Set(t2, []byte("b"), []byte("2"))

	m.AbortAll()

	if len(m.ActiveTxnIDs()) != 0 {
		t.Fatal("expected no active transactions after AbortAll")
	}
}
