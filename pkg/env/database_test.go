package env

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nainya/hamsterdb/pkg/blob"
)

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	e, err := Create("", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestInsertGetErase(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Insert([]byte("key"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	val, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "value" {
		t.Fatalf("got %q", val)
	}

	if err := db.Erase([]byte("key")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("key")); err == nil {
		t.Fatal("expected key not found after erase")
	}
}

func TestInsertBlobRecordAboveThreshold(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}

	big := []byte(strings.Repeat("x", inlineThreshold*3))
	if err := db.Insert([]byte("key"), big); err != nil {
		t.Fatal(err)
	}
	val, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(val, big) {
		t.Fatal("blob record did not round-trip")
	}
}

func TestInsertOverwriteFreesOldBlob(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}

	big := []byte(strings.Repeat("x", inlineThreshold*3))
	if err := db.Insert([]byte("key"), big); err != nil {
		t.Fatal(err)
	}
	if err := db.Insert([]byte("key"), []byte("small")); err != nil {
		t.Fatal(err)
	}
	val, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "small" {
		t.Fatalf("got %q", val)
	}
}

func TestDuplicateInsertAndRead(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Insert([]byte("key"), []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertDuplicate([]byte("key"), []byte("second"), blob.InsertAppend, 0); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertDuplicate([]byte("key"), []byte("third"), blob.InsertAppend, 0); err != nil {
		t.Fatal(err)
	}

	dups, err := db.GetDuplicates([]byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	if len(dups) != 3 {
		t.Fatalf("got %d duplicates, want 3", len(dups))
	}
	if string(dups[0]) != "first" || string(dups[1]) != "second" || string(dups[2]) != "third" {
		t.Fatalf("unexpected duplicate order: %v", dups)
	}
}

func TestTransactionCommitVisibility(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}

	tx := db.Begin()
	if err := db.TxnInsert(tx, []byte("key"), []byte("value")); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Get([]byte("key")); err == nil {
		t.Fatal("key should not be visible outside the transaction before commit")
	}
	val, err := db.TxnGet(tx, []byte("key"))
	if err != nil || string(val) != "value" {
		t.Fatalf("TxnGet: val=%q err=%v", val, err)
	}

	if err := db.Commit(tx); err != nil {
		t.Fatal(err)
	}
	val, err = db.Get([]byte("key"))
	if err != nil || string(val) != "value" {
		t.Fatalf("after commit: val=%q err=%v", val, err)
	}
}

func TestTransactionAbortDiscardsWrites(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}

	tx := db.Begin()
	if err := db.TxnInsert(tx, []byte("key"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	db.Abort(tx)

	if _, err := db.Get([]byte("key")); err == nil {
		t.Fatal("key should not exist after abort")
	}
}

func TestCursorSeesCommittedAndOwnUncommitted(t *testing.T) {
	e := newTestEnv(t)
	db, err := e.CreateDatabase("d")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Insert([]byte("a"), []byte("va")); err != nil {
		t.Fatal(err)
	}
	if err := db.Insert([]byte("c"), []byte("vc")); err != nil {
		t.Fatal(err)
	}

	tx := db.Begin()
	if err := db.TxnInsert(tx, []byte("b"), []byte("vb")); err != nil {
		t.Fatal(err)
	}

	cur := db.NewCursor(tx)
	var keys []string
	for ok := cur.MoveFirst(); ok; ok = cur.MoveNext() {
		keys = append(keys, string(cur.Key()))
	}
	if strings.Join(keys, ",") != "a,b,c" {
		t.Fatalf("got %v, want [a b c]", keys)
	}
}
