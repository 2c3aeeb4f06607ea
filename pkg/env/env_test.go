package env

import (
	"path/filepath"
	"testing"
)

func TestCreateInMemoryAndClose(t *testing.T) {
	e, err := Create("", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateOpenOnDiskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	e, err := Create(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	db, err := e.CreateDatabase("orders")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Insert([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	db2, err := e2.OpenDatabase("orders")
	if err != nil {
		t.Fatal(err)
	}
	val, err := db2.Get([]byte("k1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v1" {
		t.Fatalf("got %q, want v1", val)
	}
}

func TestCreateDatabaseDuplicateNameRejected(t *testing.T) {
	e, err := Create("", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.CreateDatabase("orders"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateDatabase("orders"); err == nil {
		t.Fatal("expected error creating a duplicate database name")
	}
}

func TestOpenDatabaseMissingFails(t *testing.T) {
	e, err := Create("", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.OpenDatabase("nope"); err == nil {
		t.Fatal("expected error opening a database that was never created")
	}
}

func TestRenameAndEraseDatabase(t *testing.T) {
	e, err := Create("", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.CreateDatabase("a"); err != nil {
		t.Fatal(err)
	}
	if err := e.RenameDatabase("a", "b"); err != nil {
		t.Fatal(err)
	}
	names, err := e.DatabaseNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("got %v, want [b]", names)
	}

	if err := e.EraseDatabase("b"); err != nil {
		t.Fatal(err)
	}
	names, err = e.DatabaseNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("got %v, want none", names)
	}
}

func TestCheckIntegrityOnHealthyDatabase(t *testing.T) {
	e, err := Create("", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	db, err := e.CreateDatabase("a")
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := db.Insert([]byte(k), []byte("val-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}
