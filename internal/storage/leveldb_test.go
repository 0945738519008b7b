package storage_test

import (
	"errors"
	"testing"

	"github.com/jmerrifield20/chainledger/internal/storage"
)

func TestBatch_atomicWrite(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck

	b := db.Begin()
	b.Put([]byte("a:1"), []byte("one"))
	b.Put([]byte("a:2"), []byte("two"))
	b.Put([]byte("b:1"), []byte("other"))

	if ok, _ := db.Has([]byte("a:1")); ok {
		t.Fatal("batch visible before Write")
	}
	if err := b.Write(); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Errorf("batch not reset after Write, len = %d", b.Len())
	}

	it := db.PrefixIterator([]byte("a:"))
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if n != 2 {
		t.Errorf("prefix iterator saw %d keys, want 2", n)
	}
}

func TestGet_notFound(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck

	if _, err := db.Get([]byte("missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestOpen_persists(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck
	v, err := db.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Errorf("Get after reopen = %q, %v", v, err)
	}
}
