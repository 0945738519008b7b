// Package storage wraps goleveldb for the shard and snapshot stores.
package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// LevelDB wraps a goleveldb handle.
type LevelDB struct {
	conn *leveldb.DB
}

// Open opens (or creates) a LevelDB instance at path.
func Open(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{conn: db}, nil
}

// OpenMemory opens a LevelDB instance backed by memory only.
func OpenMemory() (*LevelDB, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &LevelDB{conn: db}, nil
}

// Close closes the underlying database.
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Put inserts or updates a key-value pair.
func (l *LevelDB) Put(key, value []byte) error {
	return l.conn.Put(key, value, nil)
}

// Get retrieves the value for key.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.conn.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Has reports whether key exists.
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.conn.Has(key, nil)
}

// Iterator returns an iterator over keys in [start, limit). A nil bound is open.
func (l *LevelDB) Iterator(start, limit []byte) iterator.Iterator {
	if start == nil && limit == nil {
		return l.conn.NewIterator(nil, nil)
	}
	return l.conn.NewIterator(&ldbutil.Range{Start: start, Limit: limit}, nil)
}

// PrefixIterator returns an iterator over every key carrying prefix.
func (l *LevelDB) PrefixIterator(prefix []byte) iterator.Iterator {
	return l.conn.NewIterator(ldbutil.BytesPrefix(prefix), nil)
}

// Begin starts a write batch. Nothing is visible until Write succeeds.
func (l *LevelDB) Begin() *Batch {
	return &Batch{db: l.conn, batch: new(leveldb.Batch)}
}

// Batch groups writes so they land atomically.
type Batch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *Batch) Put(key, value []byte) { b.batch.Put(key, value) }

func (b *Batch) Delete(key []byte) { b.batch.Delete(key) }

// Len returns the number of queued writes.
func (b *Batch) Len() int { return b.batch.Len() }

// Write commits the batch and resets it.
func (b *Batch) Write() error {
	err := b.db.Write(b.batch, nil)
	b.batch.Reset()
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}
