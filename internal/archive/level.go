package archive

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/storage"
)

var (
	infoKey     = []byte("info")
	blockPrefix = []byte("block:")
)

// LevelProvisioner hosts shards on disk, one goleveldb directory per shard.
type LevelProvisioner struct {
	host
	dir string
}

// NewLevelProvisioner opens every shard found under dir and hosts new ones there.
func NewLevelProvisioner(dir string) (*LevelProvisioner, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create shard dir %q: %w", dir, err)
	}
	p := &LevelProvisioner{dir: dir}
	p.init(func(ref ShardRef, _ Info) (blockStorage, error) {
		db, err := storage.Open(filepath.Join(dir, string(ref)))
		if err != nil {
			return nil, err
		}
		return &levelStorage{db: db}, nil
	})

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read shard dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		u, err := p.load(filepath.Join(dir, e.Name()))
		if err != nil {
			_ = p.closeAll()
			return nil, err
		}
		p.adopt(u)
	}
	return p, nil
}

// Close closes every shard database.
func (p *LevelProvisioner) Close() error { return p.closeAll() }

func (p *LevelProvisioner) load(path string) (*unit, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	raw, err := db.Get(infoKey)
	if err != nil {
		_ = db.Close()
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("shard at %q has no info record", path)
		}
		return nil, fmt.Errorf("read shard info at %q: %w", path, err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("decode shard info at %q: %w", path, err)
	}
	return &unit{info: info, store: &levelStorage{db: db}, now: p.clock}, nil
}

type levelStorage struct {
	db *storage.LevelDB
}

func blockKey(id uint64) []byte {
	k := make([]byte, len(blockPrefix)+8)
	copy(k, blockPrefix)
	binary.BigEndian.PutUint64(k[len(blockPrefix):], id)
	return k
}

func (l *levelStorage) put(blocks []icrc3.Block, info Info) error {
	b := l.db.Begin()
	for _, blk := range blocks {
		raw, err := json.Marshal(blk.Block)
		if err != nil {
			return fmt.Errorf("encode block %d: %w", blk.ID, err)
		}
		b.Put(blockKey(blk.ID), raw)
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode shard info: %w", err)
	}
	b.Put(infoKey, raw)
	return b.Write()
}

func (l *levelStorage) get(start, end uint64) ([]icrc3.Block, error) {
	it := l.db.Iterator(blockKey(start), blockKey(end))
	defer it.Release()

	out := make([]icrc3.Block, 0, end-start)
	for it.Next() {
		id := binary.BigEndian.Uint64(it.Key()[len(blockPrefix):])
		var v icrc3.Value
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, fmt.Errorf("decode block %d: %w", id, err)
		}
		out = append(out, icrc3.Block{ID: id, Block: v})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	if uint64(len(out)) != end-start {
		return nil, fmt.Errorf("shard storage missing blocks in [%d, %d)", start, end)
	}
	return out, nil
}

func (l *levelStorage) saveInfo(info Info) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode shard info: %w", err)
	}
	return l.db.Put(infoKey, raw)
}

func (l *levelStorage) close() error { return l.db.Close() }
