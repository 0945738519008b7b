package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/chainledger/internal/storage"
)

// LevelStore keeps snapshots in goleveldb under "snapshot:<ledger id>".
type LevelStore struct {
	db *storage.LevelDB
}

// NewLevelStore wraps db. The caller closes db.
func NewLevelStore(db *storage.LevelDB) *LevelStore {
	return &LevelStore{db: db}
}

func snapshotKey(ledgerID string) []byte {
	return []byte("snapshot:" + ledgerID)
}

func (l *LevelStore) Save(_ context.Context, snap *Snapshot) error {
	raw, err := snap.Encode()
	if err != nil {
		return err
	}
	if err := l.db.Put(snapshotKey(snap.LedgerID), raw); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (l *LevelStore) Load(_ context.Context, ledgerID string) (*Snapshot, error) {
	raw, err := l.db.Get(snapshotKey(ledgerID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return Decode(raw)
}
