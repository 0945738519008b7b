// Package persistence saves and loads ledger snapshots across restarts.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

// SnapshotVersion is the snapshot layout written by this build.
const SnapshotVersion = 1

// ErrNoSnapshot is returned by Load when nothing was saved for the ledger.
var ErrNoSnapshot = errors.New("persistence: no snapshot")

// Balance is one non-zero account balance. Amount is a decimal string.
type Balance struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Snapshot is the complete ledger state.
type Snapshot struct {
	Version            int                  `json:"version"`
	LedgerID           string               `json:"ledger_id"`
	LogLength          uint64               `json:"log_length"`
	LiveStart          uint64               `json:"live_start"`
	LiveBlocks         []icrc3.Block        `json:"live_blocks"`
	Registry           []archive.Record     `json:"registry"`
	Balances           []Balance            `json:"balances"`
	TipHash            []byte               `json:"tip_hash"`
	LastModified       time.Time            `json:"last_modified"`
	ArchiveControllers []identity.Principal `json:"archive_controllers"`
	TakenAt            time.Time            `json:"taken_at"`
}

// Encode serializes the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// Decode parses a snapshot written by Encode.
func Decode(raw []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", s.Version)
	}
	return &s, nil
}

// Store persists snapshots keyed by ledger id.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, ledgerID string) (*Snapshot, error)
}
