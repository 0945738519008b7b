package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/blockstore"
	"github.com/jmerrifield20/chainledger/internal/certification"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/persistence"
)

// Snapshot captures the complete ledger state.
func (l *Ledger) Snapshot() *persistence.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := &l.state
	return &persistence.Snapshot{
		Version:            persistence.SnapshotVersion,
		LedgerID:           l.cfg.ID,
		LogLength:          st.logLength,
		LiveStart:          st.tail.Start(),
		LiveBlocks:         st.tail.Blocks(),
		Registry:           st.registry.Records(),
		Balances:           st.balances.Entries(),
		TipHash:            append([]byte(nil), st.tipHash...),
		LastModified:       st.lastModified,
		ArchiveControllers: l.archiver.Config().Controllers,
		TakenAt:            l.now().UTC(),
	}
}

// Restore rebuilds a ledger from snap. The snapshot's archive controllers
// replace those configured on archiver. A snapshot that breaks the coverage
// invariant or the live hash chain is rejected with ErrCorruptSnapshot.
func Restore(snap *persistence.Snapshot, cfg Config, archiver *archive.Manager, certifier *certification.Certifier, logger *zap.Logger) (*Ledger, error) {
	if snap.LedgerID != "" && cfg.ID != "" && snap.LedgerID != cfg.ID {
		return nil, fmt.Errorf("%w: snapshot belongs to %q, not %q", ErrCorruptSnapshot, snap.LedgerID, cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = snap.LedgerID
	}

	registry, err := archive.NewRegistry(snap.Registry)
	if err != nil {
		return nil, fmt.Errorf("%w: registry: %w", ErrCorruptSnapshot, err)
	}
	tail, err := blockstore.Restore(snap.LiveStart, snap.LiveBlocks)
	if err != nil {
		return nil, fmt.Errorf("%w: live blocks: %w", ErrCorruptSnapshot, err)
	}
	balances, err := BalancesFromEntries(snap.Balances)
	if err != nil {
		return nil, fmt.Errorf("%w: balances: %w", ErrCorruptSnapshot, err)
	}

	st := state{
		logLength:    snap.LogLength,
		tail:         tail,
		registry:     registry,
		balances:     balances,
		tipHash:      append([]byte(nil), snap.TipHash...),
		lastModified: snap.LastModified,
	}
	if err := verifyState(&st); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	archiver.SetControllers(snap.ArchiveControllers)
	l := newLedger(cfg, archiver, certifier, logger, st)
	l.certify()

	logger.Info("ledger restored",
		zap.String("ledger_id", l.cfg.ID),
		zap.Uint64("log_length", st.logLength),
		zap.Int("live_blocks", tail.Len()),
		zap.Int("archived_records", registry.Len()),
	)
	return l, nil
}

// PostUpgrade runs after Restore. It applies controllers (or, when nil, the
// restored set) to every shard and bumps last_modified on the ledger and
// on each shard.
func (l *Ledger) PostUpgrade(ctx context.Context, controllers []identity.Principal) error {
	if controllers == nil {
		controllers = l.archiver.Config().Controllers
	}

	l.mu.Lock()
	refs := l.state.registry.ShardRefs()
	l.touch()
	l.mu.Unlock()

	if err := l.archiver.Reconfigure(ctx, controllers, refs); err != nil {
		return fmt.Errorf("post-upgrade: %w", err)
	}
	l.logger.Info("post-upgrade complete",
		zap.Int("shards", len(refs)),
		zap.Int("controllers", len(controllers)),
	)
	return nil
}
