package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises snapshot writers across ledger instances sharing
// a database.
const advisoryLockKey = int64(1_307_421_120)

// PostgresStore keeps the latest snapshot per ledger in ledger_snapshots and
// every saved one in ledger_snapshot_history.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Save upserts snap inside a transaction holding the advisory lock. A snapshot
// older than the stored one (shorter log) is refused.
func (p *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	raw, err := snap.Encode()
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var stored int64
	err = tx.QueryRow(ctx,
		"SELECT log_length FROM ledger_snapshots WHERE ledger_id = $1", snap.LedgerID,
	).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read stored snapshot: %w", err)
	case uint64(stored) > snap.LogLength:
		return fmt.Errorf("save snapshot: stored log length %d is ahead of %d", stored, snap.LogLength)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_snapshots (ledger_id, version, log_length, snapshot, taken_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (ledger_id) DO UPDATE
		 SET version = EXCLUDED.version, log_length = EXCLUDED.log_length,
		     snapshot = EXCLUDED.snapshot, taken_at = EXCLUDED.taken_at`,
		snap.LedgerID, snap.Version, int64(snap.LogLength), raw, snap.TakenAt,
	); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_snapshot_history (ledger_id, log_length, snapshot, taken_at)
		 VALUES ($1, $2, $3, $4)`,
		snap.LedgerID, int64(snap.LogLength), raw, snap.TakenAt,
	); err != nil {
		return fmt.Errorf("append snapshot history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}

	p.logger.Debug("snapshot saved",
		zap.String("ledger_id", snap.LedgerID),
		zap.Uint64("log_length", snap.LogLength),
		zap.Int("bytes", len(raw)),
	)
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, ledgerID string) (*Snapshot, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		"SELECT snapshot FROM ledger_snapshots WHERE ledger_id = $1", ledgerID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", ledgerID, err)
	}
	return Decode(raw)
}
