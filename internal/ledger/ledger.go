// Package ledger is the append-only transaction ledger.
//
// A Ledger applies actions to balances, records each accepted action as a
// hash-chained block, hands the oldest blocks to the archive manager once the
// live tail grows past its threshold, routes block queries across the live
// tail and the archive shards, and certifies its tip after every batch.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/blockstore"
	"github.com/jmerrifield20/chainledger/internal/certification"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAction     = errors.New("ledger: invalid action")
	ErrOverflow          = errors.New("ledger: balance overflow")
	// ErrCorruptSnapshot is returned by Restore for a snapshot that breaks an invariant.
	ErrCorruptSnapshot = errors.New("ledger: corrupt snapshot")
)

// Config holds ledger configuration.
type Config struct {
	// ID names the ledger in snapshots and tip certificates.
	ID string
	// MaxQueryBlocks caps the blocks returned inline by one GetBlocks call.
	MaxQueryBlocks uint64
	// ArchiveTimeout bounds the archival pass run after a dispatch.
	ArchiveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = "ledger"
	}
	if c.MaxQueryBlocks == 0 {
		c.MaxQueryBlocks = 10000
	}
	if c.ArchiveTimeout == 0 {
		c.ArchiveTimeout = 30 * time.Second
	}
	return c
}

// DispatchRecordFunc is an optional callback invoked once per dispatched
// action with "ok" or the error kind.
type DispatchRecordFunc func(outcome string)

// state is everything a snapshot captures.
type state struct {
	logLength    uint64
	tail         *blockstore.Store
	registry     *archive.Registry
	balances     *Balances
	tipHash      []byte
	lastModified time.Time
}

// Ledger is safe for concurrent use. One mutex guards the state; a second one
// serialises archival so shard calls run without holding the state lock.
type Ledger struct {
	cfg       Config
	archiver  *archive.Manager
	certifier *certification.Certifier

	mu    sync.Mutex
	state state

	archiveMu sync.Mutex

	now        func() time.Time
	onDispatch DispatchRecordFunc
	onArchive  ArchiveHookFunc
	logger     *zap.Logger
}

// ArchiveHookFunc observes archival. rec is the committed record, or the
// window that could not be moved when err is non-nil (Shard is then empty).
type ArchiveHookFunc func(rec archive.Record, err error)

// New returns an empty ledger. certifier may be nil, in which case no tip
// certificate is ever issued.
func New(cfg Config, archiver *archive.Manager, certifier *certification.Certifier, logger *zap.Logger) *Ledger {
	return newLedger(cfg, archiver, certifier, logger, state{
		tail:     blockstore.New(0),
		registry: &archive.Registry{},
		balances: NewBalances(),
	})
}

func newLedger(cfg Config, archiver *archive.Manager, certifier *certification.Certifier, logger *zap.Logger, st state) *Ledger {
	return &Ledger{
		cfg:       cfg.withDefaults(),
		archiver:  archiver,
		certifier: certifier,
		state:     st,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the time source used for last-modified stamps.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetDispatchRecord configures the dispatch metrics callback.
func (l *Ledger) SetDispatchRecord(fn DispatchRecordFunc) {
	l.onDispatch = fn
}

// SetArchiveHook configures the archival callback. It runs on the archiving
// goroutine without the state lock held.
func (l *Ledger) SetArchiveHook(fn ArchiveHookFunc) {
	l.onArchive = fn
}

// ID returns the ledger id.
func (l *Ledger) ID() string { return l.cfg.ID }

// Dispatch applies actions in order. Each action either becomes exactly one
// block, whose id is returned in its result slot, or fails without changing
// any state. One failure never affects the other actions of the batch.
// An archival pass runs afterwards; its failure is logged, not returned.
func (l *Ledger) Dispatch(ctx context.Context, actions []Action) []Result {
	results := make([]Result, len(actions))

	l.mu.Lock()
	appended := 0
	for i, a := range actions {
		id, err := l.apply(a)
		results[i] = Result{ID: id, Err: err}
		if err == nil {
			appended++
		}
		l.record(err)
	}
	if appended > 0 {
		l.touch()
		l.certify()
	}
	l.mu.Unlock()

	if appended > 0 {
		l.archiveAfterDispatch(ctx)
	}
	return results
}

// apply records one action. Callers hold l.mu.
func (l *Ledger) apply(a Action) (uint64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}

	st := &l.state
	id := st.logLength
	block := icrc3.NewBlock(id, st.tipHash, a.TxValue())
	hash, err := block.Hash()
	if err != nil {
		return 0, err
	}

	if err := st.balances.Apply(a.Payload); err != nil {
		return 0, err
	}
	if err := st.tail.Append(block); err != nil {
		// The tail always ends at logLength, so this is a broken invariant.
		return 0, fmt.Errorf("append block %d: %w", id, err)
	}
	st.tipHash = hash[:]
	st.logLength++

	if a.Fee != nil {
		l.logger.Debug("fee recorded",
			zap.Uint64("block", id),
			zap.String("fee", a.Fee.Dec()),
		)
	}
	return id, nil
}

func (l *Ledger) record(err error) {
	if l.onDispatch == nil {
		return
	}
	if err == nil {
		l.onDispatch("ok")
		return
	}
	l.onDispatch(ErrorKind(err))
}

// touch advances last_modified. It strictly increases even if the clock
// does not. Callers hold l.mu.
func (l *Ledger) touch() {
	t := l.now().UTC()
	if !t.After(l.state.lastModified) {
		t = l.state.lastModified.Add(time.Nanosecond)
	}
	l.state.lastModified = t
}

// certify publishes the current tip. Callers hold l.mu.
func (l *Ledger) certify() {
	if l.certifier == nil || l.state.logLength == 0 {
		return
	}
	l.certifier.Certify(l.state.logLength-1, l.state.tipHash)
}

// archiveAfterDispatch runs an archival pass after a dispatch. If a pass is
// already running it is left to catch up, since it loops until the tail is
// back under the threshold.
func (l *Ledger) archiveAfterDispatch(ctx context.Context) {
	if !l.archiveMu.TryLock() {
		return
	}
	defer l.archiveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ArchiveTimeout)
	defer cancel()
	if err := l.archiveLocked(ctx); err != nil {
		l.logger.Warn("archival deferred", zap.Error(err))
	}
}

// ArchiveNow moves windows into shards while the live tail is above the
// threshold. It stops at the first failed transfer and leaves the state as
// it was before that window, so calling it again retries the same window.
func (l *Ledger) ArchiveNow(ctx context.Context) error {
	l.archiveMu.Lock()
	defer l.archiveMu.Unlock()
	return l.archiveLocked(ctx)
}

func (l *Ledger) archiveLocked(ctx context.Context) error {
	cfg := l.archiver.Config()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		if l.state.tail.Len() <= cfg.Threshold {
			l.mu.Unlock()
			return nil
		}
		window := l.state.tail.Front(cfg.Window)
		last, hasLast := l.state.registry.Last()
		l.mu.Unlock()

		var lastRec *archive.Record
		if hasLast {
			lastRec = &last
		}
		rec, err := l.archiver.Transfer(ctx, lastRec, window)
		if err != nil {
			if l.onArchive != nil {
				l.onArchive(archive.Record{Start: window[0].ID, Length: uint64(len(window))}, err)
			}
			return fmt.Errorf("archive blocks [%d, %d): %w", window[0].ID, window[0].ID+uint64(len(window)), err)
		}

		// Only archival removes blocks from the front and it is serialised by
		// archiveMu, so the window is still the front of the tail.
		l.mu.Lock()
		if err := l.state.registry.Append(rec); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("commit archived window: %w", err)
		}
		if err := l.state.tail.DropFront(len(window)); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("drop archived window: %w", err)
		}
		l.touch()
		live := l.state.tail.Len()
		l.mu.Unlock()

		l.logger.Info("window archived",
			zap.String("shard", string(rec.Shard)),
			zap.Uint64("start", rec.Start),
			zap.Uint64("length", rec.Length),
			zap.Int("live", live),
		)
		if l.onArchive != nil {
			l.onArchive(rec, nil)
		}
	}
}

// BalanceOf returns acc's balance, zero for an unknown account.
func (l *Ledger) BalanceOf(acc Account) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.balances.Of(acc)
}

// LastModified returns when the ledger state last changed.
func (l *Ledger) LastModified() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.lastModified
}

// TipCertificate returns the certificate for the newest block, or nil
// before the first block.
func (l *Ledger) TipCertificate() (*certification.DataCertificate, error) {
	if l.certifier == nil {
		return nil, nil
	}
	return l.certifier.TipCertificate()
}

// ShardRefs lists every shard referenced by the registry.
func (l *Ledger) ShardRefs() []archive.ShardRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.registry.ShardRefs()
}

// ArchiveControllers returns the controller set applied to shards.
func (l *Ledger) ArchiveControllers() []identity.Principal {
	return l.archiver.Config().Controllers
}

// Stats is a point-in-time summary for metrics and health output.
type Stats struct {
	LogLength       uint64    `json:"log_length"`
	LiveStart       uint64    `json:"live_start"`
	LiveBlocks      int       `json:"live_blocks"`
	ArchivedRecords int       `json:"archived_records"`
	Accounts        int       `json:"accounts"`
	LastModified    time.Time `json:"last_modified"`
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := &l.state
	return Stats{
		LogLength:       st.logLength,
		LiveStart:       st.tail.Start(),
		LiveBlocks:      st.tail.Len(),
		ArchivedRecords: st.registry.Len(),
		Accounts:        st.balances.Len(),
		LastModified:    st.lastModified,
	}
}

// VerifyLive checks the live tail's hash chain and that it ends at the tip hash.
func (l *Ledger) VerifyLive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verifyState(&l.state)
}

func verifyState(st *state) error {
	if st.registry.End() != st.tail.Start() {
		return fmt.Errorf("registry ends at %d but live tail starts at %d", st.registry.End(), st.tail.Start())
	}
	if st.tail.End() != st.logLength {
		return fmt.Errorf("live tail ends at %d but log length is %d", st.tail.End(), st.logLength)
	}
	if st.logLength == 0 {
		if len(st.tipHash) != 0 {
			return fmt.Errorf("empty log carries a tip hash")
		}
		return nil
	}
	if len(st.tipHash) != 32 {
		return fmt.Errorf("tip hash is %d bytes", len(st.tipHash))
	}
	if st.tail.Len() == 0 {
		return nil
	}
	tip, err := blockstore.Verify(st.tail.Blocks(), nil)
	if err != nil {
		return err
	}
	if string(tip[:]) != string(st.tipHash) {
		return fmt.Errorf("live tail does not end at the tip hash")
	}
	return nil
}
