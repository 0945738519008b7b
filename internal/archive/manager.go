package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

// Config holds archival configuration.
type Config struct {
	// Threshold is the live block count above which archival runs.
	Threshold int
	// Window is the number of blocks moved per transfer.
	Window int
	// ShardCapacity is the number of blocks one shard may hold.
	ShardCapacity uint64
	InitialBudget uint64
	MinBudget     uint64
	TopUpAmount   uint64
	Controllers   []identity.Principal
	// Owner is the ledger's own principal. It always controls its shards.
	Owner identity.Principal
}

// Defaults for Config.
const (
	DefaultThreshold     = 120
	DefaultWindow        = 120
	DefaultShardCapacity = 12000
	DefaultInitialBudget = 2_000_000_000_000
	DefaultMinBudget     = 1_800_000_000_000
	DefaultTopUpAmount   = 500_000_000_000
)

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.ShardCapacity == 0 {
		c.ShardCapacity = DefaultShardCapacity
	}
	if c.InitialBudget == 0 {
		c.InitialBudget = DefaultInitialBudget
	}
	if c.MinBudget == 0 {
		c.MinBudget = DefaultMinBudget
	}
	if c.TopUpAmount == 0 {
		c.TopUpAmount = DefaultTopUpAmount
	}
	return c
}

// MetricsRecordFunc is an optional callback for archival events:
// "provisioned", "topped_up", "archived" or "blocked".
type MetricsRecordFunc func(event string)

// Manager moves windows of blocks into shards.
type Manager struct {
	prov Provisioner

	mu      sync.Mutex
	cfg     Config
	handles map[ShardRef]Shard
	// latest is the most recently provisioned shard. A transfer whose record
	// was never committed is retried into it instead of a new shard.
	latest Shard

	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewManager creates a Manager. Zero config fields take their defaults.
func NewManager(prov Provisioner, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		prov:    prov,
		cfg:     cfg.withDefaults(),
		handles: make(map[ShardRef]Shard),
		logger:  logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Manager) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.Controllers = identity.Union(m.cfg.Controllers)
	return cfg
}

// SetControllers replaces the configured controllers. Existing shards keep
// theirs until Reconfigure.
func (m *Manager) SetControllers(controllers []identity.Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Controllers = identity.Union(controllers)
}

// ControllerSet is the configured controllers plus the ledger principal.
func (m *Manager) ControllerSet() []identity.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controllerSet()
}

func (m *Manager) controllerSet() []identity.Principal {
	if len(m.cfg.Owner) == 0 {
		return identity.Union(m.cfg.Controllers)
	}
	return identity.Union(m.cfg.Controllers, []identity.Principal{m.cfg.Owner})
}

// Callback returns where clients fetch ref's blocks from.
func (m *Manager) Callback(ref ShardRef) string { return m.prov.Callback(ref) }

// Shard returns a handle to ref, opening it on first use.
func (m *Manager) Shard(ctx context.Context, ref ShardRef) (Shard, error) {
	m.mu.Lock()
	sh, ok := m.handles[ref]
	m.mu.Unlock()
	if ok {
		return sh, nil
	}
	sh, err := m.prov.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.handles[ref] = sh
	m.mu.Unlock()
	return sh, nil
}

// Transfer copies window into a shard and returns the record describing it.
// The record is not committed anywhere; the caller appends it to its
// registry. last is the registry's most recent record, nil when empty.
// Any failure is reported as ErrShardUnavailable and leaves the caller's
// state untouched, so the same window can be retried.
func (m *Manager) Transfer(ctx context.Context, last *Record, window []icrc3.Block) (Record, error) {
	if len(window) == 0 {
		return Record{}, errors.New("archive: empty window")
	}
	first := window[0].ID
	n := uint64(len(window))

	target, info, err := m.target(ctx, last, first, n)
	if err != nil {
		m.record("blocked")
		return Record{}, err
	}

	cfg := m.Config()
	if info.Budget < cfg.MinBudget {
		if err := m.prov.TopUp(ctx, target.Ref(), cfg.TopUpAmount); err != nil {
			m.logger.Warn("archive: top-up failed", zap.String("shard", string(target.Ref())), zap.Error(err))
		} else {
			m.record("topped_up")
		}
	}

	if err := target.Append(ctx, window); err != nil {
		m.record("blocked")
		return Record{}, unavailable(err)
	}

	m.record("archived")
	return Record{Shard: target.Ref(), Start: first, Length: n}, nil
}

// target picks the shard for [first, first+n): the last record's shard if it
// has room, else the latest provisioned one, else a new one.
func (m *Manager) target(ctx context.Context, last *Record, first, n uint64) (Shard, Info, error) {
	if last != nil {
		sh, err := m.Shard(ctx, last.Shard)
		if err != nil {
			return nil, Info{}, unavailable(err)
		}
		info, err := sh.Info(ctx)
		if err != nil {
			return nil, Info{}, unavailable(err)
		}
		if fits(info, first, n) {
			if info.Status == StatusStopped {
				return nil, Info{}, fmt.Errorf("%w: %s is stopped", ErrShardUnavailable, info.Ref)
			}
			return sh, info, nil
		}
	}

	m.mu.Lock()
	latest := m.latest
	cfg := m.cfg
	controllers := m.controllerSet()
	m.mu.Unlock()

	if latest != nil {
		info, err := latest.Info(ctx)
		if err == nil && fits(info, first, n) {
			if info.Status == StatusStopped {
				return nil, Info{}, fmt.Errorf("%w: %s is stopped", ErrShardUnavailable, info.Ref)
			}
			return latest, info, nil
		}
	}

	sh, err := m.prov.Provision(ctx, ShardSpec{
		Start:       first,
		Capacity:    cfg.ShardCapacity,
		Budget:      cfg.InitialBudget,
		Controllers: controllers,
	})
	if err != nil {
		return nil, Info{}, unavailable(err)
	}
	m.mu.Lock()
	m.latest = sh
	m.handles[sh.Ref()] = sh
	m.mu.Unlock()

	m.record("provisioned")
	m.logger.Info("archive: shard provisioned",
		zap.String("shard", string(sh.Ref())),
		zap.Uint64("start", first),
		zap.Uint64("capacity", cfg.ShardCapacity),
	)

	info, err := sh.Info(ctx)
	if err != nil {
		return nil, Info{}, unavailable(err)
	}
	return sh, info, nil
}

// TopUp funds ref with the configured top-up amount.
func (m *Manager) TopUp(ctx context.Context, ref ShardRef) error {
	if err := m.prov.TopUp(ctx, ref, m.Config().TopUpAmount); err != nil {
		return err
	}
	m.record("topped_up")
	return nil
}

// Reconfigure replaces the configured controllers and applies the resulting
// controller set to every shard in refs.
func (m *Manager) Reconfigure(ctx context.Context, controllers []identity.Principal, refs []ShardRef) error {
	m.mu.Lock()
	m.cfg.Controllers = identity.Union(controllers)
	set := m.controllerSet()
	m.mu.Unlock()

	var errs []error
	for _, ref := range refs {
		sh, err := m.Shard(ctx, ref)
		if err == nil {
			err = sh.Configure(ctx, set)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("configure %s: %w", ref, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) record(event string) {
	if m.onMetrics != nil {
		m.onMetrics(event)
	}
}

// fits reports whether the shard can take [first, first+n) without a gap.
func fits(info Info, first, n uint64) bool {
	return info.Start <= first && first <= info.End() && first+n-info.Start <= info.Capacity
}

func unavailable(err error) error {
	if errors.Is(err, ErrShardUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrShardUnavailable, err)
}
