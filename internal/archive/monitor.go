package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ShardLister returns the shards to probe.
type ShardLister interface {
	ShardRefs() []ShardRef
}

// MonitorConfig holds shard monitor configuration.
type MonitorConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Concurrency  int
}

// StatusRecordFunc is an optional callback for recording probe results.
type StatusRecordFunc func(ref ShardRef, available bool)

// Probe is the outcome of checking one shard.
type Probe struct {
	Ref       ShardRef
	Available bool
	ToppedUp  bool
	Info      Info
	Err       error
}

// Monitor periodically checks every registered shard and keeps budgets funded.
type Monitor struct {
	lister   ShardLister
	mgr      *Manager
	cfg      MonitorConfig
	onStatus StatusRecordFunc
	logger   *zap.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(lister ShardLister, mgr *Manager, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 10
	}
	return &Monitor{lister: lister, mgr: mgr, cfg: cfg, logger: logger}
}

// SetStatusRecord configures the probe recording callback.
func (m *Monitor) SetStatusRecord(fn StatusRecordFunc) {
	m.onStatus = fn
}

// Start runs the probe loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every shard with bounded concurrency and returns the
// results in lister order.
func (m *Monitor) CheckAll(ctx context.Context) []Probe {
	refs := m.lister.ShardRefs()
	out := make([]Probe, len(refs))

	sem := make(chan struct{}, m.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref ShardRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()
			out[i] = m.probe(probeCtx, ref)

			if m.onStatus != nil {
				m.onStatus(ref, out[i].Available)
			}
		}(i, ref)
	}

	wg.Wait()
	return out
}

func (m *Monitor) probe(ctx context.Context, ref ShardRef) Probe {
	p := Probe{Ref: ref}
	sh, err := m.mgr.Shard(ctx, ref)
	if err == nil {
		p.Info, err = sh.Info(ctx)
	}
	if err != nil {
		p.Err = err
		m.logger.Warn("archive: shard probe failed", zap.String("shard", string(ref)), zap.Error(err))
		return p
	}

	p.Available = p.Info.Status == StatusRunning
	if !p.Available {
		m.logger.Warn("archive: shard stopped", zap.String("shard", string(ref)))
	}
	if p.Info.Budget < m.mgr.Config().MinBudget {
		if err := m.mgr.TopUp(ctx, ref); err != nil {
			m.logger.Warn("archive: top-up failed", zap.String("shard", string(ref)), zap.Error(err))
		} else {
			p.ToppedUp = true
		}
	}
	return p
}
