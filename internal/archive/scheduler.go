package archive

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Archiver runs one archival pass.
type Archiver interface {
	ArchiveNow(ctx context.Context) error
}

// Scheduler retries archival on a fixed cadence so a blocked window moves
// once its shard comes back.
type Scheduler struct {
	archiver Archiver
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler. A zero interval defaults to 30 seconds.
func NewScheduler(a Archiver, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{archiver: a, interval: interval, logger: logger}
}

// Start runs archival passes until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, s.interval)
			if err := s.archiver.ArchiveNow(passCtx); err != nil {
				s.logger.Debug("archive: scheduled pass deferred", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
