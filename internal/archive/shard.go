package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

// blockStorage persists one shard's blocks and info.
type blockStorage interface {
	// put stores blocks and info together.
	put(blocks []icrc3.Block, info Info) error
	// get returns the stored blocks with ids in [start, end).
	get(start, end uint64) ([]icrc3.Block, error)
	saveInfo(info Info) error
	close() error
}

// unit is a shard hosted in this process.
type unit struct {
	mu    sync.Mutex
	info  Info
	store blockStorage
	now   func() time.Time
}

func (u *unit) Ref() ShardRef { return u.info.Ref }

func (u *unit) Append(_ context.Context, blocks []icrc3.Block) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.info.Status == StatusStopped {
		return fmt.Errorf("%w: %s is stopped", ErrShardUnavailable, u.info.Ref)
	}
	if len(blocks) == 0 {
		return nil
	}
	if blocks[0].ID < u.info.Start {
		return fmt.Errorf("%w: block %d precedes shard start %d", ErrNonContiguous, blocks[0].ID, u.info.Start)
	}

	end := u.info.End()
	i := 0
	for i < len(blocks) && blocks[i].ID < end {
		i++
	}
	fresh := blocks[i:]
	if len(fresh) == 0 {
		return nil
	}
	for j, b := range fresh {
		if b.ID != end+uint64(j) {
			return fmt.Errorf("%w: got block %d, want %d", ErrNonContiguous, b.ID, end+uint64(j))
		}
	}
	if u.info.Length+uint64(len(fresh)) > u.info.Capacity {
		return fmt.Errorf("%w: %s holds %d of %d", ErrCapacity, u.info.Ref, u.info.Length, u.info.Capacity)
	}

	next := u.info
	next.Length += uint64(len(fresh))
	next.LastModified = u.now().UTC()
	if err := u.store.put(fresh, next); err != nil {
		return fmt.Errorf("store blocks in %s: %w", u.info.Ref, err)
	}
	u.info = next
	return nil
}

func (u *unit) GetBlocks(_ context.Context, start, length uint64) ([]icrc3.Block, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.info.Status == StatusStopped {
		return nil, fmt.Errorf("%w: %s is stopped", ErrShardUnavailable, u.info.Ref)
	}
	lo := max(start, u.info.Start)
	hi := u.info.End()
	if end := start + length; end >= start && end < hi {
		hi = end
	}
	if lo >= hi {
		return []icrc3.Block{}, nil
	}
	return u.store.get(lo, hi)
}

func (u *unit) Info(context.Context) (Info, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshot(), nil
}

func (u *unit) Configure(_ context.Context, controllers []identity.Principal) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	next := u.info
	next.Controllers = identity.Union(controllers)
	next.LastModified = u.now().UTC()
	return u.commit(next)
}

func (u *unit) topUp(amount uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	next := u.info
	if next.Budget+amount < next.Budget {
		next.Budget = ^uint64(0)
	} else {
		next.Budget += amount
	}
	return u.commit(next)
}

func (u *unit) setStatus(s Status) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	next := u.info
	next.Status = s
	return u.commit(next)
}

func (u *unit) commit(next Info) error {
	if err := u.store.saveInfo(next); err != nil {
		return fmt.Errorf("save shard %s info: %w", next.Ref, err)
	}
	u.info = next
	return nil
}

func (u *unit) snapshot() Info {
	info := u.info
	info.Controllers = identity.Union(u.info.Controllers)
	return info
}
