package ledger

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
)

// Range asks for Length blocks starting at id Start.
type Range struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

// ArchivedRange tells a client which shard holds blocks it asked for.
type ArchivedRange struct {
	Args  []Range          `json:"args"`
	Shard archive.ShardRef `json:"shard"`
	// Callback is the URL serving the shard's blocks, empty when the shard
	// is only reachable through the ledger process.
	Callback string `json:"callback,omitempty"`
}

// GetBlocksResult answers a GetBlocks call.
type GetBlocksResult struct {
	LogLength      uint64          `json:"log_length"`
	Blocks         []icrc3.Block   `json:"blocks"`
	ArchivedBlocks []ArchivedRange `json:"archived_blocks"`
}

// GetBlocks resolves each range against the log. Live blocks come back
// inline in ascending order; archived parts come back as one descriptor per
// overlapping registry record, trimmed to the request.
func (l *Ledger) GetBlocks(ranges []Range) GetBlocksResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := &l.state
	res := GetBlocksResult{
		LogLength:      st.logLength,
		Blocks:         []icrc3.Block{},
		ArchivedBlocks: []ArchivedRange{},
	}
	budget := l.cfg.MaxQueryBlocks
	liveStart := st.tail.Start()

	for _, r := range ranges {
		start, end, ok := clamp(r, st.logLength)
		if !ok {
			continue
		}

		if start < liveStart {
			for _, rec := range st.registry.Overlapping(start, min(end, liveStart)) {
				lo := max(start, rec.Start)
				hi := min(end, rec.End())
				res.ArchivedBlocks = append(res.ArchivedBlocks, ArchivedRange{
					Args:     []Range{{Start: lo, Length: hi - lo}},
					Shard:    rec.Shard,
					Callback: l.archiver.Callback(rec.Shard),
				})
			}
		}

		if end > liveStart && budget > 0 {
			lo := max(start, liveStart)
			n := min(end-lo, budget)
			live := st.tail.Range(lo, n)
			res.Blocks = append(res.Blocks, live...)
			budget -= uint64(len(live))
		}
	}
	return res
}

// clamp intersects r with [0, logLength).
func clamp(r Range, logLength uint64) (start, end uint64, ok bool) {
	if r.Length == 0 || r.Start >= logLength {
		return 0, 0, false
	}
	end = r.Start + r.Length
	if end < r.Start || end > logLength {
		end = logLength
	}
	return r.Start, end, true
}

// GetArchives lists the shards holding archived blocks, optionally only those
// after from.
func (l *Ledger) GetArchives(from *archive.ShardRef) []archive.ShardSpan {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.registry.Shards(from)
}

// FetchArchived reads the blocks a descriptor points at straight from the shard.
func (l *Ledger) FetchArchived(ctx context.Context, ar ArchivedRange) ([]icrc3.Block, error) {
	sh, err := l.archiver.Shard(ctx, ar.Shard)
	if err != nil {
		return nil, err
	}
	var out []icrc3.Block
	for _, r := range ar.Args {
		blocks, err := sh.GetBlocks(ctx, r.Start, r.Length)
		if err != nil {
			return nil, fmt.Errorf("fetch [%d, +%d) from %s: %w", r.Start, r.Length, ar.Shard, err)
		}
		out = append(out, blocks...)
	}
	return out, nil
}
