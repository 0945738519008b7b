// Package blockstore holds the live tail of the block chain: the most recent
// blocks that have not yet been relocated to an archive shard.
//
// The tail is a contiguous window [Start, End) of global block ids. Blocks
// enter at the back via Append and leave from the front via DropFront once an
// archive shard has accepted them. A Store is not safe for concurrent use; the
// owning ledger serialises every call.
package blockstore

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
)

// ErrNonContiguous is returned when a block would open a gap in the window.
var ErrNonContiguous = errors.New("blockstore: block id is not contiguous with the tail")

// Store is the live tail.
type Store struct {
	start  uint64
	blocks []icrc3.Block
}

// New returns an empty tail whose next block id is start.
func New(start uint64) *Store {
	return &Store{start: start}
}

// Restore rebuilds a tail from persisted blocks. The blocks must be
// contiguous and begin at start.
func Restore(start uint64, blocks []icrc3.Block) (*Store, error) {
	s := New(start)
	for _, b := range blocks {
		if err := s.Append(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start returns the id of the oldest live block (or the next id when empty).
func (s *Store) Start() uint64 { return s.start }

// End returns one past the id of the newest live block.
func (s *Store) End() uint64 { return s.start + uint64(len(s.blocks)) }

// Len returns the number of live blocks.
func (s *Store) Len() int { return len(s.blocks) }

// Append adds b at the back of the tail. b.ID must equal End().
func (s *Store) Append(b icrc3.Block) error {
	if b.ID != s.End() {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous, b.ID, s.End())
	}
	s.blocks = append(s.blocks, b)
	return nil
}

// Last returns the newest live block.
func (s *Store) Last() (icrc3.Block, bool) {
	if len(s.blocks) == 0 {
		return icrc3.Block{}, false
	}
	return s.blocks[len(s.blocks)-1], true
}

// Range returns the live blocks inside [start, start+length), ascending.
// Requests reaching past either end of the window are clamped.
func (s *Store) Range(start, length uint64) []icrc3.Block {
	end := start + length
	if end < start { // overflow
		end = ^uint64(0)
	}
	lo := max(start, s.start)
	hi := min(end, s.End())
	if lo >= hi {
		return nil
	}
	out := make([]icrc3.Block, hi-lo)
	copy(out, s.blocks[lo-s.start:hi-s.start])
	return out
}

// Front returns a copy of the oldest n live blocks (fewer if the tail is shorter).
func (s *Store) Front(n int) []icrc3.Block {
	n = min(n, len(s.blocks))
	out := make([]icrc3.Block, n)
	copy(out, s.blocks[:n])
	return out
}

// DropFront removes the oldest n blocks from the tail.
func (s *Store) DropFront(n int) error {
	if n < 0 || n > len(s.blocks) {
		return fmt.Errorf("blockstore: cannot drop %d of %d live blocks", n, len(s.blocks))
	}
	// Copy into a fresh slice so the dropped prefix can be collected.
	s.blocks = append([]icrc3.Block(nil), s.blocks[n:]...)
	s.start += uint64(n)
	return nil
}

// Blocks returns a copy of every live block.
func (s *Store) Blocks() []icrc3.Block {
	return s.Front(len(s.blocks))
}
