package blockstore

import (
	"fmt"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
)

// Verify walks a contiguous run of blocks and checks that every block records
// the hash of its predecessor. prevHash is the hash of the block preceding
// blocks[0]; it is ignored when blocks[0] is the genesis block (id 0).
// It returns the hash of the last block, which is the tip hash of the run.
func Verify(blocks []icrc3.Block, prevHash []byte) ([32]byte, error) {
	var tip [32]byte
	for i, curr := range blocks {
		if i > 0 && curr.ID != blocks[i-1].ID+1 {
			return tip, fmt.Errorf("block ids not contiguous at %d", curr.ID)
		}

		if curr.ID == 0 {
			if _, ok := curr.PHash(); ok {
				return tip, fmt.Errorf("genesis block must not carry a phash")
			}
		} else if prevHash != nil || i > 0 {
			if !curr.LinksTo(prevHash) {
				return tip, fmt.Errorf("hash chain broken at index %d", curr.ID)
			}
		}

		h, err := curr.Hash()
		if err != nil {
			return tip, err
		}
		tip = h
		prevHash = h[:]
	}
	return tip, nil
}
