package icrc3

import (
	"bytes"
	"fmt"
)

// Top-level block fields.
const (
	FieldPHash = "phash"
	FieldTx    = "tx"
)

// Block is one ledger block together with its global sequence id.
type Block struct {
	ID    uint64 `json:"id"`
	Block Value  `json:"block"`
}

// NewBlock assembles the block value for tx. phash is omitted for the first
// block of the chain (id 0).
func NewBlock(id uint64, phash []byte, tx Value) Block {
	fields := make([]Field, 0, 2)
	if id > 0 {
		fields = append(fields, Field{Key: FieldPHash, Value: Blob(phash)})
	}
	fields = append(fields, Field{Key: FieldTx, Value: tx})
	return Block{ID: id, Block: Map(fields...)}
}

// PHash returns the parent hash recorded in the block, if any.
func (b Block) PHash() ([]byte, bool) {
	v, ok := b.Block.Get(FieldPHash)
	if !ok || v.Kind != KindBlob {
		return nil, false
	}
	return v.Blob, true
}

// Hash returns the chaining hash of the block value.
func (b Block) Hash() ([32]byte, error) {
	h, err := Hash(b.Block)
	if err != nil {
		return h, fmt.Errorf("hash block %d: %w", b.ID, err)
	}
	return h, nil
}

// Equal reports whether two blocks carry the same id and value.
func (b Block) Equal(o Block) bool {
	return b.ID == o.ID && b.Block.Equal(o.Block)
}

// LinksTo reports whether b records prev's hash as its phash.
func (b Block) LinksTo(prevHash []byte) bool {
	ph, ok := b.PHash()
	return ok && bytes.Equal(ph, prevHash)
}
