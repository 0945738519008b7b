package certification

import (
	"bytes"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
)

// Labels of the certified tree.
const (
	LabelLastBlockHash  = "last_block_hash"
	LabelLastBlockIndex = "last_block_index"
)

// ErrCertificateMismatch is returned when a witness does not match its signed root.
var ErrCertificateMismatch = errors.New("certification: witness does not match certified data")

// DataCertificate is a signed root plus the witness tree proving the tip.
type DataCertificate struct {
	// Certificate is the compact RS256 JWT over the root hash.
	Certificate []byte `json:"certificate"`
	// HashTree is the JSON encoded witness.
	HashTree []byte `json:"hash_tree"`
}

// Tip is the certified (index, hash) pair.
type Tip struct {
	Index uint64 `json:"index"`
	Hash  []byte `json:"hash"`
}

// TipTree builds the certified tree for the given tip.
func TipTree(lastIndex uint64, tipHash []byte) *HashTree {
	return Fork(
		Labeled(LabelLastBlockHash, Leaf(tipHash)),
		Labeled(LabelLastBlockIndex, Leaf(icrc3.AppendULEB128(nil, lastIndex))),
	)
}

// Certifier holds the current certified tree. Tokens are signed on demand and
// cached until the tip moves.
type Certifier struct {
	attestor *Attestor

	mu     sync.Mutex
	tree   *HashTree
	root   [32]byte
	cached *DataCertificate
}

// NewCertifier creates a Certifier with nothing certified yet.
func NewCertifier(a *Attestor) *Certifier {
	return &Certifier{attestor: a}
}

// Certify replaces the certified tip.
func (c *Certifier) Certify(lastIndex uint64, tipHash []byte) {
	tree := TipTree(lastIndex, tipHash)
	root := tree.Reconstruct()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree != nil && root == c.root {
		return
	}
	c.tree = tree
	c.root = root
	c.cached = nil
}

// RootHash returns the certified root, false before anything is certified.
func (c *Certifier) RootHash() ([32]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root, c.tree != nil
}

// TipCertificate returns the certificate for the current tip, or nil when no
// block has been certified.
func (c *Certifier) TipCertificate() (*DataCertificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tree == nil {
		return nil, nil
	}
	if c.cached != nil {
		return c.cached, nil
	}
	token, err := c.attestor.Attest(c.root)
	if err != nil {
		return nil, err
	}
	witness, err := json.Marshal(c.tree)
	if err != nil {
		return nil, fmt.Errorf("encode witness: %w", err)
	}
	c.cached = &DataCertificate{Certificate: []byte(token), HashTree: witness}
	return c.cached, nil
}

// Verify checks cert against pub and the ledger id, recomputes the witness
// root and returns the certified tip.
func Verify(cert *DataCertificate, pub *rsa.PublicKey, ledgerID string) (Tip, error) {
	if cert == nil {
		return Tip{}, errors.New("certification: no certificate")
	}
	claims, err := ParseAttestation(string(cert.Certificate), pub, ledgerID)
	if err != nil {
		return Tip{}, err
	}
	signed, err := hex.DecodeString(claims.CertifiedData)
	if err != nil {
		return Tip{}, fmt.Errorf("decode certified data: %w", err)
	}

	var tree HashTree
	if err := json.Unmarshal(cert.HashTree, &tree); err != nil {
		return Tip{}, err
	}
	root := tree.Reconstruct()
	if !bytes.Equal(root[:], signed) {
		return Tip{}, ErrCertificateMismatch
	}

	hash, ok := tree.Lookup(LabelLastBlockHash)
	if !ok {
		return Tip{}, fmt.Errorf("%w: missing %s", ErrMalformedTree, LabelLastBlockHash)
	}
	rawIndex, ok := tree.Lookup(LabelLastBlockIndex)
	if !ok {
		return Tip{}, fmt.Errorf("%w: missing %s", ErrMalformedTree, LabelLastBlockIndex)
	}
	index, n, err := icrc3.ReadULEB128(rawIndex)
	if err != nil || n != len(rawIndex) {
		return Tip{}, fmt.Errorf("%w: bad %s", ErrMalformedTree, LabelLastBlockIndex)
	}
	return Tip{Index: index, Hash: hash}, nil
}
