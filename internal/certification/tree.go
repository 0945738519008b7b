// Package certification certifies the ledger tip.
//
// The certified state is a small domain-separated hash tree holding the last
// block index and hash. Its root is signed as an RS256 JWT; the tree itself is
// the witness a client recomputes the root from.
package certification

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedTree is returned for a witness that cannot be decoded.
var ErrMalformedTree = errors.New("certification: malformed hash tree")

// TreeKind tags a HashTree node.
type TreeKind uint8

const (
	KindEmpty TreeKind = iota
	KindFork
	KindLabeled
	KindLeaf
	KindPruned
)

var kindNames = [...]string{"empty", "fork", "labeled", "leaf", "pruned"}

// HashTree is a node of the certified state tree.
type HashTree struct {
	Kind TreeKind
	// Label is set on labeled nodes; Value on leaves; Digest on pruned nodes.
	Label  []byte
	Value  []byte
	Digest [32]byte
	// Left and Right are a fork's children. A labeled node keeps its subtree in Left.
	Left, Right *HashTree
}

func Empty() *HashTree { return &HashTree{Kind: KindEmpty} }

func Fork(l, r *HashTree) *HashTree { return &HashTree{Kind: KindFork, Left: l, Right: r} }

func Labeled(label string, sub *HashTree) *HashTree {
	return &HashTree{Kind: KindLabeled, Label: []byte(label), Left: sub}
}

func Leaf(v []byte) *HashTree {
	return &HashTree{Kind: KindLeaf, Value: append([]byte(nil), v...)}
}

func Pruned(d [32]byte) *HashTree { return &HashTree{Kind: KindPruned, Digest: d} }

// domainSep prefixes tag with its length byte.
func domainSep(tag string) []byte {
	return append([]byte{byte(len(tag))}, tag...)
}

var (
	sepEmpty   = domainSep("ic-hashtree-empty")
	sepFork    = domainSep("ic-hashtree-fork")
	sepLabeled = domainSep("ic-hashtree-labeled")
	sepLeaf    = domainSep("ic-hashtree-leaf")
)

// Reconstruct computes the root hash of the tree.
func (t *HashTree) Reconstruct() [32]byte {
	h := sha256.New()
	switch t.Kind {
	case KindEmpty:
		h.Write(sepEmpty)
	case KindFork:
		l, r := t.Left.Reconstruct(), t.Right.Reconstruct()
		h.Write(sepFork)
		h.Write(l[:])
		h.Write(r[:])
	case KindLabeled:
		sub := t.Left.Reconstruct()
		h.Write(sepLabeled)
		h.Write(t.Label)
		h.Write(sub[:])
	case KindLeaf:
		h.Write(sepLeaf)
		h.Write(t.Value)
	case KindPruned:
		return t.Digest
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Lookup follows path through labeled nodes and returns the leaf at its end.
func (t *HashTree) Lookup(path ...string) ([]byte, bool) {
	if len(path) == 0 {
		if t.Kind == KindLeaf {
			return t.Value, true
		}
		return nil, false
	}
	sub := t.find([]byte(path[0]))
	if sub == nil {
		return nil, false
	}
	return sub.Lookup(path[1:]...)
}

// find searches the forks under t for the subtree labeled label.
func (t *HashTree) find(label []byte) *HashTree {
	switch t.Kind {
	case KindLabeled:
		if bytes.Equal(t.Label, label) {
			return t.Left
		}
	case KindFork:
		if sub := t.Left.find(label); sub != nil {
			return sub
		}
		return t.Right.find(label)
	}
	return nil
}

// MarshalJSON encodes the tree as nested arrays: ["fork", l, r],
// ["labeled", "<label>", t], ["leaf", "<hex>"], ["pruned", "<hex>"], ["empty"].
func (t *HashTree) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case KindEmpty:
		return json.Marshal([]any{kindNames[KindEmpty]})
	case KindFork:
		return json.Marshal([]any{kindNames[KindFork], t.Left, t.Right})
	case KindLabeled:
		return json.Marshal([]any{kindNames[KindLabeled], string(t.Label), t.Left})
	case KindLeaf:
		return json.Marshal([]any{kindNames[KindLeaf], hex.EncodeToString(t.Value)})
	case KindPruned:
		return json.Marshal([]any{kindNames[KindPruned], hex.EncodeToString(t.Digest[:])})
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedTree, t.Kind)
}

func (t *HashTree) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return fmt.Errorf("%w: expected a tagged array", ErrMalformedTree)
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return fmt.Errorf("%w: bad tag", ErrMalformedTree)
	}

	want := map[string]int{"empty": 1, "fork": 3, "labeled": 3, "leaf": 2, "pruned": 2}
	if n, ok := want[tag]; !ok || n != len(parts) {
		return fmt.Errorf("%w: node %q with %d parts", ErrMalformedTree, tag, len(parts))
	}

	switch tag {
	case "empty":
		*t = HashTree{Kind: KindEmpty}
	case "fork":
		l, r := new(HashTree), new(HashTree)
		if err := json.Unmarshal(parts[1], l); err != nil {
			return err
		}
		if err := json.Unmarshal(parts[2], r); err != nil {
			return err
		}
		*t = HashTree{Kind: KindFork, Left: l, Right: r}
	case "labeled":
		var label string
		if err := json.Unmarshal(parts[1], &label); err != nil {
			return fmt.Errorf("%w: bad label", ErrMalformedTree)
		}
		sub := new(HashTree)
		if err := json.Unmarshal(parts[2], sub); err != nil {
			return err
		}
		*t = HashTree{Kind: KindLabeled, Label: []byte(label), Left: sub}
	case "leaf":
		v, err := hexPart(parts[1])
		if err != nil {
			return err
		}
		*t = HashTree{Kind: KindLeaf, Value: v}
	case "pruned":
		v, err := hexPart(parts[1])
		if err != nil || len(v) != 32 {
			return fmt.Errorf("%w: pruned digest must be 32 bytes", ErrMalformedTree)
		}
		*t = HashTree{Kind: KindPruned}
		copy(t.Digest[:], v)
	}
	return nil
}

func hexPart(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: expected hex string", ErrMalformedTree)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}
	return b, nil
}
