package icrc3

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// maxDepth bounds nesting so a hostile value cannot exhaust the stack.
const maxDepth = 32

// ErrEncoding is returned when a value cannot be canonically encoded.
var ErrEncoding = errors.New("icrc3: malformed value")

// Encode returns the canonical byte sequence of v: the exact preimage whose
// SHA-256 is Hash(v).
func Encode(v Value) ([]byte, error) {
	return encode(v, 0)
}

// Hash returns the representation-independent hash of v.
func Hash(v Value) ([32]byte, error) {
	return hashAt(v, 0)
}

// HashHex is Hash rendered as lowercase hex.
func HashHex(v Value) (string, error) {
	h, err := Hash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

func hashAt(v Value, depth int) ([32]byte, error) {
	data, err := encode(v, depth)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

func encode(v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrEncoding, maxDepth)
	}

	switch v.Kind {
	case KindNat:
		if v.Nat == nil {
			return nil, fmt.Errorf("%w: nil Nat", ErrEncoding)
		}
		return appendULEB128U256(nil, v.Nat), nil

	case KindInt:
		return AppendSLEB128(nil, v.Int), nil

	case KindText:
		if !utf8.ValidString(v.Text) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrEncoding)
		}
		return []byte(v.Text), nil

	case KindBlob:
		return bytes.Clone(v.Blob), nil

	case KindArray:
		out := make([]byte, 0, len(v.Array)*sha256.Size)
		for i, item := range v.Array {
			h, err := hashAt(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("array item %d: %w", i, err)
			}
			out = append(out, h[:]...)
		}
		return out, nil

	case KindMap:
		seen := make(map[string]struct{}, len(v.Map))
		pairs := make([][]byte, 0, len(v.Map))
		for _, f := range v.Map {
			if _, dup := seen[f.Key]; dup {
				return nil, fmt.Errorf("%w: duplicate map key %q", ErrEncoding, f.Key)
			}
			seen[f.Key] = struct{}{}
			if !utf8.ValidString(f.Key) {
				return nil, fmt.Errorf("%w: map key is not valid UTF-8", ErrEncoding)
			}

			hk := sha256.Sum256([]byte(f.Key))
			hv, err := hashAt(f.Value, depth+1)
			if err != nil {
				return nil, fmt.Errorf("map field %q: %w", f.Key, err)
			}
			pair := make([]byte, 0, 2*sha256.Size)
			pair = append(pair, hk[:]...)
			pair = append(pair, hv[:]...)
			pairs = append(pairs, pair)
		}
		sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i], pairs[j]) < 0 })
		return bytes.Join(pairs, nil), nil
	}

	return nil, fmt.Errorf("%w: unknown kind %d", ErrEncoding, v.Kind)
}
