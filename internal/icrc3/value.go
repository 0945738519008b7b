package icrc3

import (
	"bytes"

	"github.com/holiman/uint256"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNat Kind = iota + 1
	KindInt
	KindText
	KindBlob
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNat:
		return "Nat"
	case KindInt:
		return "Int"
	case KindText:
		return "Text"
	case KindBlob:
		return "Blob"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	default:
		return "Unknown"
	}
}

// Value is the ICRC-3 generic value. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Nat   *uint256.Int
	Int   int64
	Text  string
	Blob  []byte
	Array []Value
	Map   []Field
}

// Field is a single key/value pair of a Map value. Order is kept for display
// only; it does not influence the hash.
type Field struct {
	Key   string
	Value Value
}

// Nat returns a Nat value.
func Nat(n uint64) Value {
	return Value{Kind: KindNat, Nat: uint256.NewInt(n)}
}

// NatU256 returns a Nat value holding a copy of n.
func NatU256(n *uint256.Int) Value {
	return Value{Kind: KindNat, Nat: new(uint256.Int).Set(n)}
}

// Int returns an Int value.
func Int(n int64) Value {
	return Value{Kind: KindInt, Int: n}
}

// Text returns a Text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Blob returns a Blob value holding a copy of b.
func Blob(b []byte) Value {
	return Value{Kind: KindBlob, Blob: bytes.Clone(b)}
}

// Array returns an Array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindArray, Array: items}
}

// Map returns a Map value.
func Map(fields ...Field) Value {
	if fields == nil {
		fields = []Field{}
	}
	return Value{Kind: KindMap, Map: fields}
}

// Get returns the value stored under key when v is a Map.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for _, f := range v.Map {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Equal reports whether v and o are the same logical value. Map comparison is
// order-sensitive, matching byte-for-byte persistence.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNat:
		if v.Nat == nil || o.Nat == nil {
			return v.Nat == o.Nat
		}
		return v.Nat.Eq(o.Nat)
	case KindInt:
		return v.Int == o.Int
	case KindText:
		return v.Text == o.Text
	case KindBlob:
		return bytes.Equal(v.Blob, o.Blob)
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for i := range v.Map {
			if v.Map[i].Key != o.Map[i].Key || !v.Map[i].Value.Equal(o.Map[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
