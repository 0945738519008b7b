package icrc3

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

// MarshalJSON renders v as a single-key object named after its kind:
// {"Nat":"1"}, {"Int":"-1"}, {"Text":"x"}, {"Blob":"<hex>"}, {"Array":[...]},
// {"Map":[["key",value],...]}. Numbers are strings so no precision is lost.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNat:
		if v.Nat == nil {
			return nil, fmt.Errorf("%w: nil Nat", ErrEncoding)
		}
		return json.Marshal(map[string]string{"Nat": v.Nat.Dec()})
	case KindInt:
		return json.Marshal(map[string]string{"Int": strconv.FormatInt(v.Int, 10)})
	case KindText:
		return json.Marshal(map[string]string{"Text": v.Text})
	case KindBlob:
		return json.Marshal(map[string]string{"Blob": hex.EncodeToString(v.Blob)})
	case KindArray:
		items := v.Array
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(map[string][]Value{"Array": items})
	case KindMap:
		pairs := make([][2]any, 0, len(v.Map))
		for _, f := range v.Map {
			pairs = append(pairs, [2]any{f.Key, f.Value})
		}
		return json.Marshal(map[string][][2]any{"Map": pairs})
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrEncoding, v.Kind)
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("%w: value must have exactly one kind, got %d", ErrEncoding, len(obj))
	}

	for kind, raw := range obj {
		switch kind {
		case "Nat":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decode Nat: %w", err)
			}
			n, err := uint256.FromDecimal(s)
			if err != nil {
				return fmt.Errorf("%w: Nat %q: %v", ErrEncoding, s, err)
			}
			*v = Value{Kind: KindNat, Nat: n}

		case "Int":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decode Int: %w", err)
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: Int %q: %v", ErrEncoding, s, err)
			}
			*v = Int(n)

		case "Text":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decode Text: %w", err)
			}
			*v = Text(s)

		case "Blob":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decode Blob: %w", err)
			}
			b, err := hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("%w: Blob is not hex: %v", ErrEncoding, err)
			}
			*v = Value{Kind: KindBlob, Blob: b}

		case "Array":
			var items []Value
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("decode Array: %w", err)
			}
			*v = Array(items...)

		case "Map":
			var pairs [][]json.RawMessage
			if err := json.Unmarshal(raw, &pairs); err != nil {
				return fmt.Errorf("decode Map: %w", err)
			}
			fields := make([]Field, 0, len(pairs))
			for i, p := range pairs {
				if len(p) != 2 {
					return fmt.Errorf("%w: map entry %d is not a [key, value] pair", ErrEncoding, i)
				}
				var f Field
				if err := json.Unmarshal(p[0], &f.Key); err != nil {
					return fmt.Errorf("decode map key %d: %w", i, err)
				}
				if err := json.Unmarshal(p[1], &f.Value); err != nil {
					return fmt.Errorf("decode map value %q: %w", f.Key, err)
				}
				fields = append(fields, f)
			}
			*v = Map(fields...)

		default:
			return fmt.Errorf("%w: unknown kind %q", ErrEncoding, kind)
		}
	}
	return nil
}
