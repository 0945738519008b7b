package icrc3

import "github.com/holiman/uint256"

// AppendULEB128 appends the unsigned LEB128 encoding of x to dst.
func AppendULEB128(dst []byte, x uint64) []byte {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// appendULEB128U256 is AppendULEB128 for 256-bit naturals.
func appendULEB128U256(dst []byte, n *uint256.Int) []byte {
	x := new(uint256.Int).Set(n)
	for {
		b := byte(x.Uint64() & 0x7f)
		x.Rsh(x, 7)
		if x.IsZero() {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendSLEB128 appends the signed LEB128 encoding of x to dst.
func AppendSLEB128(dst []byte, x int64) []byte {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// ReadULEB128 decodes an unsigned LEB128 value from the start of b and
// returns it with the number of bytes consumed.
func ReadULEB128(b []byte) (uint64, int, error) {
	var x uint64
	for i, c := range b {
		if i == 10 || (i == 9 && c > 1) {
			return 0, 0, ErrEncoding
		}
		x |= uint64(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return x, i + 1, nil
		}
	}
	return 0, 0, ErrEncoding
}
