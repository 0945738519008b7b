package icrc3_test

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_leb128(t *testing.T) {
	tests := []struct {
		name string
		in   icrc3.Value
		want []byte
	}{
		{"nat zero", icrc3.Nat(0), []byte{0x00}},
		{"nat 127", icrc3.Nat(127), []byte{0x7f}},
		{"nat 128", icrc3.Nat(128), []byte{0x80, 0x01}},
		{"nat 624485", icrc3.Nat(624485), []byte{0xe5, 0x8e, 0x26}},
		{"int -1", icrc3.Int(-1), []byte{0x7f}},
		{"int 63", icrc3.Int(63), []byte{0x3f}},
		{"int 64", icrc3.Int(64), []byte{0xc0, 0x00}},
		{"int -123456", icrc3.Int(-123456), []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := icrc3.Encode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncode_largeNat(t *testing.T) {
	n := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	got, err := icrc3.Encode(icrc3.NatU256(n))
	require.NoError(t, err)
	// 201 significant bits need 29 seven-bit groups.
	assert.Len(t, got, 29)
	assert.Equal(t, byte(0x10), got[len(got)-1])
}

func TestHash_leafIsSHA256OfEncoding(t *testing.T) {
	h, err := icrc3.Hash(icrc3.Text("hello"))
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256([]byte("hello")), h)

	h, err = icrc3.Hash(icrc3.Blob([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256([]byte{1, 2, 3}), h)
}

func TestHash_mapOrderIndependent(t *testing.T) {
	a := icrc3.Map(
		icrc3.Field{Key: "amt", Value: icrc3.Nat(50)},
		icrc3.Field{Key: "to", Value: icrc3.Array(icrc3.Blob([]byte{9}))},
		icrc3.Field{Key: "memo", Value: icrc3.Blob(nil)},
	)
	b := icrc3.Map(
		icrc3.Field{Key: "memo", Value: icrc3.Blob(nil)},
		icrc3.Field{Key: "amt", Value: icrc3.Nat(50)},
		icrc3.Field{Key: "to", Value: icrc3.Array(icrc3.Blob([]byte{9}))},
	)
	ha, err := icrc3.Hash(a)
	require.NoError(t, err)
	hb, err := icrc3.Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_arrayOrderMatters(t *testing.T) {
	ha, err := icrc3.Hash(icrc3.Array(icrc3.Nat(1), icrc3.Nat(2)))
	require.NoError(t, err)
	hb, err := icrc3.Hash(icrc3.Array(icrc3.Nat(2), icrc3.Nat(1)))
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHash_malformed(t *testing.T) {
	tests := []struct {
		name string
		in   icrc3.Value
	}{
		{"zero kind", icrc3.Value{}},
		{"nil nat", icrc3.Value{Kind: icrc3.KindNat}},
		{"invalid utf8", icrc3.Text(string([]byte{0xff, 0xfe}))},
		{"duplicate key", icrc3.Map(
			icrc3.Field{Key: "a", Value: icrc3.Nat(1)},
			icrc3.Field{Key: "a", Value: icrc3.Nat(2)},
		)},
		{"nested malformed", icrc3.Array(icrc3.Map(icrc3.Field{Key: "x", Value: icrc3.Value{}}))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := icrc3.Hash(tc.in)
			assert.ErrorIs(t, err, icrc3.ErrEncoding)
		})
	}
}

func TestHash_depthLimit(t *testing.T) {
	v := icrc3.Nat(1)
	for i := 0; i < 40; i++ {
		v = icrc3.Array(v)
	}
	_, err := icrc3.Hash(v)
	assert.ErrorIs(t, err, icrc3.ErrEncoding)
}

func TestValueJSON_roundTrip(t *testing.T) {
	v := icrc3.Map(
		icrc3.Field{Key: "phash", Value: icrc3.Blob([]byte{0xde, 0xad})},
		icrc3.Field{Key: "tx", Value: icrc3.Map(
			icrc3.Field{Key: "ts", Value: icrc3.Nat(12340)},
			icrc3.Field{Key: "delta", Value: icrc3.Int(-7)},
			icrc3.Field{Key: "btype", Value: icrc3.Text("1swap")},
			icrc3.Field{Key: "to", Value: icrc3.Array(icrc3.Blob([]byte{1}))},
		)},
	)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"Map":[["phash",{"Blob":"dead"}],["tx",{"Map":[["ts",{"Nat":"12340"}],["delta",{"Int":"-7"}],["btype",{"Text":"1swap"}],["to",{"Array":[{"Blob":"01"}]}]]}]]}`,
		string(data))

	var back icrc3.Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, v.Equal(back))

	again, err := json.Marshal(back)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestValueJSON_rejectsUnknownKind(t *testing.T) {
	var v icrc3.Value
	err := json.Unmarshal([]byte(`{"Float":"1.5"}`), &v)
	assert.ErrorIs(t, err, icrc3.ErrEncoding)

	err = json.Unmarshal([]byte(`{"Nat":"1","Text":"x"}`), &v)
	assert.ErrorIs(t, err, icrc3.ErrEncoding)
}

func TestNewBlock_phashOmittedForGenesis(t *testing.T) {
	tx := icrc3.Map(icrc3.Field{Key: "btype", Value: icrc3.Text("1mint")})

	b0 := icrc3.NewBlock(0, nil, tx)
	_, ok := b0.PHash()
	assert.False(t, ok)

	h0, err := b0.Hash()
	require.NoError(t, err)

	b1 := icrc3.NewBlock(1, h0[:], tx)
	assert.True(t, b1.LinksTo(h0[:]))
}

func TestReadULEB128_roundTrip(t *testing.T) {
	for _, x := range []uint64{0, 1, 127, 128, 624485, 1<<63 + 5, ^uint64(0)} {
		enc := icrc3.AppendULEB128(nil, x)
		got, n, err := icrc3.ReadULEB128(enc)
		require.NoError(t, err)
		assert.Equal(t, x, got)
		assert.Equal(t, len(enc), n)
	}
	_, _, err := icrc3.ReadULEB128([]byte{0x80, 0x80})
	assert.ErrorIs(t, err, icrc3.ErrEncoding, "truncated input")
}
