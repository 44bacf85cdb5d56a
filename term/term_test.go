package term

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAtom(t *testing.T) {
	got, err := Encode(Atom("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 0, 2, 'o', 'k'}, got)
}

func TestEncodeSmallInteger(t *testing.T) {
	got, err := Encode(Int(42))
	require.NoError(t, err)
	assert.Equal(t, []byte{97, 42}, got)
}

func TestEncodeNegativeInteger(t *testing.T) {
	got, err := Encode(Int(-1))
	require.NoError(t, err)
	assert.Equal(t, []byte{98, 0xff, 0xff, 0xff, 0xff}, got)
}

func TestEncodeLargeIntegerIsBigEndian(t *testing.T) {
	got, err := Encode(Int(0x01020304))
	require.NoError(t, err)
	assert.Equal(t, []byte{98, 0x01, 0x02, 0x03, 0x04}, got)
}

func TestEncodeTuple(t *testing.T) {
	got, err := Encode(Tuple{Atom("ok"), Int(42)})
	require.NoError(t, err)
	assert.Equal(t, []byte{104, 2, 100, 0, 2, 'o', 'k', 97, 42}, got)
}

func TestEncodeString(t *testing.T) {
	got, err := Encode(String("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{107, 0, 2, 'h', 'i'}, got)
}

func TestEncodeListWithNilTerminator(t *testing.T) {
	got, err := Encode(List{Atom("a")})
	require.NoError(t, err)
	assert.Equal(t, []byte{108, 0, 0, 0, 1, 100, 0, 1, 'a', 106}, got)
}

func TestEncodeFloatIs31Bytes(t *testing.T) {
	got, err := Encode(Float(4.25))
	require.NoError(t, err)
	require.Len(t, got, 32)
	assert.EqualValues(t, 99, got[0])
	assert.True(t, strings.HasPrefix(string(got[1:]), "4.25000000000000000000e+00"))
	// NUL padding out to the fixed width
	assert.EqualValues(t, 0, got[31])
}

func TestEncodeBinary(t *testing.T) {
	got, err := Encode(Binary{Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte{109, 0, 0, 0, 3, 1, 2, 3}, got)
}

func TestEncodeBitBinary(t *testing.T) {
	b, err := NewBitBinary([]byte{0xff}, 3)
	require.NoError(t, err)

	got, err := Encode(b)
	require.NoError(t, err)
	// The three padding bits of the last byte are cleared.
	assert.Equal(t, []byte{77, 0, 0, 0, 1, 3, 0xf8}, got)
}

func TestBitBinaryPaddingOnEmptyDataRejected(t *testing.T) {
	_, err := NewBitBinary(nil, 3)
	require.Error(t, err)

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "bit_binary", encErr.Term)
}

func TestEncodeTupleArityLimit(t *testing.T) {
	big := make(Tuple, 256)
	for i := range big {
		big[i] = Int(0)
	}
	_, err := Encode(big)
	require.Error(t, err)
}

func TestEncodeOverlongStringFallsBackToList(t *testing.T) {
	long := String(strings.Repeat("x", 65536))
	got, err := Encode(long)
	require.NoError(t, err)
	assert.EqualValues(t, TagList, got[0])

	decoded, rest, err := Decode(got)
	require.NoError(t, err)
	assert.Empty(t, rest)
	l, ok := decoded.(List)
	require.True(t, ok)
	assert.Len(t, l, 65536)
}

func TestRoundTrip(t *testing.T) {
	ref := Ref{Node: "origin@host", Creation: 1, ID: []byte{0, 0, 0, 42, 0, 0, 0, 7}}
	pid := Pid{Node: "origin@host", ID: 11, Serial: 3, Creation: 2}

	for _, tc := range []Term{
		Atom("ok"),
		Atom(""),
		Int(0),
		Int(255),
		Int(256),
		Int(-123456),
		Float(0),
		Float(-1.5e-20),
		Float(12345.678),
		pid,
		ref,
		String(""),
		String("hello joe"),
		Binary{Data: []byte{}},
		Binary{Data: []byte{9, 8, 7}},
		Binary{Data: []byte{0xf0}, PadBits: 4},
		Tuple{},
		Tuple{Atom("ok"), Int(42)},
		List{},
		List{Int(1), Atom("two"), Float(3)},
		Tuple{Atom("reply"), Tuple{pid, ref}, List{String("nested"), Binary{Data: []byte{1}}}},
	} {
		encoded, err := Encode(tc)
		require.NoError(t, err, "encoding %s", Repr(tc))

		decoded, rest, err := Decode(encoded)
		require.NoError(t, err, "decoding %s", Repr(tc))
		assert.Empty(t, rest, "leftover bytes decoding %s", Repr(tc))
		assert.True(t, Equal(tc, decoded), "round trip of %s gave %s", Repr(tc), Repr(decoded))
	}
}

func TestDecodePayloadStripsVersionByte(t *testing.T) {
	encoded, err := AppendPayload(nil, Atom("ok"))
	require.NoError(t, err)
	require.EqualValues(t, VersionMagic, encoded[0])

	decoded, _, err := DecodePayload(encoded)
	require.NoError(t, err)
	assert.True(t, Equal(Atom("ok"), decoded))
}

func TestDecodeTruncated(t *testing.T) {
	encoded, err := Encode(Tuple{Atom("ok"), Int(300)})
	require.NoError(t, err)

	for i := 0; i < len(encoded); i++ {
		_, _, err := Decode(encoded[:i])
		assert.Error(t, err, "prefix of %d bytes", i)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, _, err := Decode([]byte{116, 0, 0, 0, 0}) // a map term
	require.Error(t, err)
}

func TestPidOrdering(t *testing.T) {
	base := Pid{Node: "a@h", ID: 1, Serial: 1, Creation: 1}

	larger := []Pid{
		{Node: "b@h", ID: 0, Serial: 0, Creation: 0},
		{Node: "a@h", ID: 2, Serial: 0, Creation: 0},
		{Node: "a@h", ID: 1, Serial: 2, Creation: 0},
		{Node: "a@h", ID: 1, Serial: 1, Creation: 2},
	}
	for _, p := range larger {
		assert.True(t, base.Less(p), "%v should sort after %v", p, base)
		assert.False(t, p.Less(base))
	}
	assert.False(t, base.Less(base))
}

func TestEqualIsStructural(t *testing.T) {
	assert.True(t, Equal(
		Tuple{Atom("x"), List{Int(1)}},
		Tuple{Atom("x"), List{Int(1)}},
	))
	assert.False(t, Equal(Atom("x"), String("x")))
	assert.False(t, Equal(List{Int(1)}, List{Int(2)}))
	assert.False(t, Equal(Tuple{Int(1)}, List{Int(1)}))
}
