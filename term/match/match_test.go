package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamtornhill/tinch-pp/term"
)

func encoded(t *testing.T, v term.Term) []byte {
	t.Helper()
	b, err := term.Encode(v)
	require.NoError(t, err)
	return b
}

func TestMatchReceivedPayload(t *testing.T) {
	// The wire bytes of {ok, 42}, version byte included, as they
	// arrive off a connection.
	payload := []byte{0x83, 0x68, 0x02, 0x64, 0x00, 0x02, 0x6f, 0x6b, 0x61, 0x2a}

	var n term.Int
	m := term.NewMatchable(payload)
	require.True(t, m.Match(Tuple(Atom("ok"), BindInt(&n))))
	assert.EqualValues(t, 42, n)
}

func TestLiteralLeaves(t *testing.T) {
	pid := term.Pid{Node: "n@h", ID: 1, Serial: 2, Creation: 3}
	ref := term.Ref{Node: "n@h", Creation: 1, ID: []byte{0, 0, 0, 9}}

	for _, tc := range []struct {
		value   term.Term
		pattern term.Pattern
	}{
		{term.Atom("ok"), Atom("ok")},
		{term.Int(-7), Int(-7)},
		{term.Float(2.5), Float(2.5)},
		{pid, Pid(pid)},
		{ref, Ref(ref)},
		{term.String("abc"), String("abc")},
		{term.Binary{Data: []byte{1, 2}}, Binary(term.Binary{Data: []byte{1, 2}})},
		{term.Tuple{term.Int(1)}, Value(term.Tuple{term.Int(1)})},
	} {
		m := term.NewMatchable(encoded(t, tc.value))
		assert.True(t, m.Match(tc.pattern), "literal match of %s", term.Repr(tc.value))
	}
}

func TestLiteralMismatch(t *testing.T) {
	m := term.NewMatchable(encoded(t, term.Atom("ok")))
	assert.False(t, m.Match(Atom("error")))
	assert.False(t, m.Match(Int(1)))
}

func TestCaptureLeaves(t *testing.T) {
	pid := term.Pid{Node: "n@h", ID: 1, Serial: 2, Creation: 3}
	ref := term.Ref{Node: "n@h", Creation: 1, ID: []byte{0, 0, 0, 9}}

	var (
		a term.Atom
		i term.Int
		f term.Float
		p term.Pid
		r term.Ref
		s term.String
		b term.Binary
	)
	for _, tc := range []struct {
		value   term.Term
		pattern term.Pattern
		bound   func() term.Term
	}{
		{term.Atom("ok"), BindAtom(&a), func() term.Term { return a }},
		{term.Int(300), BindInt(&i), func() term.Term { return i }},
		{term.Float(1.5), BindFloat(&f), func() term.Term { return f }},
		{pid, BindPid(&p), func() term.Term { return p }},
		{ref, BindRef(&r), func() term.Term { return r }},
		{term.String("xyz"), BindString(&s), func() term.Term { return s }},
		{term.Binary{Data: []byte{7}}, BindBinary(&b), func() term.Term { return b }},
	} {
		m := term.NewMatchable(encoded(t, tc.value))
		require.True(t, m.Match(tc.pattern), "capture of %s", term.Repr(tc.value))
		assert.True(t, term.Equal(tc.value, tc.bound()),
			"capture of %s bound %s", term.Repr(tc.value), term.Repr(tc.bound()))
	}
}

func TestCaptureViaAnyEqualsOriginal(t *testing.T) {
	for _, v := range []term.Term{
		term.Atom("ok"),
		term.Int(-1),
		term.Tuple{term.Atom("a"), term.List{term.Int(1), term.Int(500)}},
		term.List{},
	} {
		var captured term.Matchable
		m := term.NewMatchable(encoded(t, v))
		require.True(t, m.Match(BindAny(&captured)))

		decoded, err := captured.Decode()
		require.NoError(t, err)
		assert.True(t, term.Equal(v, decoded), "any-capture of %s gave %s", term.Repr(v), term.Repr(decoded))
	}
}

func TestCapturedAnySupportsFurtherMatching(t *testing.T) {
	msg := term.NewMatchable(encoded(t, term.Tuple{
		term.Atom("reply"),
		term.Tuple{term.Atom("value"), term.Int(17)},
	}))

	var inner term.Matchable
	require.True(t, msg.Match(Tuple(Atom("reply"), BindAny(&inner))))

	var n term.Int
	require.True(t, inner.Match(Tuple(Atom("value"), BindInt(&n))))
	assert.EqualValues(t, 17, n)
}

func TestTupleArityMustMatch(t *testing.T) {
	m := term.NewMatchable(encoded(t, term.Tuple{term.Int(1), term.Int(2)}))
	assert.False(t, m.Match(Tuple(Int(1))))
	assert.False(t, m.Match(Tuple(Int(1), Int(2), Any())))
	assert.True(t, m.Match(Tuple(Int(1), Int(2))))
}

func TestListPatternAgainstBothWireForms(t *testing.T) {
	// A list of small integers travels in the compact string form...
	var a, b term.Int
	m := term.NewMatchable(encoded(t, term.String("\x01\x02")))
	require.True(t, m.Match(List(BindInt(&a), BindInt(&b))))
	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 2, b)

	// ...and in the full list form when anything forces it.
	m = term.NewMatchable(encoded(t, term.List{term.Int(1), term.Int(300)}))
	require.True(t, m.Match(List(BindInt(&a), BindInt(&b))))
	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 300, b)

	// Length is part of the match.
	assert.False(t, m.Match(List(BindInt(&a))))
}

func TestEmptyListPattern(t *testing.T) {
	m := term.NewMatchable(encoded(t, term.List{}))
	assert.True(t, m.Match(List()))
	assert.False(t, m.Match(List(Any())))
}

func TestStringPatternAgainstListOfSmallInts(t *testing.T) {
	m := term.NewMatchable(encoded(t, term.List{term.Int('h'), term.Int('i')}))
	assert.True(t, m.Match(String("hi")))
	assert.False(t, m.Match(String("ho")))

	var s term.String
	require.True(t, m.Match(BindString(&s)))
	assert.EqualValues(t, "hi", s)

	// A list with an element outside 0..255 is not a string.
	m = term.NewMatchable(encoded(t, term.List{term.Int(300)}))
	assert.False(t, m.Match(String("x")))
}

func TestFailedBranchConsumesNothing(t *testing.T) {
	// The second element first fails an atom pattern; the following
	// attempt on the same Matchable must see the tuple intact.
	m := term.NewMatchable(encoded(t, term.Tuple{term.Atom("ok"), term.Int(42)}))
	require.False(t, m.Match(Tuple(Atom("ok"), Atom("not_an_int"))))

	var n term.Int
	require.True(t, m.Match(Tuple(Atom("ok"), BindInt(&n))))
	assert.EqualValues(t, 42, n)
}

func TestUnknownTagToleratedOnlyAsWholeTerm(t *testing.T) {
	// A map term: tag 116, which is outside this library's
	// vocabulary.
	mapTerm := []byte{116, 0, 0, 0, 0}

	var captured term.Matchable
	m := term.NewMatchable(mapTerm)
	assert.True(t, m.Match(Any()))
	require.True(t, m.Match(BindAny(&captured)))
	assert.Equal(t, mapTerm, captured.Bytes())

	// Nested, the unknown term swallows the rest of the buffer and
	// the enclosing tuple cannot complete.
	inner := append([]byte{104, 2}, mapTerm...)
	inner = append(inner, 97, 1)
	m = term.NewMatchable(inner)
	assert.False(t, m.Match(Tuple(Any(), Int(1))))
}

func TestMatchSkipsLeadingVersionByte(t *testing.T) {
	payload, err := term.AppendPayload(nil, term.Atom("ok"))
	require.NoError(t, err)

	m := term.NewMatchable(payload)
	assert.True(t, m.Match(Atom("ok")))
}
