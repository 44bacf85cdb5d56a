// Package term implements the Erlang external term format: the term
// algebra itself, a binary codec for it, and (in the match subpackage)
// pattern matchers that destructure serialized terms without fully
// decoding them.
//
// The types here mirror the distribution protocol's vocabulary: Atom,
// Int, Float, Pid, Ref, Tuple, List, String and Binary. A value of any
// of these types can be handed to Encode, sent to a remote process,
// and reconstructed on the other side by any Erlang-compatible node.
package term

import (
	"fmt"
	"strconv"
	"strings"
)

// External term format type tags. All multi-byte integers in the
// format are big-endian.
const (
	TagSmallInteger = 97
	TagInteger      = 98
	TagFloat        = 99
	TagAtom         = 100
	TagPid          = 103
	TagSmallTuple   = 104
	TagNil          = 106
	TagString       = 107
	TagList         = 108
	TagBinary       = 109
	TagNewReference = 114
	TagBitBinary    = 77
)

// VersionMagic is the version byte prefixed to every serialized
// payload on the wire. Terms themselves are encoded without it.
const VersionMagic = 131

const (
	maxAtomLength   = 65535
	maxStringLength = 65535
	maxTupleArity   = 255
	floatTextLength = 31
)

// Term is the sum of all value types this library can put on the wire.
type Term interface {
	isTerm()
}

// An Atom is an interned symbolic constant, identified by its name.
type Atom string

// Int is a signed integer term. Values in 0..255 travel as a single
// byte; everything else as a 32-bit big-endian integer.
type Int int32

// Float is an IEEE double, encoded as 31 bytes of formatted text.
type Float float64

// A Pid identifies a process in the cluster. Pids are created by the
// node owning the process; everyone else just passes them around.
type Pid struct {
	Node     string
	ID       uint32
	Serial   uint32
	Creation uint32
}

// A Ref is an opaque cluster-generated token, typically used to
// correlate a request with its response. The ID bytes are never
// interpreted; their length is a multiple of 4.
type Ref struct {
	Node     string
	Creation uint32
	ID       []byte
}

// A Tuple is a fixed-size sequence of terms. Arity is capped at 255.
type Tuple []Term

// A List is a variable-length sequence of terms with a nil terminator
// on the wire. Improper lists are not supported.
type List []Term

// A String is a byte sequence in 0..255 per element. Strings of up to
// 65535 bytes use the compact string encoding; longer ones fall back
// to the list encoding.
type String string

// A Binary is a byte sequence, optionally with 1..7 unused low bits
// in its final byte (a bit-string). PadBits of zero means a plain
// binary.
type Binary struct {
	Data    []byte
	PadBits uint8
}

func (Atom) isTerm()   {}
func (Int) isTerm()    {}
func (Float) isTerm()  {}
func (Pid) isTerm()    {}
func (Ref) isTerm()    {}
func (Tuple) isTerm()  {}
func (List) isTerm()   {}
func (String) isTerm() {}
func (Binary) isTerm() {}

// NewBitBinary builds a bit-string from data and a count of unused
// low bits in the final byte. The unused bits are cleared, so two
// bit-strings with the same used bits compare equal. A nonzero pad
// over empty data is an encoding error.
func NewBitBinary(data []byte, padBits uint8) (Binary, error) {
	if padBits > 7 {
		return Binary{}, &EncodingError{Term: "bit_binary", Detail: "padding must be in 0..7"}
	}
	if padBits > 0 && len(data) == 0 {
		return Binary{}, &EncodingError{Term: "bit_binary", Detail: "padding on empty data"}
	}
	owned := append([]byte(nil), data...)
	if padBits > 0 {
		owned[len(owned)-1] &^= byte(1<<padBits) - 1
	}
	return Binary{Data: owned, PadBits: padBits}, nil
}

// Less orders Pids lexicographically by (node, id, serial, creation).
func (p Pid) Less(other Pid) bool {
	if p.Node != other.Node {
		return p.Node < other.Node
	}
	if p.ID != other.ID {
		return p.ID < other.ID
	}
	if p.Serial != other.Serial {
		return p.Serial < other.Serial
	}
	return p.Creation < other.Creation
}

func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.ID, p.Serial)
}

// Equal reports whether two terms are structurally equal.
func Equal(a, b Term) bool {
	switch av := a.(type) {
	case Atom:
		bv, ok := b.(Atom)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Pid:
		bv, ok := b.(Pid)
		return ok && av == bv
	case Ref:
		bv, ok := b.(Ref)
		return ok && av.Node == bv.Node && av.Creation == bv.Creation && bytesEqual(av.ID, bv.ID)
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Binary:
		bv, ok := b.(Binary)
		return ok && av.PadBits == bv.PadBits && bytesEqual(av.Data, bv.Data)
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Repr renders a term in Erlang-ish syntax, for logs and errors.
func Repr(t Term) string {
	switch v := t.(type) {
	case Atom:
		return string(v)
	case Int:
		return strconv.FormatInt(int64(v), 10)
	case Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case Pid:
		return v.String()
	case Ref:
		return fmt.Sprintf("#Ref<%s.%d>", v.Node, len(v.ID)/4)
	case String:
		return strconv.Quote(string(v))
	case Binary:
		return fmt.Sprintf("<<%d bytes>>", len(v.Data))
	case Tuple:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Repr(e)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case List:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Repr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%#v", t)
}
