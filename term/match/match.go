// Package match builds patterns for destructuring serialized terms.
//
// A pattern mirrors the shape of the term it expects. Leaves come in
// two modes: literal constructors (Atom, Int, ...) compare against a
// known value, and Bind constructors store the decoded value into a
// caller-supplied location on success. Any matches one well-formed
// term of any type; BindAny additionally captures the raw bytes of
// that term as a Matchable, so the capture can be matched again later.
//
//	var n term.Int
//	msg.Match(match.Tuple(match.Atom("ok"), match.BindInt(&n)))
//
// Bindings are only all meaningful when the outermost match succeeds;
// a failed branch may have filled some of them in along the way, but
// the failure itself is always reported faithfully.
package match

import (
	"encoding/binary"

	"github.com/adamtornhill/tinch-pp/term"
)

// Atom matches an atom with exactly the given name.
func Atom(name string) term.Pattern {
	return literal{term.Atom(name)}
}

// Int matches an integer with exactly the given value, in either of
// its wire encodings.
func Int(v int32) term.Pattern {
	return literal{term.Int(v)}
}

// Float matches a float with exactly the given value.
func Float(v float64) term.Pattern {
	return literal{term.Float(v)}
}

// Pid matches a pid structurally equal to the given one.
func Pid(p term.Pid) term.Pattern {
	return literal{p}
}

// Ref matches a reference structurally equal to the given one.
func Ref(r term.Ref) term.Pattern {
	return literal{r}
}

// String matches the given string in either its compact wire form or
// as a list of small integers with the same values.
func String(s string) term.Pattern {
	return literal{term.String(s)}
}

// Binary matches a binary or bit-string structurally equal to the
// given one.
func Binary(b term.Binary) term.Pattern {
	return literal{b}
}

// Value matches any term structurally equal to the given one.
func Value(t term.Term) term.Pattern {
	return literal{t}
}

// BindAtom matches any atom and stores it.
func BindAtom(dst *term.Atom) term.Pattern {
	return bind(func(t term.Term) bool {
		v, ok := t.(term.Atom)
		if ok {
			*dst = v
		}
		return ok
	})
}

// BindInt matches any integer and stores it.
func BindInt(dst *term.Int) term.Pattern {
	return bind(func(t term.Term) bool {
		v, ok := t.(term.Int)
		if ok {
			*dst = v
		}
		return ok
	})
}

// BindFloat matches any float and stores it.
func BindFloat(dst *term.Float) term.Pattern {
	return bind(func(t term.Term) bool {
		v, ok := t.(term.Float)
		if ok {
			*dst = v
		}
		return ok
	})
}

// BindPid matches any pid and stores it.
func BindPid(dst *term.Pid) term.Pattern {
	return bind(func(t term.Term) bool {
		v, ok := t.(term.Pid)
		if ok {
			*dst = v
		}
		return ok
	})
}

// BindRef matches any reference and stores it.
func BindRef(dst *term.Ref) term.Pattern {
	return bind(func(t term.Term) bool {
		v, ok := t.(term.Ref)
		if ok {
			*dst = v
		}
		return ok
	})
}

// BindString matches a string in either wire form and stores it. A
// list of integers in 0..255 is accepted as a string.
func BindString(dst *term.String) term.Pattern {
	return bind(func(t term.Term) bool {
		switch v := t.(type) {
		case term.String:
			*dst = v
			return true
		case term.List:
			s, ok := listAsString(v)
			if ok {
				*dst = s
			}
			return ok
		}
		return false
	})
}

// BindBinary matches any binary or bit-string and stores it.
func BindBinary(dst *term.Binary) term.Pattern {
	return bind(func(t term.Term) bool {
		v, ok := t.(term.Binary)
		if ok {
			*dst = v
		}
		return ok
	})
}

// Tuple matches a tuple whose arity equals the number of element
// patterns, each element matching in order.
func Tuple(elems ...term.Pattern) term.Pattern {
	return tuplePattern(elems)
}

// List matches a list whose length equals the number of element
// patterns, each element matching in order. The compact string wire
// form is tolerated: its bytes match as small integers.
func List(elems ...term.Pattern) term.Pattern {
	return listPattern(elems)
}

// Any matches one well-formed term of any type. An unknown leading
// type tag is tolerated only when the term is the entire remaining
// input; anywhere else, matching fails.
func Any() term.Pattern {
	return anyPattern{}
}

// BindAny matches like Any and captures the raw bytes covering
// exactly the matched term, so the capture supports further matching.
func BindAny(dst *term.Matchable) term.Pattern {
	return anyPattern{dst: dst}
}

type literal struct {
	want term.Term
}

func (p literal) Match(buf []byte) (int, bool) {
	got, rest, err := term.Decode(buf)
	if err != nil {
		return 0, false
	}
	if !looseEqual(p.want, got) {
		return 0, false
	}
	return len(buf) - len(rest), true
}

// looseEqual is structural equality plus the string/list tolerance:
// a string equals a list of integers carrying the same byte values.
func looseEqual(want, got term.Term) bool {
	if term.Equal(want, got) {
		return true
	}
	switch w := want.(type) {
	case term.String:
		l, ok := got.(term.List)
		if !ok {
			return false
		}
		s, ok := listAsString(l)
		return ok && s == w
	case term.List:
		s, ok := got.(term.String)
		if !ok {
			return false
		}
		ws, ok := listAsString(w)
		return ok && ws == s
	}
	return false
}

func listAsString(l term.List) (term.String, bool) {
	out := make([]byte, len(l))
	for i, e := range l {
		v, ok := e.(term.Int)
		if !ok || v < 0 || v > 255 {
			return "", false
		}
		out[i] = byte(v)
	}
	return term.String(out), true
}

type bind func(term.Term) bool

func (p bind) Match(buf []byte) (int, bool) {
	got, rest, err := term.Decode(buf)
	if err != nil {
		return 0, false
	}
	if !p(got) {
		return 0, false
	}
	return len(buf) - len(rest), true
}

type tuplePattern []term.Pattern

func (p tuplePattern) Match(buf []byte) (int, bool) {
	if len(buf) < 2 || buf[0] != term.TagSmallTuple || int(buf[1]) != len(p) {
		return 0, false
	}
	pos := 2
	for _, elem := range p {
		n, ok := elem.Match(buf[pos:])
		if !ok {
			return 0, false
		}
		pos += n
	}
	return pos, true
}

type listPattern []term.Pattern

func (p listPattern) Match(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}

	switch buf[0] {
	case term.TagNil:
		if len(p) != 0 {
			return 0, false
		}
		return 1, true

	case term.TagString:
		if len(buf) < 3 {
			return 0, false
		}
		length := int(binary.BigEndian.Uint16(buf[1:3]))
		if length != len(p) || len(buf) < 3+length {
			return 0, false
		}
		// Each byte of the compact form matches as the small
		// integer it stands for.
		var small [2]byte
		small[0] = term.TagSmallInteger
		for i := 0; i < length; i++ {
			small[1] = buf[3+i]
			if _, ok := p[i].Match(small[:]); !ok {
				return 0, false
			}
		}
		return 3 + length, true

	case term.TagList:
		if len(buf) < 5 {
			return 0, false
		}
		length := int(binary.BigEndian.Uint32(buf[1:5]))
		if length != len(p) {
			return 0, false
		}
		pos := 5
		for _, elem := range p {
			n, ok := elem.Match(buf[pos:])
			if !ok {
				return 0, false
			}
			pos += n
		}
		if pos >= len(buf) || buf[pos] != term.TagNil {
			return 0, false
		}
		return pos + 1, true
	}

	return 0, false
}

type anyPattern struct {
	dst *term.Matchable
}

func (p anyPattern) Match(buf []byte) (int, bool) {
	n, ok := skipTerm(buf)
	if !ok {
		// Unknown leading tag: tolerate it as an opaque term only
		// when it covers the whole remaining input. A nested
		// occurrence then breaks the enclosing match, since nothing
		// is left for the siblings and terminators that follow.
		if len(buf) == 0 {
			return 0, false
		}
		n = len(buf)
	}
	if p.dst != nil {
		*p.dst = *term.NewMatchable(buf[:n])
	}
	return n, true
}
