package match

import (
	"encoding/binary"

	"github.com/adamtornhill/tinch-pp/term"
)

// skipTerm measures one well-formed term at the start of buf without
// building it, dispatching on the leading type tag. Unknown tags and
// truncated input report failure, never an error.
func skipTerm(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}

	switch buf[0] {
	case term.TagSmallInteger:
		return fixed(buf, 2)
	case term.TagInteger:
		return fixed(buf, 5)
	case term.TagFloat:
		return fixed(buf, 32)
	case term.TagNil:
		return 1, true

	case term.TagAtom:
		if len(buf) < 3 {
			return 0, false
		}
		return fixed(buf, 3+int(binary.BigEndian.Uint16(buf[1:3])))

	case term.TagString:
		if len(buf) < 3 {
			return 0, false
		}
		return fixed(buf, 3+int(binary.BigEndian.Uint16(buf[1:3])))

	case term.TagBinary:
		if len(buf) < 5 {
			return 0, false
		}
		return fixed(buf, 5+int(binary.BigEndian.Uint32(buf[1:5])))

	case term.TagBitBinary:
		if len(buf) < 6 {
			return 0, false
		}
		return fixed(buf, 6+int(binary.BigEndian.Uint32(buf[1:5])))

	case term.TagPid:
		if len(buf) < 2 || buf[1] != term.TagAtom {
			return 0, false
		}
		n, ok := skipTerm(buf[1:])
		if !ok {
			return 0, false
		}
		return fixed(buf, 1+n+9)

	case term.TagNewReference:
		if len(buf) < 4 || buf[3] != term.TagAtom {
			return 0, false
		}
		words := int(binary.BigEndian.Uint16(buf[1:3]))
		n, ok := skipTerm(buf[3:])
		if !ok {
			return 0, false
		}
		return fixed(buf, 3+n+1+4*words)

	case term.TagSmallTuple:
		if len(buf) < 2 {
			return 0, false
		}
		pos := 2
		for i := 0; i < int(buf[1]); i++ {
			n, ok := skipTerm(buf[pos:])
			if !ok {
				return 0, false
			}
			pos += n
		}
		return pos, true

	case term.TagList:
		if len(buf) < 5 {
			return 0, false
		}
		length := int(binary.BigEndian.Uint32(buf[1:5]))
		pos := 5
		for i := 0; i < length; i++ {
			n, ok := skipTerm(buf[pos:])
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

func fixed(buf []byte, n int) (int, bool) {
	if len(buf) < n {
		return 0, false
	}
	return n, true
}
