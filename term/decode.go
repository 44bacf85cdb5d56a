package term

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Decode parses one term from the start of buf and returns it along
// with the unconsumed remainder. The buffer must not carry the
// version byte; strip it before calling (Matchable does this for
// payloads that arrive off the wire).
func Decode(buf []byte) (Term, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, ErrTruncated
	}

	switch buf[0] {
	case TagSmallInteger:
		if len(buf) < 2 {
			return nil, nil, ErrTruncated
		}
		return Int(buf[1]), buf[2:], nil

	case TagInteger:
		if len(buf) < 5 {
			return nil, nil, ErrTruncated
		}
		return Int(int32(binary.BigEndian.Uint32(buf[1:5]))), buf[5:], nil

	case TagFloat:
		if len(buf) < 1+floatTextLength {
			return nil, nil, ErrTruncated
		}
		text := strings.TrimRight(string(buf[1:1+floatTextLength]), "\x00")
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("term: bad float text %q", text)
		}
		return Float(f), buf[1+floatTextLength:], nil

	case TagAtom:
		name, rest, err := decodeAtomBody(buf[1:])
		if err != nil {
			return nil, nil, err
		}
		return Atom(name), rest, nil

	case TagPid:
		if len(buf) < 2 {
			return nil, nil, ErrTruncated
		}
		if buf[1] != TagAtom {
			return nil, nil, fmt.Errorf("term: pid node is not an atom (tag %d)", buf[1])
		}
		node, rest, err := decodeAtomBody(buf[2:])
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < 9 {
			return nil, nil, ErrTruncated
		}
		p := Pid{
			Node:     node,
			ID:       binary.BigEndian.Uint32(rest[0:4]),
			Serial:   binary.BigEndian.Uint32(rest[4:8]),
			Creation: uint32(rest[8]),
		}
		return p, rest[9:], nil

	case TagNewReference:
		if len(buf) < 4 {
			return nil, nil, ErrTruncated
		}
		words := int(binary.BigEndian.Uint16(buf[1:3]))
		if buf[3] != TagAtom {
			return nil, nil, fmt.Errorf("term: reference node is not an atom (tag %d)", buf[3])
		}
		node, rest, err := decodeAtomBody(buf[4:])
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < 1+4*words {
			return nil, nil, ErrTruncated
		}
		r := Ref{
			Node:     node,
			Creation: uint32(rest[0]),
			ID:       append([]byte(nil), rest[1:1+4*words]...),
		}
		return r, rest[1+4*words:], nil

	case TagSmallTuple:
		if len(buf) < 2 {
			return nil, nil, ErrTruncated
		}
		arity := int(buf[1])
		elems := make(Tuple, 0, arity)
		rest := buf[2:]
		for i := 0; i < arity; i++ {
			var elem Term
			var err error
			elem, rest, err = Decode(rest)
			if err != nil {
				return nil, nil, err
			}
			elems = append(elems, elem)
		}
		return elems, rest, nil

	case TagNil:
		return List{}, buf[1:], nil

	case TagString:
		if len(buf) < 3 {
			return nil, nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint16(buf[1:3]))
		if len(buf) < 3+length {
			return nil, nil, ErrTruncated
		}
		return String(buf[3 : 3+length]), buf[3+length:], nil

	case TagList:
		if len(buf) < 5 {
			return nil, nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint32(buf[1:5]))
		elems := make(List, 0, length)
		rest := buf[5:]
		for i := 0; i < length; i++ {
			var elem Term
			var err error
			elem, rest, err = Decode(rest)
			if err != nil {
				return nil, nil, err
			}
			elems = append(elems, elem)
		}
		if len(rest) == 0 {
			return nil, nil, ErrTruncated
		}
		if rest[0] != TagNil {
			return nil, nil, fmt.Errorf("term: improper list (tail tag %d)", rest[0])
		}
		return elems, rest[1:], nil

	case TagBinary:
		if len(buf) < 5 {
			return nil, nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint32(buf[1:5]))
		if len(buf) < 5+length {
			return nil, nil, ErrTruncated
		}
		return Binary{Data: append([]byte(nil), buf[5:5+length]...)}, buf[5+length:], nil

	case TagBitBinary:
		if len(buf) < 6 {
			return nil, nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint32(buf[1:5]))
		pad := buf[5]
		if pad > 7 {
			return nil, nil, fmt.Errorf("term: bit binary padding %d out of range", pad)
		}
		if len(buf) < 6+length {
			return nil, nil, ErrTruncated
		}
		return Binary{
			Data:    append([]byte(nil), buf[6:6+length]...),
			PadBits: pad,
		}, buf[6+length:], nil
	}

	return nil, nil, fmt.Errorf("term: unknown type tag %d", buf[0])
}

// DecodePayload parses a message payload: an optional version byte
// followed by exactly one term.
func DecodePayload(buf []byte) (Term, []byte, error) {
	if len(buf) > 0 && buf[0] == VersionMagic {
		buf = buf[1:]
	}
	return Decode(buf)
}

func decodeAtomBody(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, ErrTruncated
	}
	length := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+length {
		return "", nil, ErrTruncated
	}
	return string(buf[2 : 2+length]), buf[2+length:], nil
}
