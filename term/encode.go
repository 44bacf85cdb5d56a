package term

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// An EncodingError reports invalid input handed to the encoder, such
// as an oversized atom or a malformed reference id.
type EncodingError struct {
	Term   string
	Detail string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("term: cannot encode %s: %s", e.Term, e.Detail)
}

// ErrTruncated is returned when a buffer ends in the middle of a term.
var ErrTruncated = errors.New("term: truncated input")

// Encode serializes a term into the external format, without the
// leading version byte. The envelope writer owns the version byte; a
// term never writes it for itself.
func Encode(t Term) ([]byte, error) {
	return Append(nil, t)
}

// Append serializes a term onto dst and returns the extended slice.
// Compound terms are emitted as a pre-order walk: each element's tag
// and body directly follow its parent's header.
func Append(dst []byte, t Term) ([]byte, error) {
	switch v := t.(type) {
	case Atom:
		return appendAtom(dst, string(v))

	case Int:
		if v >= 0 && v <= 255 {
			return append(dst, TagSmallInteger, byte(v)), nil
		}
		dst = append(dst, TagInteger)
		return binary.BigEndian.AppendUint32(dst, uint32(v)), nil

	case Float:
		text := fmt.Sprintf("%.20e", float64(v))
		if len(text) > floatTextLength {
			return nil, &EncodingError{Term: "float", Detail: "formatted text exceeds 31 bytes"}
		}
		dst = append(dst, TagFloat)
		dst = append(dst, text...)
		for i := len(text); i < floatTextLength; i++ {
			dst = append(dst, 0)
		}
		return dst, nil

	case Pid:
		dst = append(dst, TagPid)
		dst, err := appendAtom(dst, v.Node)
		if err != nil {
			return nil, err
		}
		dst = binary.BigEndian.AppendUint32(dst, v.ID)
		dst = binary.BigEndian.AppendUint32(dst, v.Serial)
		return append(dst, byte(v.Creation)), nil

	case Ref:
		if len(v.ID)%4 != 0 {
			return nil, &EncodingError{Term: "reference", Detail: "id length is not a multiple of 4"}
		}
		words := len(v.ID) / 4
		if words > 65535 {
			return nil, &EncodingError{Term: "reference", Detail: "id too long"}
		}
		dst = append(dst, TagNewReference)
		dst = binary.BigEndian.AppendUint16(dst, uint16(words))
		dst, err := appendAtom(dst, v.Node)
		if err != nil {
			return nil, err
		}
		dst = append(dst, byte(v.Creation))
		return append(dst, v.ID...), nil

	case Tuple:
		if len(v) > maxTupleArity {
			return nil, &EncodingError{Term: "tuple", Detail: "arity exceeds 255"}
		}
		dst = append(dst, TagSmallTuple, byte(len(v)))
		var err error
		for _, elem := range v {
			dst, err = Append(dst, elem)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	case List:
		dst = append(dst, TagList)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v)))
		var err error
		for _, elem := range v {
			dst, err = Append(dst, elem)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, TagNil), nil

	case String:
		if len(v) > maxStringLength {
			// Too long for the compact form; send it as the
			// equivalent list of small integers.
			asList := make(List, len(v))
			for i := 0; i < len(v); i++ {
				asList[i] = Int(v[i])
			}
			return Append(dst, asList)
		}
		dst = append(dst, TagString)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(v)))
		return append(dst, v...), nil

	case Binary:
		if v.PadBits == 0 {
			dst = append(dst, TagBinary)
			dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.Data)))
			return append(dst, v.Data...), nil
		}
		if v.PadBits > 7 {
			return nil, &EncodingError{Term: "bit_binary", Detail: "padding must be in 0..7"}
		}
		if len(v.Data) == 0 {
			return nil, &EncodingError{Term: "bit_binary", Detail: "padding on empty data"}
		}
		dst = append(dst, TagBitBinary)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.Data)))
		dst = append(dst, v.PadBits)
		return append(dst, v.Data...), nil
	}

	return nil, &EncodingError{Term: fmt.Sprintf("%T", t), Detail: "unsupported term type"}
}

// AppendPayload serializes a term the way it travels as a message
// payload: a standalone version byte followed by the term.
func AppendPayload(dst []byte, t Term) ([]byte, error) {
	return Append(append(dst, VersionMagic), t)
}

func appendAtom(dst []byte, name string) ([]byte, error) {
	if len(name) > maxAtomLength {
		return nil, &EncodingError{Term: "atom", Detail: "name exceeds 65535 bytes"}
	}
	dst = append(dst, TagAtom)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(name)))
	return append(dst, name...), nil
}
