package term

// A Pattern matches a prefix of serialized term bytes. On success it
// reports how many bytes the matched term occupied; on failure the
// caller leaves its cursor where it was, so failed branches never
// consume input.
//
// Patterns are built with the constructors in the match subpackage.
type Pattern interface {
	Match(buf []byte) (consumed int, ok bool)
}

// A Matchable wraps the raw serialized bytes of a payload, deferring
// any parsing until a receiver asks a pattern about it. Captured
// sub-terms are themselves Matchables, so a receiver can peel a
// message apart one layer at a time.
type Matchable struct {
	buf []byte
}

// NewMatchable wraps raw term bytes, with or without the leading
// version byte.
func NewMatchable(buf []byte) *Matchable {
	return &Matchable{buf: buf}
}

// Match reports whether the wrapped term matches the pattern. Capture
// patterns inside p bind their targets as the match progresses; the
// bindings are only all meaningful when Match returns true.
func (m *Matchable) Match(p Pattern) bool {
	buf := m.buf
	if len(buf) > 0 && buf[0] == VersionMagic {
		buf = buf[1:]
	}
	_, ok := p.Match(buf)
	return ok
}

// Bytes returns the wrapped bytes, version byte included if present.
func (m *Matchable) Bytes() []byte {
	return m.buf
}

// Decode fully parses the wrapped term.
func (m *Matchable) Decode() (Term, error) {
	t, _, err := DecodePayload(m.buf)
	return t, err
}
