package tinch

import (
	"sync"

	"github.com/adamtornhill/tinch-pp/term"
)

// The linker tracks bidirectional links as a set of unordered pid
// pairs. Links are symmetric and idempotent: linking twice leaves one
// pair, and either orientation names the same link.
//
// The linker only mutates the set; deciding who gets an exit signal,
// and delivering it, is the node's job. Callers get the affected peer
// pids back and do their signalling outside the linker's lock, which
// keeps re-entrant notification paths (a local exit lands back in a
// mailbox) away from it.
type linkPair struct {
	lo, hi term.Pid
}

func pairOf(a, b term.Pid) linkPair {
	if b.Less(a) {
		a, b = b, a
	}
	return linkPair{lo: a, hi: b}
}

type linker struct {
	mu    sync.Mutex
	links map[linkPair]struct{}
}

func newLinker() *linker {
	return &linker{links: make(map[linkPair]struct{})}
}

// link records a link between a and b, replacing any existing pair in
// either orientation.
func (l *linker) link(a, b term.Pid) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.links[pairOf(a, b)] = struct{}{}
}

// unlink removes the link between a and b, in both orientations. It
// is not an error for no link to exist.
func (l *linker) unlink(a, b term.Pid) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.links, pairOf(a, b))
}

// linked reports whether a link between a and b exists.
func (l *linker) linked(a, b term.Pid) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.links[pairOf(a, b)]
	return ok
}

// breakFor atomically removes every link involving p and returns the
// pids that were on the other end, so the caller can signal them.
func (l *linker) breakFor(p term.Pid) []term.Pid {
	l.mu.Lock()
	defer l.mu.Unlock()

	var peers []term.Pid
	for pair := range l.links {
		switch p {
		case pair.lo:
			peers = append(peers, pair.hi)
			delete(l.links, pair)
		case pair.hi:
			peers = append(peers, pair.lo)
			delete(l.links, pair)
		}
	}
	return peers
}

// breakForNode removes every link with an endpoint on the given node
// and returns the broken pairs as (local survivor, lost remote).
// Used when a connection drops and the remote ends all vanish at once.
func (l *linker) breakForNode(node string) (broken [][2]term.Pid) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for pair := range l.links {
		switch {
		case pair.lo.Node == node && pair.hi.Node != node:
			broken = append(broken, [2]term.Pid{pair.hi, pair.lo})
			delete(l.links, pair)
		case pair.hi.Node == node && pair.lo.Node != node:
			broken = append(broken, [2]term.Pid{pair.lo, pair.hi})
			delete(l.links, pair)
		case pair.lo.Node == node && pair.hi.Node == node:
			delete(l.links, pair)
		}
	}
	return broken
}
