package tinch

import (
	"sync"
	"time"

	"github.com/adamtornhill/tinch-pp/term"
)

// A Mailbox is an in-process endpoint addressable by its pid, and
// optionally by a registered name. Hosts receive payloads from it and
// send through it; the node routes everything else.
//
// A Mailbox MUST have Close called on it when you are done with it.
// Otherwise links involving it never break and registry entries leak.
type Mailbox struct {
	pid  term.Pid
	name string
	node *Node

	cond *sync.Cond

	// One queue wakes receivers for both payloads and broken links,
	// so the two kinds of event keep their relative order.
	queue  []wakeEntry
	closed bool
}

type wakeEntry struct {
	payload *term.Matchable
	broken  *LinkBrokenError
}

// Self returns the pid under which this mailbox is addressable
// throughout the cluster.
func (m *Mailbox) Self() term.Pid {
	return m.pid
}

// Name returns the registered name, or "" for an anonymous mailbox.
func (m *Mailbox) Name() string {
	return m.name
}

// Send delivers a term to the given pid: locally when the pid lives
// on this node, otherwise through the connection to its node,
// dialling and handshaking first if none exists yet.
func (m *Mailbox) Send(to term.Pid, t term.Term) error {
	return m.node.sendToPid(to, t)
}

// SendName delivers a term to a name registered on this node.
func (m *Mailbox) SendName(name string, t term.Term) error {
	return m.node.sendToLocalName(name, t)
}

// SendReg delivers a term to a name registered on the given node.
func (m *Mailbox) SendReg(name, node string, t term.Term) error {
	if node == m.node.name {
		return m.SendName(name, t)
	}
	return m.node.sendToRemoteName(m.pid, name, node, t)
}

// Receive blocks until a payload or a broken-link notification is
// queued. Payloads come back as a Matchable over the raw bytes;
// parsing is the receiver's pattern's business. A broken link comes
// back as a *LinkBrokenError and is consumed by being reported.
func (m *Mailbox) Receive() (*term.Matchable, error) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()

	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	return m.pop()
}

// ReceiveTimeout is Receive with a bound: after the timeout it
// returns ErrTimeout instead. A timer that fires after a successful
// receive has no effect.
func (m *Mailbox) ReceiveTimeout(timeout time.Duration) (*term.Matchable, error) {
	expired := false
	t := time.AfterFunc(timeout, func() {
		m.cond.L.Lock()
		expired = true
		m.cond.L.Unlock()
		m.cond.Broadcast()
	})
	defer t.Stop()

	m.cond.L.Lock()
	defer m.cond.L.Unlock()

	for len(m.queue) == 0 && !m.closed && !expired {
		m.cond.Wait()
	}
	if len(m.queue) == 0 && !m.closed {
		return nil, ErrTimeout
	}
	return m.pop()
}

// pop hands out the head of the wake queue. Callers hold the lock and
// have ensured the queue is non-empty or the mailbox is closed.
func (m *Mailbox) pop() (*term.Matchable, error) {
	if len(m.queue) == 0 {
		return nil, ErrMailboxClosed
	}
	e := m.queue[0]
	if len(m.queue) == 1 {
		m.queue = m.queue[:0]
	} else {
		m.queue = m.queue[1:]
	}
	if e.broken != nil {
		return nil, e.broken
	}
	return e.payload, nil
}

// Link establishes a bidirectional link between this mailbox and the
// given pid. When either side closes, the other hears about it
// through its receive path. Linking twice is the same as linking once.
func (m *Mailbox) Link(to term.Pid) error {
	return m.node.link(m.pid, to)
}

// Unlink removes the link to the given pid, if any.
func (m *Mailbox) Unlink(to term.Pid) error {
	return m.node.unlink(m.pid, to)
}

// Close takes the mailbox out of service: links involving it break
// with reason "normal", registrations are removed, and any blocked
// receivers wake with ErrMailboxClosed. Closing twice is harmless.
func (m *Mailbox) Close() {
	m.node.closeMailbox(m, reasonNormal)
}

// CloseOnError takes the mailbox out of service from inside a
// failure path: links break with reason "error" and are signalled
// with the uncontrolled exit. The work is posted to the node's run
// loop, so a caller that is already unwinding an error can never
// trip over a second one here.
func (m *Mailbox) CloseOnError() {
	m.node.post(func() { m.node.closeMailbox(m, reasonError) })
}

// deliver queues a payload. Delivery to a closed mailbox is silently
// dropped, matching what happens when the sender is a remote node
// that has not yet heard of the close.
func (m *Mailbox) deliver(payload []byte) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()

	if m.closed {
		return
	}
	m.queue = append(m.queue, wakeEntry{payload: term.NewMatchable(payload)})
	m.cond.Broadcast()
}

// deliverBroken queues a broken-link notification at the tail, so it
// is reported after everything already queued and before anything
// that arrives later.
func (m *Mailbox) deliverBroken(reason string, from term.Pid) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()

	if m.closed {
		return
	}
	m.queue = append(m.queue, wakeEntry{broken: &LinkBrokenError{Reason: reason, From: from}})
	m.cond.Broadcast()
}

// shutdown marks the mailbox closed and wakes all receivers. Called
// by the node with the registries already updated.
func (m *Mailbox) shutdown() (alreadyClosed bool) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()

	if m.closed {
		return true
	}
	m.closed = true
	m.queue = nil
	m.cond.Broadcast()
	return false
}

// mailboxes is the node's registry of living mailboxes, by pid and by
// registered name. One mutex guards both maps; it is held only for
// registry changes and lookups, never while a mailbox's own lock is
// taken for delivery.
type mailboxes struct {
	mu     sync.Mutex
	byPid  map[term.Pid]*Mailbox
	byName map[string]*Mailbox
}

func newMailboxes() *mailboxes {
	return &mailboxes{
		byPid:  make(map[term.Pid]*Mailbox),
		byName: make(map[string]*Mailbox),
	}
}

func (ms *mailboxes) register(m *Mailbox) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if m.name != "" {
		if _, taken := ms.byName[m.name]; taken {
			return ErrNameInUse
		}
		ms.byName[m.name] = m
	}
	ms.byPid[m.pid] = m
	return nil
}

func (ms *mailboxes) unregister(m *Mailbox) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.byPid, m.pid)
	if m.name != "" && ms.byName[m.name] == m {
		delete(ms.byName, m.name)
	}
}

func (ms *mailboxes) byPidOrNil(p term.Pid) *Mailbox {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.byPid[p]
}

func (ms *mailboxes) byNameOrNil(name string) *Mailbox {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.byName[name]
}

func (ms *mailboxes) all() []*Mailbox {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]*Mailbox, 0, len(ms.byPid))
	for _, m := range ms.byPid {
		out = append(out, m)
	}
	return out
}
