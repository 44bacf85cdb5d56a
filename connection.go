package tinch

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamtornhill/tinch-pp/internal"
	"github.com/adamtornhill/tinch-pp/term"
)

// A connection is the post-handshake channel to one peer node. One
// goroutine reads and dispatches; one goroutine drains the write
// queue, so writes complete in the order they were queued; a third
// originates keep-alive ticks when the outbound side has been idle.
type connection struct {
	node *Node
	peer string
	conn net.Conn
	log  NodeLogger

	// out carries fully framed wire bytes. The writer goroutine is
	// the only thing that touches the socket's write side.
	out       chan []byte
	pending   int32
	tickReset chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(node *Node, peer string, conn net.Conn) *connection {
	return &connection{
		node:      node,
		peer:      peer,
		conn:      conn,
		log:       node.log,
		out:       make(chan []byte, 32),
		tickReset: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *connection) start() {
	go c.writeLoop()
	go c.readLoop()
	go c.tickLoop()
}

// sendControl frames a control tuple, and optionally a payload, into
// one distribution message and queues it. A nil payload means the
// operation carries none (LINK, EXIT, ...).
func (c *connection) sendControl(ctl term.Term, payload term.Term) error {
	body := []byte{internal.PassThrough, internal.VersionMagic}
	body, err := term.Append(body, ctl)
	if err != nil {
		return err
	}
	if payload != nil {
		body, err = term.AppendPayload(body, payload)
		if err != nil {
			return err
		}
	}
	return c.enqueueBody(body)
}

func (c *connection) enqueueBody(body []byte) error {
	frame := make([]byte, 0, 4+len(body))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	frame = append(frame, body...)
	return c.enqueue(frame)
}

func (c *connection) enqueue(frame []byte) error {
	atomic.AddInt32(&c.pending, 1)
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		atomic.AddInt32(&c.pending, -1)
		return &NodeDownError{Node: c.peer}
	}
}

// flush waits, up to the timeout, for every queued write to hit the
// socket. Used on orderly shutdown so final exit signals are not cut
// off by the close.
func (c *connection) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for atomic.LoadInt32(&c.pending) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func (c *connection) writeLoop() {
	for {
		select {
		case frame := <-c.out:
			_, err := c.conn.Write(frame)
			atomic.AddInt32(&c.pending, -1)
			if err != nil {
				select {
				case <-c.done:
				default:
					c.log.Warn("Write to node %s failed: %s", c.peer, err)
					c.node.connectionLost(c, err)
				}
				return
			}
			// Outbound traffic counts as liveness; push the next
			// tick out.
			select {
			case c.tickReset <- struct{}{}:
			default:
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) readLoop() {
	fr := newFramer(4)
	chunk := make([]byte, 4096)

	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			for _, msg := range fr.push(chunk[:n]) {
				if len(msg) == 0 {
					// A tick. Answer with a tock and keep it away
					// from the upper layers.
					_ = c.enqueue([]byte{0, 0, 0, 0})
					continue
				}
				if err := c.dispatch(msg); err != nil {
					// Best effort: a message we cannot parse does
					// not take the connection down.
					c.log.Warn("Dropping unparseable message from %s: %s", c.peer, err)
				}
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if err == io.EOF {
					c.log.Warn("Connection to node %s has gone down", c.peer)
				} else {
					c.log.Warn("Read from node %s failed: %s", c.peer, err)
				}
				c.node.connectionLost(c, err)
			}
			return
		}
	}
}

// dispatch parses one framed message's envelope and control tuple and
// routes the operation to the node.
func (c *connection) dispatch(msg []byte) error {
	if len(msg) < 2 || msg[0] != internal.PassThrough || msg[1] != internal.VersionMagic {
		return fmt.Errorf("bad message envelope (% x...)", msg[:min(len(msg), 4)])
	}

	ctl, payload, err := term.Decode(msg[2:])
	if err != nil {
		return fmt.Errorf("bad control message: %w", err)
	}
	tuple, ok := ctl.(term.Tuple)
	if !ok || len(tuple) < 1 {
		return fmt.Errorf("control message is not a tuple")
	}
	op, ok := tuple[0].(term.Int)
	if !ok {
		return fmt.Errorf("control message has no operation tag")
	}

	switch int(op) {
	case internal.OpSend:
		// {2, Cookie, ToPid} followed by the payload
		if len(tuple) != 3 {
			return fmt.Errorf("SEND control of arity %d", len(tuple))
		}
		to, ok := tuple[2].(term.Pid)
		if !ok {
			return fmt.Errorf("SEND target is not a pid")
		}
		return c.node.deliverToPid(to, payload)

	case internal.OpRegSend:
		// {6, FromPid, Cookie, ToName} followed by the payload
		if len(tuple) != 4 {
			return fmt.Errorf("REG_SEND control of arity %d", len(tuple))
		}
		name, ok := tuple[3].(term.Atom)
		if !ok {
			return fmt.Errorf("REG_SEND target is not an atom")
		}
		return c.node.deliverToName(string(name), payload)

	case internal.OpLink:
		from, to, err := pidPair(tuple, "LINK")
		if err != nil {
			return err
		}
		c.node.remoteLink(from, to)
		return nil

	case internal.OpUnlink:
		from, to, err := pidPair(tuple, "UNLINK")
		if err != nil {
			return err
		}
		c.node.remoteUnlink(from, to)
		return nil

	case internal.OpExit, internal.OpExit2:
		// {3|8, FromPid, ToPid, Reason}
		if len(tuple) != 4 {
			return fmt.Errorf("EXIT control of arity %d", len(tuple))
		}
		from, okFrom := tuple[1].(term.Pid)
		to, okTo := tuple[2].(term.Pid)
		if !okFrom || !okTo {
			return fmt.Errorf("EXIT endpoints are not pids")
		}
		c.node.remoteExit(from, to, reasonText(tuple[3]))
		return nil
	}

	return fmt.Errorf("unknown operation tag %d", op)
}

func pidPair(tuple term.Tuple, what string) (from, to term.Pid, err error) {
	if len(tuple) != 3 {
		return from, to, fmt.Errorf("%s control of arity %d", what, len(tuple))
	}
	from, okFrom := tuple[1].(term.Pid)
	to, okTo := tuple[2].(term.Pid)
	if !okFrom || !okTo {
		return from, to, fmt.Errorf("%s endpoints are not pids", what)
	}
	return from, to, nil
}

// reasonText renders an exit reason term as the string form the
// mailbox API reports. Atoms and strings cover what peers send in
// practice; anything else keeps a readable rendering.
func reasonText(t term.Term) string {
	switch v := t.(type) {
	case term.Atom:
		return string(v)
	case term.String:
		return string(v)
	}
	return term.Repr(t)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
