package tinch

import (
	"errors"
	"fmt"

	"github.com/adamtornhill/tinch-pp/term"
)

// ErrTimeout is returned by a timed receive that fired with no
// message pending.
var ErrTimeout = errors.New("receive timed out")

// ErrMailboxClosed is returned when operating on a mailbox that has
// (already) been closed.
var ErrMailboxClosed = errors.New("mailbox has been closed")

// ErrNoSuchName is returned when a local send addresses a registered
// name with no living claimant.
var ErrNoSuchName = errors.New("no mailbox is registered under that name")

// ErrNoSuchPid is returned when a local send addresses a pid whose
// mailbox is gone.
var ErrNoSuchPid = errors.New("no mailbox exists for that pid")

// ErrNodeStopped is returned when the owning node has been terminated.
var ErrNodeStopped = errors.New("node has been terminated")

// A LinkBrokenError is reported out of a receive when a link involving
// the mailbox breaks: the peer closed, sent an exit signal, or its
// node became unreachable.
type LinkBrokenError struct {
	Reason string
	From   term.Pid
}

func (e *LinkBrokenError) Error() string {
	return fmt.Sprintf("link to %v broken: %s", e.From, e.Reason)
}

// A HandshakeError reports a failed connection attempt: bad status,
// version mismatch, or a cookie digest that did not verify.
type HandshakeError struct {
	Peer   string
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s failed: %s", e.Peer, e.Reason)
}

// A NodeDownError reports that a peer node could not be reached or
// that its connection died.
type NodeDownError struct {
	Node string
	Err  error
}

func (e *NodeDownError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("node %s is down", e.Node)
	}
	return fmt.Sprintf("node %s is down: %v", e.Node, e.Err)
}

func (e *NodeDownError) Unwrap() error {
	return e.Err
}
