package tinch

/*

This implements the registered-name side of message routing.

Names in this library are local by design: a name claims a mailbox on
the node that registered it, and peers reach it with REG_SEND, which
the distribution protocol resolves on the receiving node. Nothing
propagates across the cluster, so there is no consistency question to
answer: a name means whatever the node it lives on says it means.

*/

import (
	"github.com/adamtornhill/tinch-pp/internal"
	"github.com/adamtornhill/tinch-pp/term"
)

// Whereis looks up the pid currently registered under a local name.
func (n *Node) Whereis(name string) (term.Pid, bool) {
	mbox := n.mailboxes.byNameOrNil(name)
	if mbox == nil {
		return term.Pid{}, false
	}
	return mbox.pid, true
}

// sendToLocalName delivers to a name registered on this node.
func (n *Node) sendToLocalName(name string, t term.Term) error {
	mbox := n.mailboxes.byNameOrNil(name)
	if mbox == nil {
		return ErrNoSuchName
	}
	payload, err := term.AppendPayload(nil, t)
	if err != nil {
		return err
	}
	mbox.deliver(payload)
	return nil
}

// sendToRemoteName issues a REG_SEND to a name registered on a peer
// node, connecting first if need be.
func (n *Node) sendToRemoteName(from term.Pid, name, node string, t term.Term) error {
	c, err := n.connectionTo(node)
	if err != nil {
		return err
	}
	ctl := term.Tuple{
		term.Int(internal.OpRegSend),
		from,
		term.Atom(""),
		term.Atom(name),
	}
	return c.sendControl(ctl, t)
}
