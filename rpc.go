package tinch

import (
	"time"

	"github.com/adamtornhill/tinch-pp/term"
	"github.com/adamtornhill/tinch-pp/term/match"
)

// RPC invokes module:function(args...) on the peer node and returns
// the result term, still serialized, for the caller's patterns. The
// call goes through the peer's rex server the same way the canonical
// runtime's rpc module does it: a REG_SEND of
//
//	{Self, {call, Module, Function, Args, user}}
//
// answered with {rex, Result}.
//
// A temporary mailbox carries the exchange and is closed before
// returning, so each call is independent.
func (n *Node) RPC(peer, module, function string, args term.List, timeout time.Duration) (*term.Matchable, error) {
	m := n.NewMailbox()
	defer m.Close()

	call := term.Tuple{
		m.Self(),
		term.Tuple{
			term.Atom("call"),
			term.Atom(module),
			term.Atom(function),
			args,
			term.Atom("user"),
		},
	}
	if err := m.SendReg("rex", peer, call); err != nil {
		return nil, err
	}

	for {
		msg, err := m.ReceiveTimeout(timeout)
		if err != nil {
			return nil, err
		}

		var result term.Matchable
		if msg.Match(match.Tuple(match.Atom("rex"), match.BindAny(&result))) {
			return &result, nil
		}
		// Anything else in the fresh mailbox is noise; wait for the
		// rex answer until the timeout says otherwise.
	}
}
