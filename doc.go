/*

Package tinch lets a Go process join an Erlang cluster as a first-class
distributed peer.

What that means in practice: you create a Node with a name and the
cluster's shared cookie, publish a port, and from then on Erlang
processes can send you messages, link to your mailboxes, and find you
through the port mapper daemon exactly as they would another Erlang
node. In the other direction you send terms to remote pids and
registered names, link to remote processes, and hear about their exits
through your receive path.

The unit of communication is the mailbox. A mailbox has a pid that is
valid anywhere in the cluster, an optional registered name, and a
queue you receive from:

	node, err := tinch.NewNode("gonode@localhost", "secret")
	if err != nil { ... }
	if err := node.Publish(0); err != nil { ... }

	m, err := node.NewNamedMailbox("answers")
	if err != nil { ... }
	defer m.Close()

	msg, err := m.Receive()

Messages arrive as raw serialized terms wrapped in a Matchable, and
you take them apart with patterns rather than decoding them wholesale.
A pattern both checks shape and captures values:

	var n term.Int
	if msg.Match(match.Tuple(match.Atom("ok"), match.BindInt(&n))) {
		// n holds the integer from {ok, N}
	}

Links carry exit information the Erlang way. After m.Link(pid), a
close on either side surfaces on the other as a *LinkBrokenError out
of Receive, carrying the reason and the pid that went away. A peer
node dropping off the network breaks its links with reason
"noconnection".

The node handles the distribution plumbing: ALIVE2 registration and
PORT_PLEASE2 lookups against the port mapper daemon, the MD5
cookie handshake with each peer, message framing, and the keep-alive
tick/tock exchange. None of it appears in the API beyond the errors
it can produce.

This library speaks distribution protocol version 5 and presents
itself as a hidden node: it joins the cluster without participating
in the mesh of visible nodes. Big integers, maps, funs, ports and
export terms are outside its term vocabulary.

Supervision of the node's internal services (the listener and the
port mapper registration) is handled with github.com/thejerf/suture.
The Node runs its own supervisor in the background; the Node itself
is not a suture service and cannot be added to another suture tree.

*/
package tinch
