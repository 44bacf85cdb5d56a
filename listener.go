package tinch

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// This file defines the listener, which accepts incoming peer
// connections and runs the responder side of the handshake on them.

type nodeListener struct {
	node     *Node
	listener net.Listener

	sync.Mutex
	stopped bool
}

func newNodeListener(node *Node, listener net.Listener) *nodeListener {
	return &nodeListener{node: node, listener: listener}
}

func (nl *nodeListener) String() string {
	return fmt.Sprintf("listener for %s on %s", nl.node.name, nl.listener.Addr())
}

func (nl *nodeListener) Serve() {
	for {
		conn, err := nl.listener.Accept()
		if err != nil {
			nl.Lock()
			stopped := nl.stopped
			nl.Unlock()
			if stopped {
				return
			}
			nl.node.log.Error("Lost listener for %s: %s", nl.node.name, err)
			return
		}

		nl.node.log.Trace("Connection received from %s", conn.RemoteAddr())
		go nl.handleConnection(conn)
	}
}

// handleConnection runs the responder handshake; a peer that proves
// knowledge of the cookie gets installed as a connection under the
// name it presented.
func (nl *nodeListener) handleConnection(conn net.Conn) {
	node := nl.node

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	hs := newHandshaker(conn, node.name, node.cookie, node.newChallenge(), node.log)
	peer, err := hs.accept()
	if err != nil {
		node.log.Warn("Rejected incoming connection from %s: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	node.addIncoming(newConnection(node, peer, conn))
}

func (nl *nodeListener) Stop() {
	nl.Lock()
	defer nl.Unlock()

	nl.stopped = true
	nl.listener.Close()
}
