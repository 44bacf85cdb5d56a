package tinch

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/adamtornhill/tinch-pp/term"
)

// receiveTimeout bounds every blocking receive in the tests.
var receiveTimeout = 5 * time.Second

// This file contains code that supports the tests: an in-process
// port mapper daemon and helpers that bring up pairs of connected
// nodes on the loopback interface.

// fakeEPMD is just enough of a port mapper daemon for nodes in one
// process to find each other: ALIVE2 registrations are held in a
// table for as long as their sockets stay open, and PORT_PLEASE2
// answers from that table.
type fakeEPMD struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	ports    map[string]uint16
	creation uint16
}

func newFakeEPMD(t *testing.T) *fakeEPMD {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("couldn't listen for the fake port mapper: %v", err)
	}

	f := &fakeEPMD{t: t, ln: ln, ports: make(map[string]uint16)}
	go f.serve()
	return f
}

func (f *fakeEPMD) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeEPMD) stop() {
	f.ln.Close()
}

func (f *fakeEPMD) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeEPMD) handle(conn net.Conn) {
	defer conn.Close()

	var lenField [2]byte
	if _, err := io.ReadFull(conn, lenField[:]); err != nil {
		return
	}
	body := make([]byte, binary.BigEndian.Uint16(lenField[:]))
	if _, err := io.ReadFull(conn, body); err != nil {
		return
	}
	if len(body) == 0 {
		return
	}

	switch body[0] {
	case 'x': // ALIVE2
		if len(body) < 13 {
			return
		}
		port := binary.BigEndian.Uint16(body[1:3])
		nameLen := int(binary.BigEndian.Uint16(body[9:11]))
		if len(body) < 11+nameLen {
			return
		}
		name := string(body[11 : 11+nameLen])

		f.mu.Lock()
		f.creation++
		creation := f.creation
		f.ports[name] = port
		f.mu.Unlock()

		resp := []byte{'y', 0}
		resp = binary.BigEndian.AppendUint16(resp, creation)
		if _, err := conn.Write(resp); err != nil {
			return
		}

		// The registration lives while this socket does.
		_, _ = io.Copy(io.Discard, conn)

		f.mu.Lock()
		if f.ports[name] == port {
			delete(f.ports, name)
		}
		f.mu.Unlock()

	case 'z': // PORT_PLEASE2
		name := string(body[1:])

		f.mu.Lock()
		port, ok := f.ports[name]
		f.mu.Unlock()

		if !ok {
			_, _ = conn.Write([]byte{'w', 1})
			return
		}
		resp := []byte{'w', 0}
		resp = binary.BigEndian.AppendUint16(resp, port)
		_, _ = conn.Write(resp)
	}
}

// startNode brings up one unpublished node for purely local tests.
func startNode(t *testing.T, name string) *Node {
	n, err := NewNode(name, "testcookie", WithLogger(NullLogger))
	if err != nil {
		t.Fatalf("couldn't create node %s: %v", name, err)
	}
	t.Cleanup(n.Terminate)
	return n
}

// startNodePair brings up two published nodes sharing a fake port
// mapper, ready to connect to each other by name.
func startNodePair(t *testing.T) (*Node, *Node) {
	f := newFakeEPMD(t)
	t.Cleanup(f.stop)

	mkNode := func(name string) *Node {
		n, err := NewNode(name, "testcookie",
			WithLogger(NullLogger), WithEPMD(f.addr()))
		if err != nil {
			t.Fatalf("couldn't create node %s: %v", name, err)
		}
		if err := n.Publish(0); err != nil {
			t.Fatalf("couldn't publish node %s: %v", name, err)
		}
		t.Cleanup(n.Terminate)
		return n
	}

	return mkNode("one@127.0.0.1"), mkNode("two@127.0.0.1")
}

// receiveOne fails the test unless a payload arrives in time.
func receiveOne(t *testing.T, m *Mailbox) *term.Matchable {
	t.Helper()
	msg, err := m.ReceiveTimeout(receiveTimeout)
	if err != nil {
		t.Fatalf("receive on %v failed: %v", m.Self(), err)
	}
	return msg
}
