package tinch

import (
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/adamtornhill/tinch-pp/epmd"
	"github.com/adamtornhill/tinch-pp/internal"
	"github.com/adamtornhill/tinch-pp/term"
	"github.com/thejerf/suture"
)

// Exit reasons this library originates. A peer may of course send any
// term as a reason; those are reported as-is.
const (
	reasonNormal       = "normal"
	reasonError        = "error"
	reasonNoConnection = "noconnection"
	reasonNoProc       = "noproc"
)

var nodeNameFormat = regexp.MustCompile(`^[\w.\-]+@[\w.\-]+$`)

// ErrNameInUse is returned when creating a named mailbox under a name
// some living mailbox already claims.
var ErrNameInUse = fmt.Errorf("a mailbox is already registered under that name")

// An Option adjusts a Node at construction.
type Option func(*Node)

// WithLogger directs the node's logging. The default is StdLogger.
func WithLogger(l NodeLogger) Option {
	return func(n *Node) { n.log = l }
}

// WithEPMD points every port mapper exchange, registration and peer
// lookups alike, at a fixed address instead of port 4369 on the
// peer's host. Mostly useful for tests.
func WithEPMD(addr string) Option {
	return func(n *Node) { n.epmdAddr = addr }
}

// WithTickInterval adjusts how long a connection's outbound side may
// idle before a keep-alive tick goes out.
func WithTickInterval(d time.Duration) Option {
	return func(n *Node) { n.tickInterval = d }
}

// A Node lets this process participate as a peer in an Erlang
// cluster: it registers with the port mapper daemon, accepts and
// dials peer connections, owns the mailboxes, and routes every
// message and exit signal between them and the cluster.
type Node struct {
	name   string // full name, "alive@host"
	alive  string // the part before the @
	host   string
	cookie string
	log    NodeLogger

	epmdAddr     string
	tickInterval time.Duration

	mailboxes *mailboxes
	links     *linker

	connMu   sync.Mutex
	connCond *sync.Cond
	conns    map[string]*connection
	dialing  map[string]bool

	pidMu     sync.Mutex
	pidID     uint32
	pidSerial uint32
	creation  uint16

	// Challenges are drawn from a generator seeded from the wall
	// clock at node start and bounded to 24 bits, following the
	// community practice for cookie challenges. That is a modest
	// amount of unpredictability; the cookie carries the secret.
	rngMu sync.Mutex
	rng   *rand.Rand

	sup        *suture.Supervisor
	listener   *nodeListener
	keeper     *epmdKeeper
	listenPort uint16
	published  bool

	posts    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewNode creates a node with the given name ("alive@host") and
// cookie. The node is immediately usable for local mailboxes and for
// dialling out; call Publish to also accept incoming connections.
func NewNode(name, cookie string, opts ...Option) (*Node, error) {
	if !nodeNameFormat.MatchString(name) {
		return nil, fmt.Errorf("node name %q is not of the form name@host", name)
	}
	at := strings.IndexByte(name, '@')

	n := &Node{
		name:      name,
		alive:     name[:at],
		host:      name[at+1:],
		cookie:    cookie,
		log:       StdLogger,
		mailboxes: newMailboxes(),
		links:     newLinker(),
		conns:     make(map[string]*connection),
		dialing:   make(map[string]bool),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		posts:     make(chan func(), 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.connCond = sync.NewCond(&n.connMu)

	n.sup = suture.New("tinch node "+name, suture.Spec{
		Log:              func(msg string) { n.log.Warn(msg) },
		FailureDecay:     60,
		FailureThreshold: 5,
		FailureBackoff:   time.Second,
	})
	n.sup.ServeBackground()

	go n.run()

	return n, nil
}

// Name returns the full node name.
func (n *Node) Name() string {
	return n.name
}

// run serializes work the I/O paths hand off, most importantly
// deferred mailbox closes, so cleanup triggered inside an error path
// can never raise a second failure there.
func (n *Node) run() {
	for {
		select {
		case f := <-n.posts:
			f()
		case <-n.done:
			return
		}
	}
}

func (n *Node) post(f func()) {
	select {
	case n.posts <- f:
	case <-n.done:
	}
}

// Publish starts accepting peer connections on the given TCP port (0
// picks one) and registers the node with the port mapper daemon. The
// registration socket stays open, supervised, for the node's
// lifetime; losing it re-registers.
func (n *Node) Publish(port uint16) error {
	if n.published {
		return fmt.Errorf("node %s is already published", n.name)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	n.listenPort = uint16(ln.Addr().(*net.TCPAddr).Port)

	reg, err := (&epmd.Client{Addr: n.registrationAddr()}).Register(n.alive, n.listenPort)
	if err != nil {
		ln.Close()
		n.log.Error("Could not register %s with the port mapper: %s", n.name, err)
		return err
	}
	n.setCreation(reg.Creation)

	n.listener = newNodeListener(n, ln)
	n.keeper = &epmdKeeper{node: n, reg: reg}
	n.sup.Add(n.listener)
	n.sup.Add(n.keeper)
	n.published = true

	n.log.Info("Node %s published on port %d (creation %d)", n.name, n.listenPort, n.creation)
	return nil
}

// Ping connects to the named peer, performing the handshake if no
// connection exists yet. A nil return means the peer answered.
func (n *Node) Ping(peer string) error {
	_, err := n.connectionTo(peer)
	return err
}

// ConnectedNodes lists the peers with an established connection.
func (n *Node) ConnectedNodes() []string {
	n.connMu.Lock()
	defer n.connMu.Unlock()

	nodes := make([]string, 0, len(n.conns))
	for peer := range n.conns {
		nodes = append(nodes, peer)
	}
	return nodes
}

// NewMailbox creates an anonymous mailbox.
func (n *Node) NewMailbox() *Mailbox {
	m, _ := n.newMailbox("")
	return m
}

// NewNamedMailbox creates a mailbox that is also addressable by the
// given registered name, locally and via REG_SEND from peers.
func (n *Node) NewNamedMailbox(name string) (*Mailbox, error) {
	return n.newMailbox(name)
}

func (n *Node) newMailbox(name string) (*Mailbox, error) {
	var mu sync.Mutex
	m := &Mailbox{
		pid:  n.nextPid(),
		name: name,
		node: n,
		cond: sync.NewCond(&mu),
	}
	if err := n.mailboxes.register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// nextPid mints a fresh pid. The id advances per creation and wraps
// at 15 bits, advancing the 13-bit serial.
func (n *Node) nextPid() term.Pid {
	n.pidMu.Lock()
	defer n.pidMu.Unlock()

	p := term.Pid{
		Node:     n.name,
		ID:       n.pidID,
		Serial:   n.pidSerial,
		Creation: uint32(n.creation),
	}
	n.pidID++
	if n.pidID > 0x7fff {
		n.pidID = 0
		n.pidSerial = (n.pidSerial + 1) & 0x1fff
	}
	return p
}

func (n *Node) setCreation(c uint16) {
	n.pidMu.Lock()
	defer n.pidMu.Unlock()

	n.creation = c
}

func (n *Node) newChallenge() uint32 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()

	return uint32(n.rng.Int31n(0x1000000))
}

// Terminate shuts the node down: every mailbox closes (breaking its
// links with reason "normal"), the listener and port mapper
// registration stop, and all peer connections drop.
func (n *Node) Terminate() {
	n.stopOnce.Do(func() {
		for _, m := range n.mailboxes.all() {
			n.closeMailbox(m, reasonNormal)
		}

		n.sup.Stop()

		n.connMu.Lock()
		conns := make([]*connection, 0, len(n.conns))
		for _, c := range n.conns {
			conns = append(conns, c)
		}
		n.conns = make(map[string]*connection)
		n.connMu.Unlock()
		for _, c := range conns {
			// Give the exit signals just queued a chance to reach
			// the wire before the sockets drop.
			c.flush(time.Second)
			c.close()
		}

		close(n.done)
	})
}

// registrationAddr is where our own ALIVE2 registration goes.
func (n *Node) registrationAddr() string {
	if n.epmdAddr != "" {
		return n.epmdAddr
	}
	return epmd.DefaultAddr
}

// lookupAddr is where PORT_PLEASE2 for the given peer host goes.
func (n *Node) lookupAddr(host string) string {
	if n.epmdAddr != "" {
		return n.epmdAddr
	}
	return net.JoinHostPort(host, "4369")
}

// connectionTo returns the established connection to the peer,
// dialling and handshaking first if there is none. Concurrent callers
// for the same peer wait on the one in-flight attempt.
func (n *Node) connectionTo(peer string) (*connection, error) {
	if !nodeNameFormat.MatchString(peer) {
		return nil, fmt.Errorf("peer name %q is not of the form name@host", peer)
	}
	select {
	case <-n.done:
		return nil, ErrNodeStopped
	default:
	}

	n.connMu.Lock()
	for {
		if c, ok := n.conns[peer]; ok {
			n.connMu.Unlock()
			return c, nil
		}
		if !n.dialing[peer] {
			break
		}
		n.connCond.Wait()
	}
	n.dialing[peer] = true
	n.connMu.Unlock()

	c, err := n.dial(peer)

	n.connMu.Lock()
	delete(n.dialing, peer)
	if err == nil {
		if existing, ok := n.conns[peer]; ok {
			// An incoming connection raced us; use it and drop ours.
			c.close()
			c = existing
		} else {
			n.conns[peer] = c
			c.start()
			n.log.Info("Connected to node %s", peer)
		}
	}
	n.connCond.Broadcast()
	n.connMu.Unlock()

	return c, err
}

// dial resolves the peer's distribution port through its port mapper,
// opens the socket, and runs the initiator side of the handshake.
func (n *Node) dial(peer string) (*connection, error) {
	at := strings.IndexByte(peer, '@')
	alive, host := peer[:at], peer[at+1:]

	port, err := (&epmd.Client{Addr: n.lookupAddr(host)}).PortPlease(alive)
	if err != nil {
		return nil, &NodeDownError{Node: peer, Err: err}
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), 5*time.Second)
	if err != nil {
		return nil, &NodeDownError{Node: peer, Err: err}
	}

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	hs := newHandshaker(conn, n.name, n.cookie, n.newChallenge(), n.log)
	if err := hs.initiate(peer); err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return newConnection(n, peer, conn), nil
}

// addIncoming installs a connection accepted by the listener. A stale
// connection under the same peer name is displaced: the peer would
// not be dialling again if the old one were still any good.
func (n *Node) addIncoming(c *connection) {
	n.connMu.Lock()
	old := n.conns[c.peer]
	n.conns[c.peer] = c
	c.start()
	n.connCond.Broadcast()
	n.connMu.Unlock()

	if old != nil {
		old.close()
	}
	n.log.Info("Accepted connection from node %s", c.peer)
}

// connectionLost evicts a connection whose socket failed. Mailboxes
// linked to pids on the lost node hear a "noconnection" broken link;
// the signalling is posted to the run loop so the I/O path that
// detected the failure never re-enters mailbox locks.
func (n *Node) connectionLost(c *connection, err error) {
	n.connMu.Lock()
	if n.conns[c.peer] == c {
		delete(n.conns, c.peer)
	}
	n.connCond.Broadcast()
	n.connMu.Unlock()

	c.close()

	peer := c.peer
	n.post(func() {
		for _, pair := range n.links.breakForNode(peer) {
			local, remote := pair[0], pair[1]
			if mbox := n.mailboxes.byPidOrNil(local); mbox != nil {
				mbox.deliverBroken(reasonNoConnection, remote)
			}
		}
	})
}

// existingConnection returns the live connection to a peer without
// dialling.
func (n *Node) existingConnection(peer string) *connection {
	n.connMu.Lock()
	defer n.connMu.Unlock()

	return n.conns[peer]
}

// sendToPid routes a term to a pid anywhere in the cluster.
func (n *Node) sendToPid(to term.Pid, t term.Term) error {
	if to.Node == n.name {
		mbox := n.mailboxes.byPidOrNil(to)
		if mbox == nil {
			return ErrNoSuchPid
		}
		payload, err := term.AppendPayload(nil, t)
		if err != nil {
			return err
		}
		mbox.deliver(payload)
		return nil
	}

	c, err := n.connectionTo(to.Node)
	if err != nil {
		return err
	}
	ctl := term.Tuple{term.Int(internal.OpSend), term.Atom(""), to}
	return c.sendControl(ctl, t)
}

// link establishes from's link to a pid, pushing a LINK control
// message out first when the target is remote.
func (n *Node) link(from, to term.Pid) error {
	if to.Node == n.name {
		if n.mailboxes.byPidOrNil(to) == nil {
			return ErrNoSuchPid
		}
		n.links.link(from, to)
		return nil
	}

	c, err := n.connectionTo(to.Node)
	if err != nil {
		return err
	}
	ctl := term.Tuple{term.Int(internal.OpLink), from, to}
	if err := c.sendControl(ctl, nil); err != nil {
		return err
	}
	n.links.link(from, to)
	return nil
}

// unlink removes a link in both orientations, notifying the remote
// node when the other end lives there.
func (n *Node) unlink(from, to term.Pid) error {
	n.links.unlink(from, to)

	if to.Node == n.name {
		return nil
	}
	c := n.existingConnection(to.Node)
	if c == nil {
		return nil
	}
	ctl := term.Tuple{term.Int(internal.OpUnlink), from, to}
	return c.sendControl(ctl, nil)
}

// closeMailbox is the one place a mailbox leaves service: links break
// with the given reason, local link peers hear it directly, remote
// ones get an exit signal, and the registrations go away.
func (n *Node) closeMailbox(m *Mailbox, reason string) {
	if m.shutdown() {
		return
	}
	n.mailboxes.unregister(m)

	for _, peer := range n.links.breakFor(m.pid) {
		if peer.Node == n.name {
			if mbox := n.mailboxes.byPidOrNil(peer); mbox != nil {
				mbox.deliverBroken(reason, m.pid)
			}
			continue
		}

		c := n.existingConnection(peer.Node)
		if c == nil {
			continue
		}
		op := internal.OpExit2
		if reason == reasonError {
			op = internal.OpExit
		}
		ctl := term.Tuple{term.Int(op), m.pid, peer, term.Atom(reason)}
		if err := c.sendControl(ctl, nil); err != nil {
			n.log.Warn("Could not signal exit of %v to %s: %s", m.pid, peer.Node, err)
		}
	}
}

// Callbacks from connection dispatch. These run on a connection's
// read goroutine, so per-peer delivery order is the arrival order.

func (n *Node) deliverToPid(to term.Pid, payload []byte) error {
	mbox := n.mailboxes.byPidOrNil(to)
	if mbox == nil {
		return ErrNoSuchPid
	}
	mbox.deliver(payload)
	return nil
}

func (n *Node) deliverToName(name string, payload []byte) error {
	mbox := n.mailboxes.byNameOrNil(name)
	if mbox == nil {
		return ErrNoSuchName
	}
	mbox.deliver(payload)
	return nil
}

func (n *Node) remoteLink(from, to term.Pid) {
	if n.mailboxes.byPidOrNil(to) == nil {
		// The target is already gone; answer with the exit signal
		// the link would have produced.
		if c := n.existingConnection(from.Node); c != nil {
			ctl := term.Tuple{term.Int(internal.OpExit), to, from, term.Atom(reasonNoProc)}
			_ = c.sendControl(ctl, nil)
		}
		return
	}
	n.links.link(from, to)
}

func (n *Node) remoteUnlink(from, to term.Pid) {
	n.links.unlink(from, to)
}

func (n *Node) remoteExit(from, to term.Pid, reason string) {
	n.links.unlink(from, to)
	if mbox := n.mailboxes.byPidOrNil(to); mbox != nil {
		mbox.deliverBroken(reason, from)
	}
}

// epmdKeeper holds the ALIVE2 registration socket open for the node's
// lifetime. The daemon reads the socket's death as deregistration, so
// the keeper blocks on it and, if it ever dies unbidden, lets the
// supervisor restart it into a fresh registration.
type epmdKeeper struct {
	node *Node

	mu      sync.Mutex
	reg     *epmd.Registration
	stopped bool
}

func (k *epmdKeeper) String() string {
	return "epmd registration for " + k.node.name
}

func (k *epmdKeeper) Serve() {
	k.mu.Lock()
	if k.stopped {
		k.stopped = false
		k.mu.Unlock()
		return
	}
	reg := k.reg
	if reg == nil {
		fresh, err := (&epmd.Client{Addr: k.node.registrationAddr()}).Register(k.node.alive, k.node.listenPort)
		if err != nil {
			k.mu.Unlock()
			k.node.log.Error("Could not re-register %s with the port mapper: %s", k.node.name, err)
			return
		}
		k.reg = fresh
		k.node.setCreation(fresh.Creation)
		reg = fresh
		k.node.log.Info("Re-registered %s with the port mapper (creation %d)", k.node.name, fresh.Creation)
	}
	k.mu.Unlock()

	err := reg.Wait()

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	k.reg = nil
	k.node.log.Warn("Port mapper registration for %s lost: %s", k.node.name, err)
}

func (k *epmdKeeper) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopped = true
	if k.reg != nil {
		k.reg.Close()
		k.reg = nil
	}
}
