/*

Executable tinch_ping contains a small demonstration of joining a live
Erlang cluster: it publishes a node, pings a peer, and asks the peer
for its own name over rpc.

Start an Erlang node to talk to first, for example:

	erl -sname peer -setcookie secret

then:

	tinch_ping -name gonode@localhost -peer peer@localhost -cookie secret

*/
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tinch "github.com/adamtornhill/tinch-pp"
	"github.com/adamtornhill/tinch-pp/term"
)

func main() {
	var (
		name   = flag.String("name", "gonode@localhost", "name of this node")
		peer   = flag.String("peer", "peer@localhost", "name of the peer node to ping")
		cookie = flag.String("cookie", "", "the cluster's shared cookie")
	)
	flag.Parse()

	if *cookie == "" {
		fmt.Fprintln(os.Stderr, "A -cookie is required; it must match the peer's.")
		os.Exit(1)
	}

	node, err := tinch.NewNode(*name, *cookie)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't create the node: %v\n", err)
		os.Exit(1)
	}
	defer node.Terminate()

	if err := node.Publish(0); err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't publish the node (is epmd running?): %v\n", err)
		os.Exit(1)
	}

	if err := node.Ping(*peer); err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't reach %s: %v\n", *peer, err)
		os.Exit(1)
	}
	fmt.Printf("%s answered the ping\n", *peer)

	result, err := node.RPC(*peer, "erlang", "node", term.List{}, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpc to %s failed: %v\n", *peer, err)
		os.Exit(1)
	}

	t, err := result.Decode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't decode the rpc result: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s says its name is %s\n", *peer, term.Repr(t))
}
