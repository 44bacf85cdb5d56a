package epmd

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureServer accepts one connection, reads one length-prefixed
// request, and answers with the canned response. The request bytes
// land on the channel for the test to inspect.
func captureServer(t *testing.T, response []byte) (addr string, requests <-chan []byte) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		var lenField [2]byte
		if _, err := io.ReadFull(conn, lenField[:]); err != nil {
			conn.Close()
			return
		}
		body := make([]byte, binary.BigEndian.Uint16(lenField[:]))
		if _, err := io.ReadFull(conn, body); err != nil {
			conn.Close()
			return
		}
		ch <- body

		_, _ = conn.Write(response)
		// Keep the socket open briefly, then drop it: lookups close
		// from the client side first, and registration tests see
		// the drop as the registration being lost.
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}()

	return ln.Addr().String(), ch
}

func TestRegisterRequestLayout(t *testing.T) {
	addr, requests := captureServer(t, []byte{'y', 0, 0, 7})

	c := &Client{Addr: addr, Timeout: time.Second}
	reg, err := c.Register("gonode", 4711)
	require.NoError(t, err)
	defer reg.Close()

	assert.EqualValues(t, 7, reg.Creation)

	body := <-requests
	want := []byte{
		'x',
		0x12, 0x67, // port 4711
		72, // hidden node
		0,  // TCP/IPv4
		0, 5,
		0, 5,
		0, 6, 'g', 'o', 'n', 'o', 'd', 'e',
		0, 0, // no extra info
	}
	assert.Equal(t, want, body)
}

func TestRegisterRefused(t *testing.T) {
	addr, _ := captureServer(t, []byte{'y', 1, 0, 0})

	c := &Client{Addr: addr, Timeout: time.Second}
	_, err := c.Register("gonode", 4711)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestPortPleaseRequestAndResponse(t *testing.T) {
	addr, requests := captureServer(t, []byte{'w', 0, 0x12, 0x67})

	c := &Client{Addr: addr, Timeout: time.Second}
	port, err := c.PortPlease("peer")
	require.NoError(t, err)
	assert.EqualValues(t, 4711, port)

	assert.Equal(t, []byte{'z', 'p', 'e', 'e', 'r'}, <-requests)
}

func TestPortPleaseUnknownNode(t *testing.T) {
	addr, _ := captureServer(t, []byte{'w', 1})

	c := &Client{Addr: addr, Timeout: time.Second}
	_, err := c.PortPlease("nobody")
	require.Error(t, err)
}

func TestRegistrationWaitReportsSocketLoss(t *testing.T) {
	addr, _ := captureServer(t, []byte{'y', 0, 0, 1})

	c := &Client{Addr: addr, Timeout: time.Second}
	reg, err := c.Register("gonode", 4711)
	require.NoError(t, err)

	// The capture server drops the socket shortly after answering;
	// Wait must notice.
	err = reg.Wait()
	require.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	// A listener that was closed again: nothing is home.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := &Client{Addr: addr, Timeout: 200 * time.Millisecond}
	_, err = c.PortPlease("peer")
	require.Error(t, err)
}
