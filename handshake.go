package tinch

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/adamtornhill/tinch-pp/internal"
)

// This file implements the per-peer handshake: name exchange, status
// negotiation, and the MD5 challenge/response that proves both sides
// hold the same cookie. Every handshake message is framed with a
// 2-byte length prefix; the 4-byte framing takes over once the
// handshake completes.
//
// The handshake runs as an explicit state machine. Each role owns an
// enumerated state advanced by its step methods; any protocol
// violation or I/O failure lands in hsFailed, which is terminal.

type hsState int

const (
	hsTCPOpen hsState = iota

	// initiator (A) states
	hsAwaitStatus
	hsSendingReply
	hsAwaitAck

	// responder (B) states
	hsReadName
	hsAwaitReply

	hsConnected
	hsFailed
)

const ourCapabilities = internal.FlagExtendedReferences |
	internal.FlagExtendedPidsPorts |
	internal.FlagBitBinaries

// challengeDigest computes MD5 over the cookie bytes followed by the
// challenge rendered in ASCII decimal.
func challengeDigest(cookie string, challenge uint32) [internal.DigestLength]byte {
	return md5.Sum(append([]byte(cookie), strconv.FormatUint(uint64(challenge), 10)...))
}

// A handshaker drives one handshake over a freshly opened socket.
type handshaker struct {
	conn   net.Conn
	fr     *framer
	queued [][]byte
	state  hsState
	local  string // full local node name
	cookie string

	// our challenge to the peer, fixed per connection attempt
	challenge uint32

	log NodeLogger
}

func newHandshaker(conn net.Conn, localNode, cookie string, challenge uint32, log NodeLogger) *handshaker {
	return &handshaker{
		conn:      conn,
		fr:        newFramer(2),
		state:     hsTCPOpen,
		local:     localNode,
		cookie:    cookie,
		challenge: challenge,
		log:       log,
	}
}

// fail records the terminal failure state and wraps the reason.
func (h *handshaker) fail(peer, reason string) error {
	h.state = hsFailed
	return &HandshakeError{Peer: peer, Reason: reason}
}

// initiate runs the A role: we dialed the peer and must prove
// ourselves first.
func (h *handshaker) initiate(peer string) error {
	if err := h.writeMessage(sendNameMsg(h.local)); err != nil {
		return h.fail(peer, err.Error())
	}
	h.state = hsAwaitStatus

	status, err := h.readMessage()
	if err != nil {
		return h.fail(peer, err.Error())
	}
	if len(status) < 1 || status[0] != internal.HandshakeStatus {
		return h.fail(peer, "expected a status message")
	}
	switch s := string(status[1:]); s {
	case "ok", "ok_simultaneous":
	default:
		return h.fail(peer, fmt.Sprintf("peer refused connection with status %q", s))
	}

	chal, err := h.readMessage()
	if err != nil {
		return h.fail(peer, err.Error())
	}
	peerChallenge, _, err := parseChallengeMsg(chal)
	if err != nil {
		return h.fail(peer, err.Error())
	}
	h.state = hsSendingReply

	reply := make([]byte, 0, 5+internal.DigestLength)
	reply = append(reply, internal.HandshakeChallengeReply)
	reply = binary.BigEndian.AppendUint32(reply, h.challenge)
	digest := challengeDigest(h.cookie, peerChallenge)
	reply = append(reply, digest[:]...)
	if err := h.writeMessage(reply); err != nil {
		return h.fail(peer, err.Error())
	}
	h.state = hsAwaitAck

	ack, err := h.readMessage()
	if err != nil {
		return h.fail(peer, err.Error())
	}
	if len(ack) != 1+internal.DigestLength || ack[0] != internal.HandshakeChallengeAck {
		return h.fail(peer, "malformed challenge ack")
	}
	expected := challengeDigest(h.cookie, h.challenge)
	if !bytes.Equal(ack[1:], expected[:]) {
		h.log.Error("Digest mismatch in ack from %s; do both nodes hold the same cookie?", peer)
		return h.fail(peer, "challenge ack digest mismatch")
	}

	h.state = hsConnected
	return nil
}

// accept runs the B role: the peer dialed us. On success it returns
// the peer's node name, learned from its send_name.
func (h *handshaker) accept() (string, error) {
	h.state = hsReadName

	name, err := h.readMessage()
	if err != nil {
		return "", h.fail("unknown peer", err.Error())
	}
	peer, err := parseNameMsg(name)
	if err != nil {
		return "", h.fail("unknown peer", err.Error())
	}

	if err := h.writeMessage([]byte{internal.HandshakeStatus, 'o', 'k'}); err != nil {
		return "", h.fail(peer, err.Error())
	}
	if err := h.writeMessage(sendChallengeMsg(h.local, h.challenge)); err != nil {
		return "", h.fail(peer, err.Error())
	}
	h.state = hsAwaitReply

	reply, err := h.readMessage()
	if err != nil {
		return "", h.fail(peer, err.Error())
	}
	if len(reply) != 5+internal.DigestLength || reply[0] != internal.HandshakeChallengeReply {
		return "", h.fail(peer, "malformed challenge reply")
	}
	peerChallenge := binary.BigEndian.Uint32(reply[1:5])
	expected := challengeDigest(h.cookie, h.challenge)
	if !bytes.Equal(reply[5:], expected[:]) {
		h.log.Error("Digest mismatch in reply from %s; do both nodes hold the same cookie?", peer)
		return "", h.fail(peer, "challenge reply digest mismatch")
	}

	ack := make([]byte, 0, 1+internal.DigestLength)
	ack = append(ack, internal.HandshakeChallengeAck)
	digest := challengeDigest(h.cookie, peerChallenge)
	ack = append(ack, digest[:]...)
	if err := h.writeMessage(ack); err != nil {
		return "", h.fail(peer, err.Error())
	}

	h.state = hsConnected
	return peer, nil
}

// sendNameMsg lays out 'n', the 16-bit distribution version, the
// 32-bit capability flags, and the node name.
func sendNameMsg(localNode string) []byte {
	msg := make([]byte, 0, 7+len(localNode))
	msg = append(msg, internal.HandshakeName)
	msg = binary.BigEndian.AppendUint16(msg, internal.DistVersion)
	msg = binary.BigEndian.AppendUint32(msg, ourCapabilities)
	return append(msg, localNode...)
}

// sendChallengeMsg is the name layout plus our 32-bit challenge
// between the flags and the name.
func sendChallengeMsg(localNode string, challenge uint32) []byte {
	msg := make([]byte, 0, 11+len(localNode))
	msg = append(msg, internal.HandshakeName)
	msg = binary.BigEndian.AppendUint16(msg, internal.DistVersion)
	msg = binary.BigEndian.AppendUint32(msg, ourCapabilities)
	msg = binary.BigEndian.AppendUint32(msg, challenge)
	return append(msg, localNode...)
}

func parseNameMsg(msg []byte) (string, error) {
	if len(msg) < 7 || msg[0] != internal.HandshakeName {
		return "", fmt.Errorf("malformed name message")
	}
	if err := checkVersionRange(msg[1], msg[2]); err != nil {
		return "", err
	}
	return string(msg[7:]), nil
}

func parseChallengeMsg(msg []byte) (challenge uint32, peer string, err error) {
	if len(msg) < 11 || msg[0] != internal.HandshakeName {
		return 0, "", fmt.Errorf("malformed challenge message")
	}
	if err := checkVersionRange(msg[1], msg[2]); err != nil {
		return 0, "", err
	}
	return binary.BigEndian.Uint32(msg[7:11]), string(msg[11:]), nil
}

// checkVersionRange requires the peer's advertised [low, high] version
// bytes to straddle the one distribution version we speak.
func checkVersionRange(low, high byte) error {
	if int(low) > internal.DistVersion || int(high) < internal.DistVersion {
		return fmt.Errorf("peer speaks distribution versions %d..%d, we need %d",
			low, high, internal.DistVersion)
	}
	return nil
}

// readMessage pulls bytes off the socket until the 2-byte framer
// yields a complete handshake message. One read may complete several
// messages (the responder's status and challenge often share a
// segment); the extras queue up for the following calls.
func (h *handshaker) readMessage() ([]byte, error) {
	var chunk [512]byte
	for {
		if len(h.queued) > 0 {
			msg := h.queued[0]
			h.queued = h.queued[1:]
			return msg, nil
		}
		n, err := h.conn.Read(chunk[:])
		if n > 0 {
			h.queued = append(h.queued, h.fr.push(chunk[:n])...)
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("peer closed the connection mid-handshake")
			}
			return nil, err
		}
	}
}

func (h *handshaker) writeMessage(body []byte) error {
	msg := make([]byte, 0, 2+len(body))
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(body)))
	msg = append(msg, body...)
	_, err := h.conn.Write(msg)
	return err
}
