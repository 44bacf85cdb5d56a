/*

Package internal holds the distribution protocol's fixed constants,
which both the node runtime and its tests need but which have no place
in the public API.

*/
package internal

// Envelope bytes for post-handshake framed messages.
const (
	PassThrough  = 112
	VersionMagic = 131
)

// Distributed-operation tags: the first element of every control
// tuple.
const (
	OpLink    = 1
	OpSend    = 2
	OpExit    = 3
	OpUnlink  = 4
	OpRegSend = 6
	OpExit2   = 8
)

// Handshake message discriminators.
const (
	HandshakeName           = 'n'
	HandshakeStatus         = 's'
	HandshakeChallengeReply = 'r'
	HandshakeChallengeAck   = 'a'
)

// Capability flags advertised in the handshake name message.
const (
	FlagExtendedReferences = 0x4
	FlagExtendedPidsPorts  = 0x100
	FlagBitBinaries        = 0x400
)

// DistVersion is the only distribution protocol version this library
// speaks; the peer's advertised range must straddle it.
const DistVersion = 5

// DigestLength is the size of the MD5 challenge digest.
const DigestLength = 16
