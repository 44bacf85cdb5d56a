package tinch

import (
	"fmt"
	"log"
)

// A NodeLogger is the logging interface used by the node runtime.
//
// The runtime uses Info for situations that are not problems:
//  * Publishing the listener port and registering with the port
//    mapper daemon.
//  * Peer connections established and closed in an orderly way.
//
// The runtime uses Warn for situations that are problematic but
// "expected" and may resolve themselves without direct action:
//  * Lost connections to peer nodes.
//  * Incoming connections that fail their handshake, including those
//    from peers whose distribution versions do not include ours.
//  * Messages that could not be parsed (the connection carries on).
//
// The runtime uses Error for situations that will most likely not
// resolve themselves without human intervention:
//  * Cookie digest mismatches (the peers disagree on the secret).
//  * Port mapper registration refusals.
//
// A version mismatch on an outgoing connection is not logged; it is
// returned to the caller as a *HandshakeError.
//
// You can wrap a standard *log.Logger with the provided WrapLogger.
type NodeLogger interface {
	// Used in debugging, should ship commented out.
	Trace(interface{}, ...interface{})

	Info(interface{}, ...interface{})
	Warn(interface{}, ...interface{})
	Error(interface{}, ...interface{})
}

// WrapLogger takes a standard *log.Logger and returns a NodeLogger
// that uses that logger.
func WrapLogger(l *log.Logger) NodeLogger {
	return wrapLogger{l}
}

type wrapLogger struct {
	logger *log.Logger
}

func (wl wrapLogger) Trace(s interface{}, vals ...interface{}) {
	wl.logger.Output(2, fmt.Sprintf("[TRAC] tinch: "+fmt.Sprintf("%v", s), vals...))
}

func (wl wrapLogger) Info(s interface{}, vals ...interface{}) {
	wl.logger.Output(2, fmt.Sprintf("[INFO] tinch: "+fmt.Sprintf("%v", s), vals...))
}

func (wl wrapLogger) Warn(s interface{}, vals ...interface{}) {
	wl.logger.Output(2, fmt.Sprintf("[WARN] tinch: "+fmt.Sprintf("%v", s), vals...))
}

func (wl wrapLogger) Error(s interface{}, vals ...interface{}) {
	wl.logger.Output(2, fmt.Sprintf("[ERR] tinch: "+fmt.Sprintf("%v", s), vals...))
}

// StdLogger is a NodeLogger that logs through the standard logging
// package.
var StdLogger = stdLogger{}

type stdLogger struct{}

func (sl stdLogger) Trace(s interface{}, vals ...interface{}) {
	log.Printf("[TRAC] tinch: "+fmt.Sprintf("%v", s), vals...)
}
func (sl stdLogger) Info(s interface{}, vals ...interface{}) {
	log.Printf("[INFO] tinch: "+fmt.Sprintf("%v", s), vals...)
}
func (sl stdLogger) Warn(s interface{}, vals ...interface{}) {
	log.Printf("[WARN] tinch: "+fmt.Sprintf("%v", s), vals...)
}
func (sl stdLogger) Error(s interface{}, vals ...interface{}) {
	log.Printf("[ERR] tinch: "+fmt.Sprintf("%v", s), vals...)
}

// NullLogger implements NodeLogger, and throws all messages away.
var NullLogger = nullLogger{}

type nullLogger struct{}

func (nl nullLogger) Trace(s interface{}, vals ...interface{}) {}
func (nl nullLogger) Info(s interface{}, vals ...interface{})  {}
func (nl nullLogger) Warn(s interface{}, vals ...interface{})  {}
func (nl nullLogger) Error(s interface{}, vals ...interface{}) {}
