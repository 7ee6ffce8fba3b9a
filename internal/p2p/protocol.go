// Package p2p implements the peer session protocol as a pure state
// machine over btcd wire messages, together with peer misbehavior
// scoring and persisted bans. Transports feed decoded messages in and
// write the returned messages out.
package p2p

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// Protocol constants.
const (
	// ProtocolVersion is the version advertised in our version message.
	ProtocolVersion = wire.ProtocolVersion

	// MinProtocolVersion is the lowest peer version we talk to. It is the
	// first version with pong replies.
	MinProtocolVersion = wire.BIP0031Version + 1

	// UserAgentName and UserAgentVersion form the BIP14 user agent.
	UserAgentName    = "tapnode"
	UserAgentVersion = "0.1.0"
)

// Session timing.
const (
	HandshakeTimeout = 30 * time.Second
	PingInterval     = 2 * time.Minute
	PingTimeout      = 20 * time.Minute
)

// State is the protocol state of a session.
type State int

// Session states.
const (
	StateHandshake State = iota
	StateReady
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
