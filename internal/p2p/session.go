package p2p

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/tapnode/internal/codec"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Close reasons.
const (
	ReasonSelfConnection   = "self connection"
	ReasonObsoleteVersion  = "obsolete protocol version"
	ReasonHandshakeTimeout = "handshake timeout"
	ReasonPingTimeout      = "ping timeout"
)

// Offense reasons.
const (
	OffenseDuplicateVersion = "duplicate version"
	OffenseEarlyMessage     = "message before handshake"
	OffenseOversizedInv     = "oversized inventory"
)

// SessionConfig describes our side of a session.
type SessionConfig struct {
	// Inbound is set when the remote peer dialed us. Outbound sessions
	// send their version first.
	Inbound bool
	// Nonce is our version nonce, shared by all sessions of a node so
	// that connections to ourselves are detected.
	Nonce uint64
	// Services advertised in the version message.
	Services wire.ServiceFlag
	// LocalAddr and RemoteAddr fill the version message address fields.
	LocalAddr  *wire.NetAddress
	RemoteAddr *wire.NetAddress
	// StartHeight returns our best height for the version message.
	StartHeight func() int32
	// NextNonce returns ping nonces. Defaults to wire.RandomUint64.
	NextNonce func() (uint64, error)

	// Loader marks the peer we sync the chain from. A loader session asks
	// for blocks with getblocks as soon as the handshake completes.
	Loader bool
	// Locator returns our block locator, tip first.
	Locator func() []types.Hash
	// HaveBlock reports whether a block is already known. Announced
	// blocks we have are not requested.
	HaveBlock func(types.Hash) bool
}

// Output is what a session asks its transport to do after one input.
type Output struct {
	// Send lists messages to write, in order.
	Send []wire.Message
	// Blocks lists decoded blocks for the node's block queue.
	Blocks []*block.Block
	// Penalty is a misbehavior score to record against the peer, with
	// Offense naming the violation.
	Penalty int
	Offense string
	// Close requests disconnection, with CloseReason set.
	Close       bool
	CloseReason string
}

func (o *Output) send(m wire.Message) {
	o.Send = append(o.Send, m)
}

func (o *Output) close(reason string) {
	o.Close = true
	o.CloseReason = reason
}

func (o *Output) offend(penalty int, offense string) {
	o.Penalty += penalty
	o.Offense = offense
}

// Session is the protocol state of one peer connection. It performs no
// I/O and reads no clock: callers pass every inbound message and the
// current time. A Session is not safe for concurrent use.
type Session struct {
	cfg     SessionConfig
	state   State
	created time.Time

	sentVersion bool
	gotVersion  bool
	gotVerAck   bool
	peer        *wire.MsgVersion
	negotiated  uint32

	lastPing  time.Time
	pingNonce uint64
	pingSent  time.Time
	latency   time.Duration

	// inflight holds blocks requested with getdata and not yet received.
	inflight map[types.Hash]struct{}
	// continueHash is the last block of a full getblocks reply. Its
	// arrival triggers the next getblocks.
	continueHash types.Hash
}

// NewSession creates a session in the handshake state.
func NewSession(cfg SessionConfig, now time.Time) *Session {
	if cfg.NextNonce == nil {
		cfg.NextNonce = wire.RandomUint64
	}
	if cfg.LocalAddr == nil {
		cfg.LocalAddr = &wire.NetAddress{Services: cfg.Services}
	}
	if cfg.RemoteAddr == nil {
		cfg.RemoteAddr = &wire.NetAddress{}
	}
	return &Session{
		cfg:        cfg,
		created:    now,
		negotiated: ProtocolVersion,
		inflight:   make(map[types.Hash]struct{}),
	}
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// PeerVersion returns the version message the peer sent, or nil.
func (s *Session) PeerVersion() *wire.MsgVersion {
	return s.peer
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() uint32 {
	return s.negotiated
}

// IsLoader reports whether the chain is synced from this peer.
func (s *Session) IsLoader() bool {
	return s.cfg.Loader
}

// InFlight returns the number of requested blocks not yet received.
func (s *Session) InFlight() int {
	return len(s.inflight)
}

// Latency returns the round trip of the last answered ping.
func (s *Session) Latency() time.Duration {
	return s.latency
}

// Start opens the session. Outbound sessions send their version.
func (s *Session) Start(now time.Time) Output {
	var out Output
	if !s.cfg.Inbound && !s.sentVersion {
		s.sendVersion(&out)
	}
	return out
}

// Handle processes one message from the peer.
func (s *Session) Handle(msg wire.Message, now time.Time) Output {
	var out Output
	if s.state == StateClosed {
		return out
	}

	switch m := msg.(type) {
	case *wire.MsgVersion:
		s.handleVersion(m, now, &out)
		return out
	case *wire.MsgVerAck:
		s.handleVerAck(now, &out)
		return out
	}

	if s.state != StateReady {
		out.offend(PenaltyProtocol, OffenseEarlyMessage)
		return out
	}

	switch m := msg.(type) {
	case *wire.MsgPing:
		out.send(wire.NewMsgPong(m.Nonce))
	case *wire.MsgPong:
		if s.pingNonce != 0 && m.Nonce == s.pingNonce {
			s.latency = now.Sub(s.pingSent)
			s.pingNonce = 0
		}
	case *wire.MsgInv:
		s.handleInv(m, &out)
	case *wire.MsgNotFound:
		for _, iv := range m.InvList {
			delete(s.inflight, types.Hash(iv.Hash))
		}
	case *wire.MsgBlock:
		blk := codec.FromWireBlock(m)
		hash := blk.Hash()
		delete(s.inflight, hash)
		out.Blocks = append(out.Blocks, blk)
		if s.cfg.Loader && !s.continueHash.IsZero() && hash == s.continueHash {
			s.continueHash = types.Hash{}
			s.requestBlocks(&out)
		}
	}
	return out
}

// handleInv requests announced blocks we neither have nor asked for.
// Transaction announcements are ignored.
func (s *Session) handleInv(m *wire.MsgInv, out *Output) {
	if len(m.InvList) > wire.MaxInvPerMsg {
		out.offend(PenaltyProtocol, OffenseOversizedInv)
		return
	}
	getData := wire.NewMsgGetData()
	var last types.Hash
	var blocks int
	for _, iv := range m.InvList {
		if iv.Type != wire.InvTypeBlock && iv.Type != wire.InvTypeWitnessBlock {
			continue
		}
		hash := types.Hash(iv.Hash)
		blocks++
		last = hash
		if _, ok := s.inflight[hash]; ok {
			continue
		}
		if s.cfg.HaveBlock != nil && s.cfg.HaveBlock(hash) {
			continue
		}
		s.inflight[hash] = struct{}{}
		_ = getData.AddInvVect(wire.NewInvVect(wire.InvTypeWitnessBlock, &iv.Hash))
	}

	// A full reply to getblocks means the peer has more to offer.
	if s.cfg.Loader && blocks == wire.MaxBlocksPerMsg {
		if _, ok := s.inflight[last]; ok {
			s.continueHash = last
		} else {
			s.requestBlocks(out)
		}
	}
	if len(getData.InvList) > 0 {
		out.send(getData)
	}
}

// requestBlocks sends getblocks with our current locator.
func (s *Session) requestBlocks(out *Output) {
	msg := wire.NewMsgGetBlocks(&chainhash.Hash{})
	msg.ProtocolVersion = s.negotiated
	if s.cfg.Locator != nil {
		for _, h := range s.cfg.Locator() {
			hash := chainhash.Hash(h)
			if err := msg.AddBlockLocatorHash(&hash); err != nil {
				break
			}
		}
	}
	out.send(msg)
}

func (s *Session) handleVersion(m *wire.MsgVersion, now time.Time, out *Output) {
	if s.gotVersion {
		out.offend(PenaltyProtocol, OffenseDuplicateVersion)
		return
	}
	if m.Nonce == s.cfg.Nonce && s.cfg.Nonce != 0 {
		s.closeWith(out, ReasonSelfConnection)
		return
	}
	if uint32(m.ProtocolVersion) < MinProtocolVersion {
		s.closeWith(out, ReasonObsoleteVersion)
		return
	}

	s.gotVersion = true
	s.peer = m
	if uint32(m.ProtocolVersion) < s.negotiated {
		s.negotiated = uint32(m.ProtocolVersion)
	}
	if !s.sentVersion {
		s.sendVersion(out)
	}
	out.send(wire.NewMsgVerAck())
	s.checkReady(now, out)
}

func (s *Session) handleVerAck(now time.Time, out *Output) {
	if !s.gotVersion {
		out.offend(PenaltyProtocol, OffenseEarlyMessage)
		return
	}
	s.gotVerAck = true
	s.checkReady(now, out)
}

// checkReady finishes the handshake once both sides have exchanged
// version and verack. A loader then starts the block sync.
func (s *Session) checkReady(now time.Time, out *Output) {
	if s.state == StateHandshake && s.gotVersion && s.gotVerAck {
		s.state = StateReady
		s.lastPing = now
		if s.cfg.Loader {
			s.requestBlocks(out)
		}
	}
}

func (s *Session) sendVersion(out *Output) {
	var height int32
	if s.cfg.StartHeight != nil {
		height = s.cfg.StartHeight()
	}
	v := wire.NewMsgVersion(s.cfg.LocalAddr, s.cfg.RemoteAddr, s.cfg.Nonce, height)
	v.Services = s.cfg.Services
	// Fixed, valid agent strings cannot fail.
	_ = v.AddUserAgent(UserAgentName, UserAgentVersion)
	s.sentVersion = true
	out.send(v)
}

// Tick advances timers. It enforces the handshake deadline, sends
// keepalive pings and closes peers that stop answering them.
func (s *Session) Tick(now time.Time) Output {
	var out Output
	switch s.state {
	case StateHandshake:
		if now.Sub(s.created) >= HandshakeTimeout {
			s.closeWith(&out, ReasonHandshakeTimeout)
		}
	case StateReady:
		if s.pingNonce != 0 {
			if now.Sub(s.pingSent) >= PingTimeout {
				s.closeWith(&out, ReasonPingTimeout)
			}
			return out
		}
		if now.Sub(s.lastPing) < PingInterval {
			return out
		}
		nonce, err := s.cfg.NextNonce()
		if err != nil || nonce == 0 {
			return out
		}
		s.pingNonce = nonce
		s.pingSent = now
		s.lastPing = now
		out.send(wire.NewMsgPing(nonce))
	}
	return out
}

// Close moves the session to the closed state. Later input is ignored.
func (s *Session) Close() {
	s.state = StateClosed
}

func (s *Session) closeWith(out *Output, reason string) {
	s.state = StateClosed
	out.close(reason)
}
