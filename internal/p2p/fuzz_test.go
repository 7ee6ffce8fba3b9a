package p2p

import (
	"bytes"
	"testing"

	"github.com/Klingon-tech/tapnode/internal/codec"
	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/btcsuite/btcd/wire"
)

func wireBytes(f *testing.F, m wire.Message) []byte {
	f.Helper()
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, m, ProtocolVersion, wire.TestNet); err != nil {
		f.Fatalf("WriteMessage: %v", err)
	}
	return buf.Bytes()
}

// FuzzSessionHandle feeds arbitrary framed messages to a ready session.
func FuzzSessionHandle(f *testing.F) {
	f.Add(wireBytes(f, wire.NewMsgPing(1)))
	f.Add(wireBytes(f, wire.NewMsgPong(1)))
	f.Add(wireBytes(f, wire.NewMsgVerAck()))
	f.Add(wireBytes(f, peerVersion(int32(ProtocolVersion), 5)))
	f.Add(wireBytes(f, codec.ToWireBlock(consensus.RegTestParams().Genesis)))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, _, err := wire.ReadMessage(bytes.NewReader(data), ProtocolVersion, wire.TestNet)
		if err != nil {
			return
		}
		s := readySession(t)
		out := s.Handle(msg, t0)
		for _, blk := range out.Blocks {
			blk.Hash()
		}
	})
}
