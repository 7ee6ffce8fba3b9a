package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// HeaderSize is the serialized header length.
const HeaderSize = 80

// ErrHeaderSize is returned when decoding a header of the wrong length.
var ErrHeaderSize = errors.New("header must be 80 bytes")

// Header contains block metadata.
type Header struct {
	Version    int32      `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint32     `json:"timestamp"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
}

// Serialize returns the 80-byte wire form:
// version(4) | prev_hash(32) | merkle_root(32) | time(4) | bits(4) | nonce(4).
func (h *Header) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Version))
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// DecodeHeader parses the 80-byte wire form.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("%w: got %d", ErrHeaderSize, len(b))
	}
	h := &Header{
		Version:   int32(binary.LittleEndian.Uint32(b[0:4])),
		Timestamp: binary.LittleEndian.Uint32(b[68:72]),
		Bits:      binary.LittleEndian.Uint32(b[72:76]),
		Nonce:     binary.LittleEndian.Uint32(b[76:80]),
	}
	copy(h.PrevHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	return h, nil
}

// Hash computes the block hash: double SHA-256 of the serialized header.
func (h *Header) Hash() types.Hash {
	return crypto.DoubleSha256(h.Serialize())
}
