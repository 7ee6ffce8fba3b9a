// Package utxo holds the coin set: the durable store, the per-validation
// CoinView overlay and the diffs that move state between them.
package utxo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Errors.
var (
	ErrNotFound    = errors.New("coin not found")
	ErrCoinExists  = errors.New("coin already exists")
	ErrBadEncoding = errors.New("malformed coin encoding")
)

// Coin is an unspent output together with the context it was created in.
type Coin struct {
	Value    int64  `json:"value"`
	Script   []byte `json:"script"`
	Height   uint32 `json:"height"`
	Coinbase bool   `json:"coinbase"`
}

// NewCoin builds a coin for out created at height.
func NewCoin(out tx.Output, height uint32, coinbase bool) *Coin {
	return &Coin{
		Value:    out.Value,
		Script:   append([]byte(nil), out.Script...),
		Height:   height,
		Coinbase: coinbase,
	}
}

// Output returns the coin as a transaction output.
func (c *Coin) Output() tx.Output {
	return tx.Output{Value: c.Value, Script: c.Script}
}

// Clone returns a deep copy.
func (c *Coin) Clone() *Coin {
	cp := *c
	cp.Script = append([]byte(nil), c.Script...)
	return &cp
}

// Equal reports whether two coins are identical.
func (c *Coin) Equal(o *Coin) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Value == o.Value && c.Height == o.Height && c.Coinbase == o.Coinbase &&
		string(c.Script) == string(o.Script)
}

// IsMature reports whether a coinbase coin may be spent at height.
func (c *Coin) IsMature(height, maturity uint32) bool {
	if !c.Coinbase {
		return true
	}
	return height >= c.Height && height-c.Height >= maturity
}

// AppendTo appends the binary encoding:
// height(4 LE) | flags(1) | value(8 LE) | uvarint(len) | script.
func (c *Coin) AppendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, c.Height)
	var flags byte
	if c.Coinbase {
		flags |= 1
	}
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Value))
	buf = binary.AppendUvarint(buf, uint64(len(c.Script)))
	return append(buf, c.Script...)
}

// Serialize returns the binary encoding of the coin.
func (c *Coin) Serialize() []byte {
	return c.AppendTo(make([]byte, 0, 13+binary.MaxVarintLen64+len(c.Script)))
}

// DecodeCoin parses one coin from b and returns the remaining bytes.
func DecodeCoin(b []byte) (*Coin, []byte, error) {
	if len(b) < 13 {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBadEncoding, len(b))
	}
	c := &Coin{
		Height:   binary.LittleEndian.Uint32(b[0:4]),
		Coinbase: b[4]&1 != 0,
		Value:    int64(binary.LittleEndian.Uint64(b[5:13])),
	}
	b = b[13:]
	n, sz := binary.Uvarint(b)
	if sz <= 0 || n > uint64(len(b)-sz) {
		return nil, nil, fmt.Errorf("%w: bad script length", ErrBadEncoding)
	}
	b = b[sz:]
	c.Script = append([]byte(nil), b[:n]...)
	return c, b[n:], nil
}

// Source is the read-only coin lookup a View falls through to.
// Get returns ErrNotFound for an absent outpoint.
type Source interface {
	Get(op types.Outpoint) (*Coin, error)
}

// outpointKey encodes txid(32) | index(4 BE) so keys sort by outpoint.
func outpointKey(op types.Outpoint) []byte {
	key := make([]byte, types.HashSize+4)
	copy(key, op.TxID[:])
	binary.BigEndian.PutUint32(key[types.HashSize:], op.Index)
	return key
}

func outpointFromKey(key []byte) (types.Outpoint, error) {
	var op types.Outpoint
	if len(key) != types.HashSize+4 {
		return op, fmt.Errorf("%w: key length %d", ErrBadEncoding, len(key))
	}
	copy(op.TxID[:], key[:types.HashSize])
	op.Index = binary.BigEndian.Uint32(key[types.HashSize:])
	return op, nil
}
