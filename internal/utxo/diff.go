package utxo

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/types"
)

// CoinEntry pairs an outpoint with its coin.
type CoinEntry struct {
	Outpoint types.Outpoint
	Coin     *Coin
}

// Diff is the net effect of a block on the coin set. Spent carries the
// removed coins so the same record serves as undo data.
type Diff struct {
	Added []CoinEntry
	Spent []CoinEntry
}

// IsEmpty reports whether the diff changes nothing.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Spent) == 0
}

// Invert returns the diff that undoes d.
func (d *Diff) Invert() *Diff {
	return &Diff{Added: d.Spent, Spent: d.Added}
}

func (d *Diff) sort() {
	sortEntries(d.Added)
	sortEntries(d.Spent)
}

// Serialize encodes the diff as two length-prefixed lists of
// outpoint key | coin.
func (d *Diff) Serialize() []byte {
	var buf []byte
	for _, list := range [][]CoinEntry{d.Added, d.Spent} {
		buf = binary.AppendUvarint(buf, uint64(len(list)))
		for _, e := range list {
			buf = append(buf, outpointKey(e.Outpoint)...)
			buf = e.Coin.AppendTo(buf)
		}
	}
	return buf
}

// DecodeDiff parses a diff written by Serialize.
func DecodeDiff(b []byte) (*Diff, error) {
	d := &Diff{}
	for _, list := range []*[]CoinEntry{&d.Added, &d.Spent} {
		n, sz := binary.Uvarint(b)
		if sz <= 0 {
			return nil, fmt.Errorf("%w: diff count", ErrBadEncoding)
		}
		b = b[sz:]
		keyLen := types.HashSize + 4
		for i := uint64(0); i < n; i++ {
			if len(b) < keyLen {
				return nil, fmt.Errorf("%w: truncated diff", ErrBadEncoding)
			}
			op, err := outpointFromKey(b[:keyLen])
			if err != nil {
				return nil, err
			}
			c, rest, err := DecodeCoin(b[keyLen:])
			if err != nil {
				return nil, err
			}
			*list = append(*list, CoinEntry{Outpoint: op, Coin: c})
			b = rest
		}
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadEncoding, len(b))
	}
	return d, nil
}
